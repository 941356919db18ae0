package order

import (
	"context"
	"fmt"
	"sync"

	"smartflow-perp/internal/constants"
	"smartflow-perp/internal/utils"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

// Venue is the order surface of the exchange
type Venue interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty, qtyStep float64, reduceOnly bool) (string, error)
	PlaceStopOrder(ctx context.Context, symbol, side string, qty, qtyStep, trigger, tick float64, direction int) (string, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// InstrumentSource resolves trading constraints for symbols the executor
// has not seen yet, e.g. positions restored from a snapshot
type InstrumentSource interface {
	Instrument(ctx context.Context, symbol string) (models.InstrumentInfo, error)
}

// Executor places entries, exits and protective stops. In dry-run mode it
// only logs what it would send.
type Executor struct {
	Venue       Venue
	Instruments InstrumentSource
	DryRun      bool
	Logger      logging.LoggerInterface

	mu     sync.Mutex
	instrs map[string]models.InstrumentInfo
}

// NewExecutor creates a new order executor
func NewExecutor(venue Venue, instruments InstrumentSource, dryRun bool, logger logging.LoggerInterface) *Executor {
	return &Executor{
		Venue:       venue,
		Instruments: instruments,
		DryRun:      dryRun,
		Logger:      logger,
		instrs:      make(map[string]models.InstrumentInfo),
	}
}

// EntrySide returns the order side that opens dir
func EntrySide(dir models.Direction) string {
	if dir == models.Long {
		return constants.Buy
	}
	return constants.Sell
}

// ExitSide returns the order side that reduces dir
func ExitSide(dir models.Direction) string {
	if dir == models.Long {
		return constants.Sell
	}
	return constants.Buy
}

// StopTrigger is the price crossing direction that fires a stop for dir
func StopTrigger(dir models.Direction) int {
	if dir == models.Long {
		return constants.TriggerFall
	}
	return constants.TriggerRise
}

// FormatQty formats quantity according to instrument step
func FormatQty(qty, step float64) string {
	return utils.FormatToStep(utils.FloorToStep(qty, step), step)
}

func (e *Executor) remember(symbol string, instr models.InstrumentInfo) {
	e.mu.Lock()
	e.instrs[symbol] = instr
	e.mu.Unlock()
}

func (e *Executor) instrument(ctx context.Context, symbol string) models.InstrumentInfo {
	e.mu.Lock()
	instr, ok := e.instrs[symbol]
	e.mu.Unlock()
	if ok || e.Instruments == nil {
		return instr
	}
	instr, err := e.Instruments.Instrument(ctx, symbol)
	if err != nil {
		e.Logger.Warning("instrument lookup %s failed, sending unrounded qty: %v", symbol, err)
		return models.InstrumentInfo{}
	}
	e.remember(symbol, instr)
	return instr
}

// Open sets leverage, sends the market entry and places the protective stop.
// If the stop cannot be placed the entry is flattened and an error returned.
func (e *Executor) Open(ctx context.Context, sig models.TradeSignal, instr models.InstrumentInfo) (models.OrderResult, error) {
	e.remember(sig.Symbol, instr)
	qty := utils.FloorToStep(sig.PositionSize, instr.QtyStep)
	if qty <= 0 {
		return models.OrderResult{}, fmt.Errorf("entry %s: qty %.8f rounds to zero", sig.Symbol, sig.PositionSize)
	}
	res := models.OrderResult{FillPrice: sig.EntryPrice, Qty: qty}

	if e.DryRun {
		e.Logger.Info("[dry-run] %s %s qty=%s lev=%dx entry=%.4f stop=%.4f", EntrySide(sig.Direction), sig.Symbol,
			FormatQty(qty, instr.QtyStep), sig.Leverage, sig.EntryPrice, sig.StopLoss)
		res.OrderID = "dry-run"
		return res, nil
	}

	if err := e.Venue.SetLeverage(ctx, sig.Symbol, sig.Leverage); err != nil {
		return models.OrderResult{}, fmt.Errorf("set leverage %s: %w", sig.Symbol, err)
	}
	id, err := e.Venue.PlaceMarketOrder(ctx, sig.Symbol, EntrySide(sig.Direction), qty, instr.QtyStep, false)
	if err != nil {
		return models.OrderResult{}, fmt.Errorf("entry %s: %w", sig.Symbol, err)
	}
	res.OrderID = id

	_, err = e.Venue.PlaceStopOrder(ctx, sig.Symbol, ExitSide(sig.Direction), qty, instr.QtyStep, sig.StopLoss, instr.TickSize, StopTrigger(sig.Direction))
	if err != nil {
		e.Logger.Error("protective stop for %s failed, flattening: %v", sig.Symbol, err)
		if _, ferr := e.Venue.PlaceMarketOrder(ctx, sig.Symbol, ExitSide(sig.Direction), qty, instr.QtyStep, true); ferr != nil {
			e.Logger.Error("flatten %s failed: %v", sig.Symbol, ferr)
		}
		return models.OrderResult{}, fmt.Errorf("protective stop %s: %w", sig.Symbol, err)
	}
	return res, nil
}

// Close sends a reduce-only market order for qty of pos and returns the
// quantity actually sent after step rounding. A close of the full size
// cancels resting orders first.
func (e *Executor) Close(ctx context.Context, pos models.Position, qty float64) (float64, error) {
	instr := e.instrument(ctx, pos.Symbol)
	full := qty >= pos.Size
	if full {
		qty = pos.Size
	} else {
		qty = utils.FloorToStep(qty, instr.QtyStep)
	}
	if qty <= 0 {
		return 0, nil
	}

	if e.DryRun {
		e.Logger.Info("[dry-run] close %s %s qty=%s", ExitSide(pos.Direction), pos.Symbol, FormatQty(qty, instr.QtyStep))
		return qty, nil
	}

	if full {
		if err := e.Venue.CancelAllOrders(ctx, pos.Symbol); err != nil {
			e.Logger.Warning("cancel orders %s: %v", pos.Symbol, err)
		}
	}
	if _, err := e.Venue.PlaceMarketOrder(ctx, pos.Symbol, ExitSide(pos.Direction), qty, instr.QtyStep, true); err != nil {
		return 0, fmt.Errorf("close %s: %w", pos.Symbol, err)
	}
	return qty, nil
}

// ReplaceStop cancels resting orders and re-places the stop at pos.StopLoss
// for the remaining size
func (e *Executor) ReplaceStop(ctx context.Context, pos models.Position) error {
	instr := e.instrument(ctx, pos.Symbol)
	if e.DryRun {
		e.Logger.Info("[dry-run] move stop %s to %.4f qty=%s", pos.Symbol, pos.StopLoss, FormatQty(pos.Size, instr.QtyStep))
		return nil
	}
	if err := e.Venue.CancelAllOrders(ctx, pos.Symbol); err != nil {
		return fmt.Errorf("cancel orders %s: %w", pos.Symbol, err)
	}
	if _, err := e.Venue.PlaceStopOrder(ctx, pos.Symbol, ExitSide(pos.Direction), pos.Size, instr.QtyStep, pos.StopLoss, instr.TickSize, StopTrigger(pos.Direction)); err != nil {
		return fmt.Errorf("replace stop %s: %w", pos.Symbol, err)
	}
	return nil
}
