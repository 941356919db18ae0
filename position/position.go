package position

import (
	"context"
	"fmt"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/logging"
	"smartflow-perp/models"
	"smartflow-perp/risk"
	"smartflow-perp/strategy"
)

// Venue provides the mark used to evaluate exits
type Venue interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Orders closes positions and maintains the venue stop; *order.Executor
// implements it
type Orders interface {
	Close(ctx context.Context, pos models.Position, qty float64) (float64, error)
	ReplaceStop(ctx context.Context, pos models.Position) error
}

// FundingSource supplies funding rates for the early-exit check
type FundingSource interface {
	FundingRate(ctx context.Context, symbol string) (float64, error)
}

// Sink receives realized trade events and alerts
type Sink interface {
	TradeEvent(ev models.TradeEvent)
	Alert(a models.Alert)
}

// Monitor walks open positions each cycle and applies early exit, stop,
// partial take-profit, trailing and final take-profit rules
type Monitor struct {
	Risk    *risk.Manager
	Venue   Venue
	Orders  Orders
	Flow    strategy.FlowSource
	Funding FundingSource
	Sink    Sink
	Logger  logging.LoggerInterface
	Now     func() time.Time

	ExtremeFunding float64
	CallTimeout    time.Duration

	equity float64
}

// NewMonitor creates a new position monitor
func NewMonitor(cfg *config.Config, rm *risk.Manager, venue Venue, orders Orders, flow strategy.FlowSource,
	funding FundingSource, sink Sink, logger logging.LoggerInterface) *Monitor {
	return &Monitor{
		Risk:           rm,
		Venue:          venue,
		Orders:         orders,
		Flow:           flow,
		Funding:        funding,
		Sink:           sink,
		Logger:         logger,
		Now:            time.Now,
		ExtremeFunding: cfg.ExtremeFundingRate,
		CallTimeout:    cfg.CallTimeout,
		equity:         rm.Equity(),
	}
}

func (m *Monitor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.CallTimeout)
}

// Check evaluates every open position against the current price and
// returns equity adjusted by what was realized
func (m *Monitor) Check(ctx context.Context, equity float64) float64 {
	m.equity = equity
	for _, pos := range m.Risk.Positions() {
		if ctx.Err() != nil {
			break
		}
		m.checkSafe(ctx, pos)
	}
	return m.equity
}

func (m *Monitor) checkSafe(ctx context.Context, pos models.Position) {
	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error("panic managing %s: %v", pos.Symbol, r)
		}
	}()
	m.check(ctx, pos)
}

func (m *Monitor) check(ctx context.Context, pos models.Position) {
	cctx, cancel := m.callCtx(ctx)
	price, err := m.Venue.Price(cctx, pos.Symbol)
	cancel()
	if err != nil {
		m.Logger.Warning("price for %s unavailable, skipping: %v", pos.Symbol, err)
		return
	}

	if exit, detail := m.earlyExit(ctx, pos); exit {
		m.Logger.Warning("early exit %s: %s", pos.Symbol, detail)
		if m.closeAll(ctx, pos, price, models.ReasonEarlyExit, detail) {
			m.alert(models.AlertEarlyExit, pos.Symbol, fmt.Sprintf("early exit %s %s @ %.4f: %s", pos.Direction, pos.Symbol, price, detail))
		}
		return
	}

	if pos.StopHit(price) {
		if m.closeAll(ctx, pos, price, models.ReasonStopLoss, fmt.Sprintf("stop %.4f", pos.StopLoss)) {
			m.alert(models.AlertStopHit, pos.Symbol, fmt.Sprintf("stop hit %s %s @ %.4f", pos.Direction, pos.Symbol, price))
		}
		return
	}

	if !pos.PartialTaken && pos.Reached(price, pos.TakeProfit1) {
		m.takeFirstTarget(ctx, pos, price)
		return
	}

	if pos.PartialTaken && pos.TrailDistance > 0 {
		pos = m.trail(ctx, pos, price)
	}

	if pos.PartialTaken && pos.Reached(price, pos.TakeProfit2) {
		if m.closeAll(ctx, pos, price, models.ReasonTakeProfit, "tp2") {
			m.alert(models.AlertTPReached, pos.Symbol, fmt.Sprintf("TP2 reached %s %s @ %.4f", pos.Direction, pos.Symbol, price))
		}
	}
}

func (m *Monitor) earlyExit(ctx context.Context, pos models.Position) (bool, string) {
	var flow *models.FlowSignal
	if m.Flow != nil {
		cctx, cancel := m.callCtx(ctx)
		if sig, ok := m.Flow.Signal(cctx, pos.Symbol); ok {
			flow = &sig
		}
		cancel()
	}
	var funding float64
	if m.Funding != nil {
		cctx, cancel := m.callCtx(ctx)
		rate, err := m.Funding.FundingRate(cctx, pos.Symbol)
		cancel()
		if err != nil {
			m.Logger.Debug("funding for %s unavailable: %v", pos.Symbol, err)
		} else {
			funding = rate
		}
	}
	return strategy.CheckEarlyExit(pos, flow, funding, m.ExtremeFunding)
}

func (m *Monitor) takeFirstTarget(ctx context.Context, pos models.Position, price float64) {
	if pos.TP1Fraction >= 1 {
		if m.closeAll(ctx, pos, price, models.ReasonTakeProfit, "tp1") {
			m.alert(models.AlertTPReached, pos.Symbol, fmt.Sprintf("TP1 reached %s %s @ %.4f", pos.Direction, pos.Symbol, price))
		}
		return
	}

	cctx, cancel := m.callCtx(ctx)
	closed, err := m.Orders.Close(cctx, pos, pos.Size*pos.TP1Fraction)
	cancel()
	if err != nil {
		m.Logger.Error("partial close %s failed: %v", pos.Symbol, err)
		return
	}
	remaining := pos.Size - closed
	if closed <= 0 || remaining <= 0 {
		// fraction rounded to nothing or to everything
		ok := true
		if closed <= 0 {
			ok = m.closeAll(ctx, pos, price, models.ReasonTakeProfit, "tp1")
		} else {
			m.finish(pos, price, closed, models.ReasonTakeProfit, "tp1")
		}
		if ok {
			m.alert(models.AlertTPReached, pos.Symbol, fmt.Sprintf("TP1 reached %s %s @ %.4f", pos.Direction, pos.Symbol, price))
		}
		return
	}

	stop := tighter(pos.Direction, pos.StopLoss, pos.BreakevenStop)
	taken := true
	updated, err := m.Risk.UpdatePosition(pos.Symbol, models.PositionUpdate{Size: &remaining, StopLoss: &stop, PartialTaken: &taken})
	if err != nil {
		m.Logger.Error("update %s after partial: %v", pos.Symbol, err)
		return
	}

	cctx, cancel = m.callCtx(ctx)
	if err := m.Orders.ReplaceStop(cctx, updated); err != nil {
		m.Logger.Error("move stop to breakeven for %s: %v", pos.Symbol, err)
	}
	cancel()

	pnl := pos.PnL(price, closed)
	m.equity += pnl
	m.Risk.RecordResult(pos.Symbol, pnl, m.equity, true)
	m.emit(pos, price, closed, remaining, pnl, models.ReasonPartialTP, "tp1", false)
	m.alert(models.AlertTPReached, pos.Symbol, fmt.Sprintf("TP1 reached %s %s @ %.4f, closed %.6f, stop -> %.4f", pos.Direction, pos.Symbol, price, closed, stop))
}

func (m *Monitor) trail(ctx context.Context, pos models.Position, price float64) models.Position {
	candidate := price - pos.TrailDistance
	if pos.Direction == models.Short {
		candidate = price + pos.TrailDistance
	}
	stop := tighter(pos.Direction, pos.StopLoss, candidate)
	if stop == pos.StopLoss {
		return pos
	}
	updated, err := m.Risk.UpdatePosition(pos.Symbol, models.PositionUpdate{StopLoss: &stop})
	if err != nil {
		m.Logger.Error("trail %s: %v", pos.Symbol, err)
		return pos
	}
	m.Logger.Info("trail %s stop %.4f -> %.4f", pos.Symbol, pos.StopLoss, stop)
	cctx, cancel := m.callCtx(ctx)
	if err := m.Orders.ReplaceStop(cctx, updated); err != nil {
		m.Logger.Error("replace trailing stop %s: %v", pos.Symbol, err)
	}
	cancel()
	return updated
}

// closeAll sends the close for the full remainder and books it. It
// reports false when the order failed and nothing was mutated.
func (m *Monitor) closeAll(ctx context.Context, pos models.Position, price float64, reason models.CloseReason, detail string) bool {
	cctx, cancel := m.callCtx(ctx)
	closed, err := m.Orders.Close(cctx, pos, pos.Size)
	cancel()
	if err != nil {
		m.Logger.Error("close %s (%s) failed: %v", pos.Symbol, reason, err)
		return false
	}
	if closed <= 0 {
		closed = pos.Size
	}
	m.finish(pos, price, closed, reason, detail)
	return true
}

func (m *Monitor) finish(pos models.Position, price, qty float64, reason models.CloseReason, detail string) {
	if _, err := m.Risk.ClosePosition(pos.Symbol); err != nil {
		m.Logger.Error("close %s in registry: %v", pos.Symbol, err)
		return
	}
	pnl := pos.PnL(price, qty)
	m.equity += pnl
	m.Risk.RecordResult(pos.Symbol, pnl, m.equity, false)
	m.emit(pos, price, qty, 0, pnl, reason, detail, true)
}

func (m *Monitor) emit(pos models.Position, price, qty, remaining, pnl float64, reason models.CloseReason, detail string, final bool) {
	m.Logger.Info("%s %s %s qty=%.6f @ %.4f pnl=%.4f", reason, pos.Direction, pos.Symbol, qty, price, pnl)
	if m.Sink == nil {
		return
	}
	m.Sink.TradeEvent(models.TradeEvent{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Reason:     reason,
		Detail:     detail,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Qty:        qty,
		Remaining:  remaining,
		PnL:        pnl,
		Final:      final,
		Time:       m.Now(),
	})
}

func (m *Monitor) alert(kind models.AlertType, symbol, msg string) {
	if m.Sink == nil {
		return
	}
	m.Sink.Alert(models.Alert{Time: m.Now(), Type: kind, Symbol: symbol, Message: msg})
}

// Settle books a position the venue already closed, e.g. when the resting
// stop fired between cycles. No order is sent.
func (m *Monitor) Settle(pos models.Position, price float64, reason models.CloseReason, detail string) {
	m.finish(pos, price, pos.Size, reason, detail)
	if reason == models.ReasonStopLoss {
		m.alert(models.AlertStopHit, pos.Symbol, fmt.Sprintf("stop filled on venue %s %s @ %.4f", pos.Direction, pos.Symbol, price))
	}
}

// CloseManual closes the whole position on symbol at the current price
func (m *Monitor) CloseManual(ctx context.Context, symbol string) error {
	pos, ok := m.Risk.Position(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", risk.ErrNoPosition, symbol)
	}
	cctx, cancel := m.callCtx(ctx)
	price, err := m.Venue.Price(cctx, symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("price %s: %w", symbol, err)
	}
	if !m.closeAll(ctx, pos, price, models.ReasonManual, "manual") {
		return fmt.Errorf("manual close %s failed", symbol)
	}
	return nil
}

// tighter returns whichever stop is closer to price for dir
func tighter(dir models.Direction, current, candidate float64) float64 {
	if candidate <= 0 {
		return current
	}
	if current <= 0 {
		return candidate
	}
	if dir == models.Long {
		if candidate > current {
			return candidate
		}
		return current
	}
	if candidate < current {
		return candidate
	}
	return current
}
