package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/journal"
	"smartflow-perp/logging"
	"smartflow-perp/models"
	"smartflow-perp/risk"
	"smartflow-perp/strategy"
)

// Account is the venue account surface read each cycle
type Account interface {
	Equity(ctx context.Context) (float64, error)
	OpenPositions(ctx context.Context) ([]models.VenuePosition, error)
	Instrument(ctx context.Context, symbol string) (models.InstrumentInfo, error)
}

// Prices provides last traded prices
type Prices interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Signals produces sized entry signals
type Signals interface {
	Generate(ctx context.Context, symbol string, equity float64, instr models.InstrumentInfo) (*models.TradeSignal, error)
}

// Entries places entry orders
type Entries interface {
	Open(ctx context.Context, sig models.TradeSignal, instr models.InstrumentInfo) (models.OrderResult, error)
}

// Exits manages open positions
type Exits interface {
	Check(ctx context.Context, equity float64) float64
	Settle(pos models.Position, price float64, reason models.CloseReason, detail string)
	CloseManual(ctx context.Context, symbol string) error
}

// Recorder receives cycle-level metrics
type Recorder interface {
	Cycle(d time.Duration, err error)
	Signal(sig models.TradeSignal)
	Risk(st models.RiskStats)
}

// Status is the /status body
type Status struct {
	Time          time.Time         `json:"time"`
	Preset        string            `json:"preset"`
	DryRun        bool              `json:"dryRun"`
	Symbols       []string          `json:"symbols"`
	Equity        float64           `json:"equity"`
	Risk          models.RiskStats  `json:"risk"`
	Positions     []models.Position `json:"positions"`
	Cycles        int               `json:"cycles"`
	LastCycle     time.Time         `json:"lastCycle,omitempty"`
	LastCycleTook string            `json:"lastCycleTook,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
}

// Runner drives the trading cycle
type Runner struct {
	Config  *config.Config
	Risk    *risk.Manager
	Account Account
	Prices  Prices
	Signals Signals
	Orders  Entries
	Monitor Exits
	Flow    strategy.FlowSource
	Sink    journal.Sink
	Metrics Recorder
	Logger  logging.LoggerInterface
	Now     func() time.Time

	instrs      map[string]models.InstrumentInfo
	haltAlerted bool
	// turn is held by a cycle or a manual close, never both
	turn chan struct{}

	mu        sync.RWMutex
	equity    float64
	cycles    int
	lastCycle time.Time
	lastTook  time.Duration
	lastErr   error
}

// New creates a runner; Sink and Metrics may be nil
func New(cfg *config.Config, rm *risk.Manager, account Account, prices Prices, signals Signals, orders Entries,
	monitor Exits, flow strategy.FlowSource, sink journal.Sink, metrics Recorder, logger logging.LoggerInterface) *Runner {
	if sink == nil {
		sink = journal.Nop{}
	}
	halted, _ := rm.Halted()
	return &Runner{
		Config:  cfg,
		Risk:    rm,
		Account: account,
		Prices:  prices,
		Signals: signals,
		Orders:  orders,
		Monitor: monitor,
		Flow:    flow,
		Sink:    sink,
		Metrics: metrics,
		Logger:  logger,
		Now:     time.Now,
		instrs:  make(map[string]models.InstrumentInfo),
		equity:  rm.Equity(),

		haltAlerted: halted,
		turn:        make(chan struct{}, 1),
	}
}

func (r *Runner) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.Config.CallTimeout)
}

// Run loops until ctx is cancelled, sleeping LoopInterval after a good
// cycle and ErrorBackoff after a failed one
func (r *Runner) Run(ctx context.Context) {
	r.Logger.Info("Trading loop started: %d symbols, every %s", len(r.Config.Symbols), r.Config.LoopInterval)
	for {
		err := r.Cycle(ctx)
		wait := r.Config.LoopInterval
		if err != nil && !errors.Is(err, context.Canceled) {
			r.Logger.Error("Cycle failed: %v; backing off %s", err, r.Config.ErrorBackoff)
			wait = r.Config.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			r.Logger.Info("Trading loop stopped")
			return
		case <-time.After(wait):
		}
	}
}

// Cycle runs one pass: equity, breakers, exits, entries, stats
func (r *Runner) Cycle(ctx context.Context) (err error) {
	select {
	case r.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.turn }()

	start := r.Now()
	defer func() {
		took := r.Now().Sub(start)
		r.mu.Lock()
		r.cycles++
		r.lastCycle = start
		r.lastTook = took
		r.lastErr = err
		r.mu.Unlock()
		if r.Metrics != nil {
			r.Metrics.Cycle(took, err)
		}
	}()

	equity, venuePositions, err := r.account(ctx)
	if err != nil {
		return err
	}
	ok, reason := r.Risk.CheckCircuitBreakers(equity)
	r.haltAlert()

	if !r.Config.DryRun {
		equity = r.reconcile(ctx, venuePositions, equity)
	}
	equity = r.Monitor.Check(ctx, equity)
	if ok {
		// realized losses above may have tripped a breaker
		ok, reason = r.Risk.CheckCircuitBreakers(equity)
	}
	r.haltAlert()
	if !ok {
		r.Logger.Warning("Trading halted: %s; managing exits only", reason)
	}

	for _, symbol := range r.Config.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.symbolSafe(ctx, symbol, equity, ok)
	}

	r.snapshot(ctx, equity, venuePositions)
	return nil
}

func (r *Runner) account(ctx context.Context) (float64, []models.VenuePosition, error) {
	if r.Config.DryRun {
		return r.Risk.Equity(), nil, nil
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	equity, err := r.Account.Equity(cctx)
	if err != nil {
		return 0, nil, fmt.Errorf("equity: %w", err)
	}
	positions, err := r.Account.OpenPositions(cctx)
	if err != nil {
		return 0, nil, fmt.Errorf("open positions: %w", err)
	}
	return equity, positions, nil
}

// reconcile books tracked positions that are flat on the venue. The
// resting stop is the only order the venue can fill on its own.
func (r *Runner) reconcile(ctx context.Context, venue []models.VenuePosition, equity float64) float64 {
	open := make(map[string]bool, len(venue))
	for _, vp := range venue {
		open[vp.Symbol] = true
	}
	for _, pos := range r.Risk.Positions() {
		if open[pos.Symbol] {
			continue
		}
		r.Logger.Warning("%s is flat on the venue; booking the stop at %.4f", pos.Symbol, pos.StopLoss)
		r.Monitor.Settle(pos, pos.StopLoss, models.ReasonStopLoss, "venue stop")
		equity += pos.PnL(pos.StopLoss, pos.Size)
	}
	for _, vp := range venue {
		if _, ok := r.Risk.Position(vp.Symbol); !ok {
			r.Logger.Warning("Untracked venue position %s %s size=%.6f; not managed", vp.Symbol, vp.Direction, vp.Size)
		}
	}
	return equity
}

// haltAlert emits one circuit_breaker alert per halt
func (r *Runner) haltAlert() {
	halted, reason := r.Risk.Halted()
	if !halted {
		r.haltAlerted = false
		return
	}
	if r.haltAlerted {
		return
	}
	r.haltAlerted = true
	r.Logger.Warning("Circuit breaker tripped: %s", reason)
	r.Sink.Alert(models.Alert{Time: r.Now(), Type: models.AlertCircuitBreaker, Message: reason})
}

func (r *Runner) symbolSafe(ctx context.Context, symbol string, equity float64, canEnter bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("panic processing %s: %v", symbol, rec)
		}
	}()
	r.observeFlow(ctx, symbol)
	if !canEnter {
		return
	}
	if _, held := r.Risk.Position(symbol); held {
		return
	}
	r.enter(ctx, symbol, equity)
}

func (r *Runner) observeFlow(ctx context.Context, symbol string) {
	if r.Flow == nil {
		return
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	sig, ok := r.Flow.Signal(cctx, symbol)
	if !ok {
		return
	}
	price, err := r.Prices.Price(cctx, symbol)
	if err != nil {
		r.Logger.Debug("price for flow log %s: %v", symbol, err)
	}
	r.Sink.Flow(models.FlowObservation{Time: r.Now(), Symbol: symbol, Signal: sig, Price: price})
}

func (r *Runner) instrument(ctx context.Context, symbol string) (models.InstrumentInfo, error) {
	if instr, ok := r.instrs[symbol]; ok {
		return instr, nil
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	instr, err := r.Account.Instrument(cctx, symbol)
	if err != nil {
		return models.InstrumentInfo{}, err
	}
	r.instrs[symbol] = instr
	return instr, nil
}

func (r *Runner) enter(ctx context.Context, symbol string, equity float64) {
	if ok, why := r.Risk.CanTrade(symbol); !ok {
		r.Logger.Debug("%s: %s", symbol, why)
		return
	}
	instr, err := r.instrument(ctx, symbol)
	if err != nil {
		r.Logger.Warning("instrument %s unavailable, skipping: %v", symbol, err)
		return
	}

	cctx, cancel := r.callCtx(ctx)
	sig, err := r.Signals.Generate(cctx, symbol, equity, instr)
	cancel()
	if err != nil {
		r.Logger.Warning("signal %s skipped: %v", symbol, err)
		return
	}
	if sig == nil {
		return
	}
	if r.Metrics != nil {
		r.Metrics.Signal(*sig)
	}

	if err := r.Risk.ValidateTrade(*sig, equity); err != nil {
		if errors.Is(err, risk.ErrAdmission) {
			r.Logger.Info("%s %s rejected: %v", sig.Direction, symbol, err)
		} else {
			r.Logger.Warning("%s %s rejected: %v", sig.Direction, symbol, err)
		}
		return
	}

	cctx, cancel = r.callCtx(ctx)
	fill, err := r.Orders.Open(cctx, *sig, instr)
	cancel()
	if err != nil {
		r.Logger.Error("entry %s failed: %v", symbol, err)
		return
	}

	pos := models.PositionFromSignal(*sig, fill.FillPrice, fill.Qty, r.Now())
	if err := r.Risk.OpenPosition(pos); err != nil {
		r.Logger.Error("filled %s but registration failed: %v", symbol, err)
		return
	}
	r.Logger.Info("ENTRY %s %s %s qty=%.6f @ %.4f lev=%dx stop=%.4f tp1=%.4f tally=%d",
		sig.Conviction, sig.Direction, symbol, fill.Qty, fill.FillPrice, sig.Leverage, sig.StopLoss, sig.TakeProfit1, sig.Details.Tally)
	r.Sink.TradeOpened(*sig, fill)

	if conf := sig.Confidence(); conf >= r.Config.StrongSignalConfidence {
		r.Sink.Alert(models.Alert{
			Time:    r.Now(),
			Type:    models.AlertStrongSignal,
			Symbol:  symbol,
			Message: fmt.Sprintf("%s %s entered on %s flow, confidence %.2f", sig.Direction, symbol, sig.Flow.Direction, conf),
			Data:    sig.Details,
		})
	}
}

func (r *Runner) snapshot(ctx context.Context, equity float64, venue []models.VenuePosition) {
	unrealized := 0.0
	if r.Config.DryRun {
		for _, pos := range r.Risk.Positions() {
			if ctx.Err() != nil {
				break
			}
			cctx, cancel := r.callCtx(ctx)
			price, err := r.Prices.Price(cctx, pos.Symbol)
			cancel()
			if err == nil {
				unrealized += pos.PnL(price, pos.Size)
			}
		}
	} else {
		for _, vp := range venue {
			unrealized += vp.UnrealizedPnL
		}
	}

	r.mu.Lock()
	r.equity = equity
	r.mu.Unlock()

	r.Sink.Equity(models.EquitySnapshot{
		Time:          r.Now(),
		Equity:        equity,
		UnrealizedPnL: unrealized,
		RealizedPnL:   r.Risk.RealizedPnL(),
	})

	st := r.Risk.Stats()
	if r.Metrics != nil {
		r.Metrics.Risk(st)
	}
	r.Logger.Info("equity=%.2f dd=%.2f%% daily=%.2f total=%.2f W/L=%d/%d streak=%d open=%d/%d trades=%d halted=%v",
		equity, r.Risk.Drawdown(equity)*100, st.DailyPnL, st.TotalPnL, st.Wins, st.Losses, st.ConsecutiveLosses,
		st.ActivePositions, st.MaxConcurrent, st.TradesToday, st.TradingHalted)

	if err := r.Risk.Save(r.Config.RiskStateFile); err != nil {
		r.Logger.Warning("persist risk state: %v", err)
	}
}

// ClosePosition closes symbol at market with reason manual. It waits for
// any running cycle to finish; once started, the close is not cancelled
// with ctx.
func (r *Runner) ClosePosition(ctx context.Context, symbol string) error {
	select {
	case r.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.turn }()

	r.Logger.Warning("Manual close requested for %s", symbol)
	if err := r.Monitor.CloseManual(context.WithoutCancel(ctx), symbol); err != nil {
		return err
	}
	r.Logger.Info("Manual close of %s done", symbol)
	return nil
}

// Halt stops new entries until the halt is reset
func (r *Runner) Halt(reason string) {
	r.Logger.Warning("Manual halt: %s", reason)
	r.Risk.Halt(reason)
}

// LastEquity returns the equity seen by the most recent cycle
func (r *Runner) LastEquity() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.equity
}

// Status reports the runner state for the status server and dashboard
func (r *Runner) Status() Status {
	r.mu.RLock()
	st := Status{
		Equity:    r.equity,
		Cycles:    r.cycles,
		LastCycle: r.lastCycle,
	}
	if r.lastTook > 0 {
		st.LastCycleTook = r.lastTook.String()
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.RUnlock()

	st.Time = r.Now()
	st.Preset = r.Config.Preset
	st.DryRun = r.Config.DryRun
	st.Symbols = append([]string(nil), r.Config.Symbols...)
	st.Risk = r.Risk.Stats()
	st.Positions = r.Risk.Positions()
	return st
}
