package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/journal"
	"smartflow-perp/logging"
	"smartflow-perp/models"
	"smartflow-perp/risk"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})          {}
func (nopLogger) Info(string, ...interface{})           {}
func (nopLogger) Warning(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})          {}
func (nopLogger) Fatal(string, ...interface{})          {}
func (nopLogger) Sync() error                           { return nil }
func (nopLogger) ChangeLogLevel(level logging.LogLevel) {}

type fakeAccount struct {
	equity    float64
	err       error
	positions []models.VenuePosition
}

func (f *fakeAccount) Equity(context.Context) (float64, error) { return f.equity, f.err }
func (f *fakeAccount) OpenPositions(context.Context) ([]models.VenuePosition, error) {
	return f.positions, nil
}
func (f *fakeAccount) Instrument(context.Context, string) (models.InstrumentInfo, error) {
	return models.InstrumentInfo{MinQty: 0.001, QtyStep: 0.001, TickSize: 0.01}, nil
}

type fakePrices struct{}

func (fakePrices) Price(context.Context, string) (float64, error) { return 100, nil }

type fakeSignals struct {
	sig   *models.TradeSignal
	calls int
}

func (f *fakeSignals) Generate(_ context.Context, symbol string, _ float64, _ models.InstrumentInfo) (*models.TradeSignal, error) {
	f.calls++
	if f.sig == nil {
		return nil, nil
	}
	s := *f.sig
	s.Symbol = symbol
	return &s, nil
}

type fakeOrders struct{ opened int }

func (f *fakeOrders) Open(_ context.Context, sig models.TradeSignal, _ models.InstrumentInfo) (models.OrderResult, error) {
	f.opened++
	return models.OrderResult{OrderID: "dry-run", FillPrice: sig.EntryPrice, Qty: sig.PositionSize}, nil
}

type fakeExits struct {
	checks  int
	settled []string
	closed  []string
}

func (f *fakeExits) Check(_ context.Context, equity float64) float64 {
	f.checks++
	return equity
}

func (f *fakeExits) Settle(pos models.Position, _ float64, _ models.CloseReason, _ string) {
	f.settled = append(f.settled, pos.Symbol)
}

func (f *fakeExits) CloseManual(_ context.Context, symbol string) error {
	f.closed = append(f.closed, symbol)
	return nil
}

type recordSink struct {
	journal.Nop
	opened []models.TradeSignal
	alerts []models.Alert
	equity []models.EquitySnapshot
	flows  []models.FlowObservation
}

func (r *recordSink) TradeOpened(sig models.TradeSignal, _ models.OrderResult) {
	r.opened = append(r.opened, sig)
}
func (r *recordSink) Alert(a models.Alert)            { r.alerts = append(r.alerts, a) }
func (r *recordSink) Equity(s models.EquitySnapshot)  { r.equity = append(r.equity, s) }
func (r *recordSink) Flow(obs models.FlowObservation) { r.flows = append(r.flows, obs) }

type fakeFlow struct{}

func (fakeFlow) Signal(context.Context, string) (models.FlowSignal, bool) {
	return models.FlowSignal{Direction: models.FlowAccumulation, Confidence: 0.9}, true
}

type fixture struct {
	cfg     *config.Config
	risk    *risk.Manager
	account *fakeAccount
	signals *fakeSignals
	orders  *fakeOrders
	exits   *fakeExits
	sink    *recordSink
	runner  *Runner
}

func newFixture(t *testing.T, dryRun bool) *fixture {
	t.Helper()
	cfg, err := config.Load("", "default")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.DryRun = dryRun
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.RiskStateFile = filepath.Join(t.TempDir(), "risk_state.json")
	cfg.CallTimeout = time.Second

	now := func() time.Time { return time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC) }
	rm := risk.NewManager(risk.LimitsFromConfig(cfg), 10000, time.UTC, now, nopLogger{})
	f := &fixture{
		cfg:     cfg,
		risk:    rm,
		account: &fakeAccount{equity: 10000},
		signals: &fakeSignals{},
		orders:  &fakeOrders{},
		exits:   &fakeExits{},
		sink:    &recordSink{},
	}
	f.runner = New(cfg, rm, f.account, fakePrices{}, f.signals, f.orders, f.exits, fakeFlow{}, f.sink, nil, nopLogger{})
	f.runner.Now = now
	return f
}

func longSignal() *models.TradeSignal {
	flow := models.FlowSignal{Direction: models.FlowAccumulation, Confidence: 0.9}
	return &models.TradeSignal{
		Direction:    models.Long,
		EntryPrice:   100,
		StopLoss:     97,
		TakeProfit1:  100.5,
		TP1Fraction:  0.6,
		PositionSize: 2,
		Leverage:     5,
		Conviction:   models.ConvictionHigh,
		Flow:         &flow,
	}
}

func TestCycleOpensAndRegisters(t *testing.T) {
	f := newFixture(t, true)
	f.signals.sig = longSignal()

	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if f.orders.opened != 2 || len(f.risk.Positions()) != 2 {
		t.Fatalf("opened %d, registered %d", f.orders.opened, len(f.risk.Positions()))
	}
	if len(f.sink.opened) != 2 {
		t.Fatalf("trade-opened records = %d", len(f.sink.opened))
	}
	strong := 0
	for _, a := range f.sink.alerts {
		if a.Type == models.AlertStrongSignal {
			strong++
		}
	}
	if strong != 2 {
		t.Fatalf("strong_signal alerts = %d, want 2", strong)
	}
	if len(f.sink.flows) != 2 || f.sink.flows[0].Price != 100 {
		t.Fatalf("flow observations: %+v", f.sink.flows)
	}
	if len(f.sink.equity) != 1 || f.sink.equity[0].Equity != 10000 {
		t.Fatalf("equity snapshots: %+v", f.sink.equity)
	}
	if _, err := os.Stat(f.cfg.RiskStateFile); err != nil {
		t.Fatalf("risk state not persisted: %v", err)
	}

	// held symbols are not evaluated again
	f.signals.calls = 0
	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if f.signals.calls != 0 || f.orders.opened != 2 {
		t.Fatalf("re-entered held symbols: calls %d opened %d", f.signals.calls, f.orders.opened)
	}
	if f.exits.checks != 2 {
		t.Fatalf("monitor checks = %d", f.exits.checks)
	}
}

func TestNoSignalNoOrder(t *testing.T) {
	f := newFixture(t, true)
	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if f.signals.calls != 2 || f.orders.opened != 0 {
		t.Fatalf("calls %d opened %d", f.signals.calls, f.orders.opened)
	}
}

func TestHaltAlertsOnceAndKeepsManagingExits(t *testing.T) {
	f := newFixture(t, true)
	f.signals.sig = longSignal()
	f.risk.RecordResult("BTCUSDT", -1600, 8400, false)

	for i := 0; i < 2; i++ {
		if err := f.runner.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle: %v", err)
		}
	}
	breakers := 0
	for _, a := range f.sink.alerts {
		if a.Type == models.AlertCircuitBreaker {
			breakers++
		}
	}
	if breakers != 1 {
		t.Fatalf("circuit_breaker alerts = %d, want 1", breakers)
	}
	if f.orders.opened != 0 || f.signals.calls != 0 {
		t.Fatalf("entries attempted while halted")
	}
	if f.exits.checks != 2 {
		t.Fatalf("exits not managed while halted: %d", f.exits.checks)
	}
	if st := f.runner.Status(); !st.Risk.TradingHalted || st.Cycles != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestEquityFailureSkipsCycle(t *testing.T) {
	f := newFixture(t, false)
	f.account.err = errors.New("timeout")

	if err := f.runner.Cycle(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if f.exits.checks != 0 || f.signals.calls != 0 {
		t.Fatalf("cycle continued after equity failure")
	}
	if st := f.runner.Status(); st.LastError == "" {
		t.Fatalf("last error not reported")
	}
}

func TestReconcileSettlesVenueStops(t *testing.T) {
	f := newFixture(t, false)
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		pos := models.Position{Symbol: sym, Direction: models.Long, EntryPrice: 100, Size: 1, StopLoss: 97}
		if err := f.risk.OpenPosition(pos); err != nil {
			t.Fatalf("OpenPosition: %v", err)
		}
	}
	f.account.positions = []models.VenuePosition{{Symbol: "ETHUSDT", Direction: models.Long, Size: 1}}

	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(f.exits.settled) != 1 || f.exits.settled[0] != "BTCUSDT" {
		t.Fatalf("settled = %v", f.exits.settled)
	}
}

func TestClosePositionWaitsForCycle(t *testing.T) {
	f := newFixture(t, true)

	// a cycle in progress holds the turn
	f.runner.turn <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := f.runner.ClosePosition(ctx, "BTCUSDT")
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) || len(f.exits.closed) != 0 {
		t.Fatalf("close must wait for the cycle, got err=%v closed=%v", err, f.exits.closed)
	}
	<-f.runner.turn

	if err := f.runner.ClosePosition(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if len(f.exits.closed) != 1 || f.exits.closed[0] != "BTCUSDT" {
		t.Fatalf("expected manual close of BTCUSDT, got %v", f.exits.closed)
	}
	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("turn not released after close: %v", err)
	}
}

func TestManualHaltBlocksEntries(t *testing.T) {
	f := newFixture(t, true)
	f.signals.sig = longSignal()

	f.runner.Halt("operator")
	if err := f.runner.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if f.orders.opened != 0 {
		t.Fatalf("halted runner opened %d orders", f.orders.opened)
	}
	if halted, reason := f.risk.Halted(); !halted || reason != "operator" {
		t.Fatalf("halt state = %v %q", halted, reason)
	}
	if len(f.sink.alerts) != 1 || f.sink.alerts[0].Type != models.AlertCircuitBreaker {
		t.Fatalf("expected one circuit_breaker alert, got %+v", f.sink.alerts)
	}
}
