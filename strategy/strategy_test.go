package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})          {}
func (nopLogger) Info(string, ...interface{})           {}
func (nopLogger) Warning(string, ...interface{})        {}
func (nopLogger) Error(string, ...interface{})          {}
func (nopLogger) Fatal(string, ...interface{})          {}
func (nopLogger) Sync() error                           { return nil }
func (nopLogger) ChangeLogLevel(level logging.LogLevel) {}

func TestDeriveConviction(t *testing.T) {
	tests := []struct {
		name             string
		aligned, opposed bool
		tally            int
		want             models.Conviction
	}{
		{"aligned 5", true, false, 5, models.ConvictionHigh},
		{"aligned 4", true, false, 4, models.ConvictionHigh},
		{"aligned 3", true, false, 3, models.ConvictionLow},
		{"aligned 2", true, false, 2, models.ConvictionNone},
		{"neutral 4", false, false, 4, models.ConvictionLow},
		{"neutral 3", false, false, 3, models.ConvictionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveConviction(tt.aligned, tt.opposed, tt.tally); got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
	for tally := 0; tally <= 5; tally++ {
		if got := DeriveConviction(false, true, tally); got != models.ConvictionNone {
			t.Fatalf("opposed flow with tally %d gave %s", tally, got)
		}
	}
}

func bullishInputs() Inputs {
	return Inputs{
		Signal: models.IndicatorSnapshot{
			Price: 110, EMAFast: 105, EMASlow: 100, EMAFastPrev: 104, EMASlowPrev: 99.5,
			RSI: 60, ADX: 30, ATR: 2,
		},
		Momentum:       models.IndicatorSnapshot{MACD: 1.2, MACDSignal: 0.8},
		Flow:           &models.FlowSignal{Direction: models.FlowAccumulation, Confidence: 0.8},
		FundingRate:    0.0001,
		LongShortRatio: 1.0,
	}
}

func TestEvaluateAllPoints(t *testing.T) {
	long := Evaluate(models.Long, bullishInputs(), DefaultThresholds())
	if long.Tally != 5 || long.Conviction != models.ConvictionHigh || long.FlowState != models.FlowAligned {
		t.Fatalf("unexpected long details %+v", long)
	}
	short := Evaluate(models.Short, bullishInputs(), DefaultThresholds())
	if !short.FlowOpposed || short.Conviction != models.ConvictionNone {
		t.Fatalf("accumulation must veto the short: %+v", short)
	}
	d, ok := Decide(long, short)
	if !ok || d.Direction != models.Long {
		t.Fatalf("expected long decision, got %+v %v", d, ok)
	}
}

func TestEvaluateBoundaries(t *testing.T) {
	th := DefaultThresholds()

	in := bullishInputs()
	in.Signal.ADX = 25 // not strictly above
	in.Signal.RSI = 71
	long := Evaluate(models.Long, in, th)
	if long.Tally != 3 || long.Conviction != models.ConvictionLow {
		t.Fatalf("three aligned points should be LOW: %+v", long)
	}

	in.FundingRate = 0.0005 // not strictly below
	long = Evaluate(models.Long, in, th)
	if long.Tally != 2 || long.Conviction != models.ConvictionNone {
		t.Fatalf("two aligned points should be NONE: %+v", long)
	}

	in = bullishInputs()
	in.Signal.RSI = 70 // inclusive band edge
	if !Evaluate(models.Long, in, th).Momentum {
		t.Fatalf("RSI 70 is inside the long band")
	}
}

func TestEvaluateWithoutFlow(t *testing.T) {
	in := bullishInputs()
	in.Flow = nil
	long := Evaluate(models.Long, in, DefaultThresholds())
	if long.FlowState != models.FlowAbsent || long.Tally != 4 || long.Conviction != models.ConvictionLow {
		t.Fatalf("four points without flow should be LOW: %+v", long)
	}
	in.Flow = &models.FlowSignal{Direction: models.FlowNeutral}
	if got := Evaluate(models.Long, in, DefaultThresholds()); got.FlowAligned || got.FlowOpposed {
		t.Fatalf("neutral flow counts as neither: %+v", got)
	}
}

func TestDecideTie(t *testing.T) {
	a := models.SignalDetails{Direction: models.Long, Tally: 4, Conviction: models.ConvictionLow}
	b := models.SignalDetails{Direction: models.Short, Tally: 4, Conviction: models.ConvictionLow}
	if _, ok := Decide(a, b); ok {
		t.Fatalf("equal tallies must not produce a signal")
	}
	b.Tally, b.Conviction = 5, models.ConvictionNone
	if _, ok := Decide(a, b); ok {
		t.Fatalf("higher tally without conviction must not win, and the lower side is not strictly higher")
	}
}

func TestCheckEarlyExit(t *testing.T) {
	pos := models.Position{Symbol: "BTCUSDT", Direction: models.Long}
	dist := &models.FlowSignal{Direction: models.FlowDistribution}
	if exit, _ := CheckEarlyExit(pos, dist, 0, 0.001); !exit {
		t.Fatalf("distribution against a long must exit")
	}
	acc := &models.FlowSignal{Direction: models.FlowAccumulation}
	if exit, _ := CheckEarlyExit(pos, acc, 0.0009, 0.001); exit {
		t.Fatalf("supportive flow and normal funding must hold")
	}
	if exit, reason := CheckEarlyExit(pos, nil, -0.0011, 0.001); !exit || reason != "extreme funding rate" {
		t.Fatalf("extreme funding must exit, got %v %q", exit, reason)
	}
}

// zigzag builds a noisy uptrend: +3 then -2 per pair of bars, ending on an up bar
func zigzag(n int, start float64) []models.Candle {
	return zigzagSteps(n, start, 3, 2)
}

// zigzagSteps alternates +up and -down moves, ending on an up bar. With
// up=2*down the trend is strong enough for ADX above 25 and RSI near 67.
func zigzagSteps(n int, start, up, down float64) []models.Candle {
	out := make([]models.Candle, n)
	price := start
	for i := range out {
		if (n-1-i)%2 == 0 {
			price += up
		} else {
			price -= down
		}
		out[i] = models.Candle{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
	}
	return out
}

type fakeMarket struct {
	bars       map[string][]models.Candle
	err        error
	funding    float64
	fundingErr error
	lsRatio    float64
}

func (f fakeMarket) Candles(_ context.Context, _ string, interval string, limit int) ([]models.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars[interval], nil
}

func (f fakeMarket) FundingRate(context.Context, string) (float64, error) {
	return f.funding, f.fundingErr
}

func (f fakeMarket) LongShortRatio(context.Context, string) (float64, error) { return f.lsRatio, nil }

type fakeFlow struct {
	sig models.FlowSignal
	ok  bool
}

func (f fakeFlow) Signal(context.Context, string) (models.FlowSignal, bool) { return f.sig, f.ok }

func testGenerator(t *testing.T, market MarketData, flow FlowSource, preset string) *Generator {
	t.Helper()
	loaded, err := config.Load("", preset)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g := NewGenerator(loaded, market, flow, nopLogger{})
	g.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return g
}

func TestGenerateLong(t *testing.T) {
	market := fakeMarket{
		bars:    map[string][]models.Candle{"240": zigzag(100, 100), "60": zigzag(50, 100)},
		funding: 0.0001,
		lsRatio: 1.0,
	}
	flow := fakeFlow{sig: models.FlowSignal{Token: "BTC", Direction: models.FlowAccumulation, Confidence: 0.9}, ok: true}
	g := testGenerator(t, market, flow, "default")

	sig, err := g.Generate(context.Background(), "BTCUSDT", 10_000, models.InstrumentInfo{QtyStep: 0.001, MinQty: 0.001})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sig == nil {
		t.Fatalf("expected a signal")
	}
	if sig.Direction != models.Long || !sig.Details.FlowAligned || !sig.Details.TrendStructure {
		t.Fatalf("unexpected signal %+v", sig.Details)
	}
	if sig.StopLoss >= sig.EntryPrice || sig.TakeProfit1 <= sig.EntryPrice || sig.PositionSize <= 0 {
		t.Fatalf("bad levels %+v", sig)
	}
	if sig.RiskAmount > 10_000*sig.RiskPct+1e-6 {
		t.Fatalf("risk %.2f above budget", sig.RiskAmount)
	}
}

func TestGenerateNoSignal(t *testing.T) {
	full := map[string][]models.Candle{"240": zigzag(100, 100), "60": zigzag(50, 100)}
	tests := []struct {
		name   string
		market fakeMarket
		flow   fakeFlow
		preset string
	}{
		{"few signal candles", fakeMarket{bars: map[string][]models.Candle{"240": zigzag(49, 100), "60": zigzag(50, 100)}, lsRatio: 1}, fakeFlow{ok: true}, "default"},
		{"few momentum candles", fakeMarket{bars: map[string][]models.Candle{"240": zigzag(100, 100), "60": zigzag(29, 100)}, lsRatio: 1}, fakeFlow{ok: true}, "default"},
		{"opposed flow", fakeMarket{bars: full, lsRatio: 1}, fakeFlow{sig: models.FlowSignal{Direction: models.FlowDistribution}, ok: true}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGenerator(t, tt.market, tt.flow, tt.preset)
			sig, err := g.Generate(context.Background(), "BTCUSDT", 10_000, models.InstrumentInfo{})
			if err != nil || sig != nil {
				t.Fatalf("expected no signal, got %+v %v", sig, err)
			}
		})
	}
}

func TestGenerateDefaultsOnMissingFunding(t *testing.T) {
	market := fakeMarket{
		bars:       map[string][]models.Candle{"240": zigzag(100, 100), "60": zigzag(50, 100)},
		fundingErr: errors.New("timeout"),
		lsRatio:    1.0,
	}
	flow := fakeFlow{sig: models.FlowSignal{Direction: models.FlowAccumulation}, ok: true}
	sig, err := testGenerator(t, market, flow, "default").Generate(context.Background(), "BTCUSDT", 10_000, models.InstrumentInfo{})
	if err != nil || sig == nil {
		t.Fatalf("funding failure should fall back to 0: %+v %v", sig, err)
	}
	if sig.FundingRate != 0 {
		t.Fatalf("funding default = %v", sig.FundingRate)
	}
}

func TestGenerateCandleError(t *testing.T) {
	g := testGenerator(t, fakeMarket{err: errors.New("down")}, fakeFlow{}, "default")
	if _, err := g.Generate(context.Background(), "BTCUSDT", 10_000, models.InstrumentInfo{}); err == nil {
		t.Fatalf("expected fetch error")
	}
}

func TestFlowUnavailablePolicy(t *testing.T) {
	// every technical point fires, so only the flow policy decides
	market := fakeMarket{
		bars:    map[string][]models.Candle{"240": zigzagSteps(100, 100, 4, 2), "60": zigzagSteps(50, 100, 4, 2)},
		funding: 0.0001,
		lsRatio: 1.0,
	}
	instr := models.InstrumentInfo{QtyStep: 0.001, MinQty: 0.001}

	sig, err := testGenerator(t, market, fakeFlow{ok: false}, "default").Generate(context.Background(), "BTCUSDT", 10_000, instr)
	if err != nil || sig == nil {
		t.Fatalf("neutral policy should score without flow: %+v %v", sig, err)
	}
	d := sig.Details
	if sig.Conviction != models.ConvictionLow || d.Tally != 4 || d.FlowState != models.FlowAbsent {
		t.Fatalf("expected LOW on 4 technical points, got %+v", d)
	}
	if !d.TrendStructure || !d.Momentum || !d.TrendingMarket || !d.FavorablePositioning {
		t.Fatalf("expected all technical points, got %+v", d)
	}

	sig, err = testGenerator(t, market, fakeFlow{ok: false}, "strict").Generate(context.Background(), "BTCUSDT", 10_000, instr)
	if err != nil || sig != nil {
		t.Fatalf("veto policy must skip without flow, got %+v %v", sig, err)
	}
}
