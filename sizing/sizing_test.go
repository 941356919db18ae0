package sizing

import (
	"errors"
	"math"
	"testing"

	"smartflow-perp/models"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestATRExits(t *testing.T) {
	p := ATR{StopMult: 1.5, TPMult: 2.5, Tick: 0.01}
	tests := []struct {
		dir      models.Direction
		stop, tp float64
	}{
		{models.Long, 97, 105},
		{models.Short, 103, 95},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			ex, err := p.Exits(tt.dir, 100, 2, models.ConvictionHigh)
			if err != nil {
				t.Fatalf("Exits: %v", err)
			}
			if !near(ex.StopLoss, tt.stop) || !near(ex.TakeProfit1, tt.tp) {
				t.Fatalf("got stop %.2f tp %.2f", ex.StopLoss, ex.TakeProfit1)
			}
			if ex.TP1Fraction != 1 || ex.TrailDistance != 0 {
				t.Fatalf("no trail configured: %+v", ex)
			}
		})
	}
	if _, err := p.Exits(models.Long, 100, 0, models.ConvictionHigh); !errors.Is(err, ErrNoVolatility) {
		t.Fatalf("expected ErrNoVolatility, got %v", err)
	}
}

func TestATRTrail(t *testing.T) {
	p := ATR{StopMult: 1.5, TPMult: 2.5, TrailMult: 1, TrailFraction: 0.4, Tick: 0.01}
	ex, _ := p.Exits(models.Long, 100, 2, models.ConvictionLow)
	if !near(ex.TP1Fraction, 0.6) || !near(ex.TrailDistance, 2) || ex.TakeProfit2 != 0 {
		t.Fatalf("unexpected trail exits %+v", ex)
	}
}

func TestFixedExits(t *testing.T) {
	p := Fixed{StopPct: 0.02, StopPctHigh: 0.03, TP1Pct: 0.005, TP2Pct: 0.01, TP1Close: 0.6, BreakevenBuffer: 0.005, Tick: 0.01}

	low, _ := p.Exits(models.Long, 1000, 0, models.ConvictionLow)
	if !near(low.StopLoss, 980) || !near(low.TakeProfit1, 1005) || !near(low.TakeProfit2, 1010) || !near(low.BreakevenStop, 1005) {
		t.Fatalf("unexpected LOW long exits %+v", low)
	}
	high, _ := p.Exits(models.Short, 1000, 0, models.ConvictionHigh)
	if !near(high.StopLoss, 1030) || !near(high.TakeProfit1, 995) || !near(high.TakeProfit2, 990) || !near(high.BreakevenStop, 995) {
		t.Fatalf("unexpected HIGH short exits %+v", high)
	}
	if high.TP1Fraction != 0.6 {
		t.Fatalf("tp1 fraction %.2f", high.TP1Fraction)
	}
}

func testSizer() Sizer {
	return Sizer{BaseRiskPct: 0.02, HighRiskPct: 0.03, BaseLeverage: 3, HighLeverage: 6, MinQty: 0.001}
}

func TestSizeLossAtStopWithinBudget(t *testing.T) {
	s := testSizer()
	tests := []struct {
		name        string
		equity      float64
		entry, stop float64
		conviction  models.Conviction
		step        float64
	}{
		{"low btc", 10_000, 60_000, 58_800, models.ConvictionLow, 0.001},
		{"high eth", 2_500, 3_000, 3_090, models.ConvictionHigh, 0.01},
		{"coarse step", 1_000, 100, 97, models.ConvictionLow, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Size(tt.equity, tt.entry, tt.stop, tt.conviction, models.InstrumentInfo{QtyStep: tt.step})
			if err != nil {
				t.Fatalf("Size: %v", err)
			}
			riskPct, lev := s.Tier(tt.conviction)
			budget := tt.equity * riskPct
			dist := math.Abs(tt.entry - tt.stop)
			loss := got.Qty * dist
			if loss > budget+1e-6 {
				t.Fatalf("loss at stop %.4f exceeds budget %.4f", loss, budget)
			}
			if budget-loss > tt.step*dist+1e-6 {
				t.Fatalf("loss %.4f more than one step under budget %.4f", loss, budget)
			}
			if !near(got.RiskAmount, loss) || got.Leverage != lev || !near(got.Margin, got.Notional/float64(lev)) {
				t.Fatalf("unexpected size %+v", got)
			}
		})
	}
}

func TestSizeMarginCap(t *testing.T) {
	s := testSizer()
	// 0.1% stop would need 20x notional at 2% risk; leverage 3 caps it
	got, err := s.Size(1_000, 100, 99.9, models.ConvictionLow, models.InstrumentInfo{QtyStep: 0.001})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Margin > 1_000+1e-9 || !near(got.Qty, 30) {
		t.Fatalf("expected margin-capped 30 contracts, got %+v", got)
	}
}

func TestSizeAllocationCap(t *testing.T) {
	s := testSizer()
	s.Allocation = 0.25
	var total float64
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		got, err := s.Size(1_000, 100, 99.9, models.ConvictionLow, models.InstrumentInfo{QtyStep: 0.001})
		if err != nil {
			t.Fatalf("%s: %v", symbol, err)
		}
		// 250 margin at 3x buys 750 notional
		if !near(got.Qty, 7.5) || got.Margin > 250+1e-9 {
			t.Fatalf("%s: expected 7.5 contracts on 250 margin, got %+v", symbol, got)
		}
		total += got.Margin
	}
	if total > 1_000 {
		t.Fatalf("aggregate margin %.2f exceeds equity", total)
	}

	// a wide stop stays risk-bound below the allocation
	got, err := s.Size(1_000, 100, 90, models.ConvictionLow, models.InstrumentInfo{QtyStep: 0.001})
	if err != nil || !near(got.Qty, 2) {
		t.Fatalf("expected risk-bound 2 contracts, got %+v err=%v", got, err)
	}
}

func TestSizeRejections(t *testing.T) {
	s := testSizer()
	if _, err := s.Size(1_000, 100, 100, models.ConvictionLow, models.InstrumentInfo{}); !errors.Is(err, ErrZeroStopDistance) {
		t.Fatalf("expected ErrZeroStopDistance, got %v", err)
	}
	_, err := s.Size(10, 60_000, 58_800, models.ConvictionLow, models.InstrumentInfo{QtyStep: 0.001, MinQty: 0.001})
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}
