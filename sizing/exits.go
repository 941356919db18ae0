package sizing

import (
	"errors"

	"smartflow-perp/config"
	"smartflow-perp/internal/utils"
	"smartflow-perp/models"
)

// ErrNoVolatility means ATR is not usable for ATR-based exits
var ErrNoVolatility = errors.New("atr must be positive")

// Exits are the protective and profit levels for a new position
type Exits struct {
	StopLoss      float64
	TakeProfit1   float64
	TakeProfit2   float64 // 0 when the remainder is trailed
	TP1Fraction   float64
	BreakevenStop float64
	TrailDistance float64
}

// ExitPolicy computes exits for an entry
type ExitPolicy interface {
	Exits(dir models.Direction, entry, atr float64, conviction models.Conviction) (Exits, error)
}

// NewExitPolicy selects the policy named by cfg.ExitMode
func NewExitPolicy(cfg *config.Config) ExitPolicy {
	if cfg.ExitMode == config.ExitATR {
		return ATR{
			StopMult:        cfg.ATRStopMult,
			TPMult:          cfg.ATRTPMult,
			TrailMult:       cfg.ATRTrailMult,
			TrailFraction:   cfg.TrailFraction,
			BreakevenBuffer: cfg.BreakevenBufferPct,
			Tick:            cfg.PriceTick,
		}
	}
	return Fixed{
		StopPct:         cfg.StopLossPct,
		StopPctHigh:     cfg.StopLossPctHigh,
		TP1Pct:          cfg.TP1Pct,
		TP2Pct:          cfg.TP2Pct,
		TP1Close:        cfg.TP1ClosePct,
		BreakevenBuffer: cfg.BreakevenBufferPct,
		Tick:            cfg.PriceTick,
	}
}

// offset moves price by delta in the profitable direction of dir
func offset(dir models.Direction, price, delta float64) float64 {
	if dir == models.Long {
		return price + delta
	}
	return price - delta
}

// Fixed is the tiered percentage exit ladder. LOW conviction gets the
// tighter stop.
type Fixed struct {
	StopPct         float64
	StopPctHigh     float64
	TP1Pct          float64
	TP2Pct          float64
	TP1Close        float64
	BreakevenBuffer float64
	Tick            float64
}

func (f Fixed) Exits(dir models.Direction, entry, _ float64, conviction models.Conviction) (Exits, error) {
	stopPct := f.StopPctHigh
	if conviction == models.ConvictionLow {
		stopPct = f.StopPct
	}
	return Exits{
		StopLoss:      utils.RoundToStep(offset(dir, entry, -entry*stopPct), f.Tick),
		TakeProfit1:   utils.RoundToStep(offset(dir, entry, entry*f.TP1Pct), f.Tick),
		TakeProfit2:   utils.RoundToStep(offset(dir, entry, entry*f.TP2Pct), f.Tick),
		TP1Fraction:   f.TP1Close,
		BreakevenStop: utils.RoundToStep(offset(dir, entry, entry*f.BreakevenBuffer), f.Tick),
	}, nil
}

// ATR places stop and target at multiples of the average true range. With
// a trail configured, TP1 closes all but TrailFraction and the rest rides a
// trailing stop.
type ATR struct {
	StopMult        float64
	TPMult          float64
	TrailMult       float64
	TrailFraction   float64
	BreakevenBuffer float64
	Tick            float64
}

func (a ATR) Exits(dir models.Direction, entry, atr float64, _ models.Conviction) (Exits, error) {
	if atr <= 0 {
		return Exits{}, ErrNoVolatility
	}
	ex := Exits{
		StopLoss:      utils.RoundToStep(offset(dir, entry, -atr*a.StopMult), a.Tick),
		TakeProfit1:   utils.RoundToStep(offset(dir, entry, atr*a.TPMult), a.Tick),
		TP1Fraction:   1,
		BreakevenStop: utils.RoundToStep(offset(dir, entry, entry*a.BreakevenBuffer), a.Tick),
	}
	if a.TrailMult > 0 && a.TrailFraction > 0 {
		ex.TrailDistance = utils.RoundToStep(atr*a.TrailMult, a.Tick)
		ex.TP1Fraction = 1 - a.TrailFraction
	}
	return ex, nil
}
