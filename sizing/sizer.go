package sizing

import (
	"errors"
	"fmt"
	"math"

	"smartflow-perp/config"
	"smartflow-perp/internal/utils"
	"smartflow-perp/models"
)

var (
	// ErrBelowMinimum means the risk budget buys less than the venue minimum
	ErrBelowMinimum = errors.New("position size below venue minimum")
	// ErrZeroStopDistance means entry and stop coincide
	ErrZeroStopDistance = errors.New("zero stop distance")
)

const defaultQtyStep = 0.001

// Sizer converts a risk budget into contracts
type Sizer struct {
	BaseRiskPct  float64
	HighRiskPct  float64
	BaseLeverage int
	HighLeverage int
	MinQty       float64
	// Allocation is the largest margin one position may take, as a
	// fraction of equity. 0 means the whole equity.
	Allocation float64
}

// NewSizer builds a sizer from config
func NewSizer(cfg *config.Config) Sizer {
	return Sizer{
		BaseRiskPct:  cfg.BaseRiskPct,
		HighRiskPct:  cfg.HighRiskPct,
		BaseLeverage: cfg.BaseLeverage,
		HighLeverage: cfg.HighLeverage,
		MinQty:       cfg.MinOrderSize,
		Allocation:   cfg.SymbolAllocation(),
	}
}

// Size is a sized order
type Size struct {
	Qty        float64
	Leverage   int
	Notional   float64
	Margin     float64
	RiskAmount float64 // loss at the stop before fees
	RiskPct    float64
}

// Tier returns the risk fraction and leverage for a conviction
func (s Sizer) Tier(conviction models.Conviction) (float64, int) {
	if conviction == models.ConvictionHigh {
		return s.HighRiskPct, s.HighLeverage
	}
	return s.BaseRiskPct, s.BaseLeverage
}

func (s Sizer) allocation() float64 {
	if s.Allocation <= 0 || s.Allocation > 1 {
		return 1
	}
	return s.Allocation
}

// Size returns qty such that qty*|entry-stop| <= equity*riskPct and
// margin <= equity*Allocation. Leverage only determines margin; it never
// scales the loss at the stop.
func (s Sizer) Size(equity, entry, stop float64, conviction models.Conviction, instr models.InstrumentInfo) (Size, error) {
	distance := math.Abs(entry - stop)
	if distance == 0 || entry <= 0 {
		return Size{}, ErrZeroStopDistance
	}
	riskPct, leverage := s.Tier(conviction)
	if leverage < 1 {
		leverage = 1
	}

	step := instr.QtyStep
	if step <= 0 {
		step = defaultQtyStep
	}
	minQty := instr.MinQty
	if minQty <= 0 {
		minQty = s.MinQty
	}

	budget := equity * riskPct
	qty := utils.FloorToStep(budget/distance, step)
	if maxMargin := equity * s.allocation(); qty*entry/float64(leverage) > maxMargin {
		qty = utils.FloorToStep(maxMargin*float64(leverage)/entry, step)
	}
	if qty < minQty || qty <= 0 {
		return Size{}, fmt.Errorf("%w: %.6f < %.6f", ErrBelowMinimum, qty, minQty)
	}
	notional := qty * entry
	if instr.MinNotional > 0 && notional < instr.MinNotional {
		return Size{}, fmt.Errorf("%w: notional %.2f < %.2f", ErrBelowMinimum, notional, instr.MinNotional)
	}
	return Size{
		Qty:        qty,
		Leverage:   leverage,
		Notional:   notional,
		Margin:     notional / float64(leverage),
		RiskAmount: qty * distance,
		RiskPct:    riskPct,
	}, nil
}
