package strategy

import (
	"math"

	"smartflow-perp/config"
	"smartflow-perp/models"
)

// Thresholds are the scoring cut-offs
type Thresholds struct {
	ADX             float64
	RSILongMin      float64
	RSILongMax      float64
	RSIShortMin     float64
	RSIShortMax     float64
	FundingLongMax  float64
	FundingShortMin float64
	LSRatioLongMax  float64
	LSRatioShortMin float64
}

// ThresholdsFromConfig extracts scoring thresholds from cfg
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		ADX:             cfg.ADXThreshold,
		RSILongMin:      cfg.RSILongMin,
		RSILongMax:      cfg.RSILongMax,
		RSIShortMin:     cfg.RSIShortMin,
		RSIShortMax:     cfg.RSIShortMax,
		FundingLongMax:  cfg.FundingLongMax,
		FundingShortMin: cfg.FundingShortMin,
		LSRatioLongMax:  cfg.LSRatioLongMax,
		LSRatioShortMin: cfg.LSRatioShortMin,
	}
}

// DefaultThresholds returns ADX 25, RSI 50-70 / 30-50, funding 0.05%, L/S 1.2 / 0.8
func DefaultThresholds() Thresholds {
	return Thresholds{
		ADX:             25,
		RSILongMin:      50,
		RSILongMax:      70,
		RSIShortMin:     30,
		RSIShortMax:     50,
		FundingLongMax:  0.0005,
		FundingShortMin: 0.0005,
		LSRatioLongMax:  1.2,
		LSRatioShortMin: 0.8,
	}
}

// Inputs is everything the scorer looks at for one symbol
type Inputs struct {
	Signal         models.IndicatorSnapshot // signal timeframe (4h)
	Momentum       models.IndicatorSnapshot // momentum timeframe (1h), MACD only
	Flow           *models.FlowSignal
	FundingRate    float64
	LongShortRatio float64
}

// DeriveConviction maps flow alignment and the tally to a conviction tier
func DeriveConviction(aligned, opposed bool, tally int) models.Conviction {
	switch {
	case opposed:
		return models.ConvictionNone
	case aligned:
		if tally >= 4 {
			return models.ConvictionHigh
		}
		if tally == 3 {
			return models.ConvictionLow
		}
		return models.ConvictionNone
	default:
		if tally == 4 {
			return models.ConvictionLow
		}
		return models.ConvictionNone
	}
}

// Evaluate scores one direction
func Evaluate(dir models.Direction, in Inputs, th Thresholds) models.SignalDetails {
	d := models.SignalDetails{Direction: dir, FlowState: models.FlowAbsent}
	if in.Flow != nil {
		switch {
		case in.Flow.Supports(dir):
			d.FlowState = models.FlowAligned
			d.FlowAligned = true
		case in.Flow.Opposes(dir):
			d.FlowState = models.FlowOpposed
			d.FlowOpposed = true
		}
	}

	s := in.Signal
	m := in.Momentum
	if dir == models.Long {
		d.TrendStructure = s.Price > s.EMAFast && s.Price > s.EMASlow && s.EMAFast > s.EMASlow &&
			s.EMAFast > s.EMAFastPrev && s.EMASlow > s.EMASlowPrev
		d.Momentum = s.RSI >= th.RSILongMin && s.RSI <= th.RSILongMax &&
			m.MACD > m.MACDSignal && m.MACD > 0
		d.FavorablePositioning = in.FundingRate < th.FundingLongMax && in.LongShortRatio < th.LSRatioLongMax
	} else {
		d.TrendStructure = s.Price < s.EMAFast && s.Price < s.EMASlow && s.EMAFast < s.EMASlow &&
			s.EMAFast < s.EMAFastPrev && s.EMASlow < s.EMASlowPrev
		d.Momentum = s.RSI >= th.RSIShortMin && s.RSI <= th.RSIShortMax &&
			m.MACD < m.MACDSignal && m.MACD < 0
		d.FavorablePositioning = in.FundingRate > th.FundingShortMin && in.LongShortRatio > th.LSRatioShortMin
	}
	d.TrendingMarket = s.ADX > th.ADX

	d.Tally = d.Count()
	d.Conviction = DeriveConviction(d.FlowAligned, d.FlowOpposed, d.Tally)
	return d
}

// Decide picks the side with a conviction and a strictly higher tally
func Decide(long, short models.SignalDetails) (models.SignalDetails, bool) {
	longOK := long.Conviction != models.ConvictionNone
	shortOK := short.Conviction != models.ConvictionNone
	switch {
	case longOK && long.Tally > short.Tally:
		return long, true
	case shortOK && short.Tally > long.Tally:
		return short, true
	default:
		return models.SignalDetails{}, false
	}
}

// CheckEarlyExit reports whether a held position should be closed before
// its stop or target
func CheckEarlyExit(p models.Position, flow *models.FlowSignal, fundingRate, extreme float64) (bool, string) {
	if flow != nil && flow.Opposes(p.Direction) {
		return true, "flow reversed to " + string(flow.Direction)
	}
	if math.Abs(fundingRate) > extreme {
		return true, "extreme funding rate"
	}
	return false, ""
}
