package indicators

import (
	"math"

	"smartflow-perp/models"
)

// RollingMean returns the trailing mean over period values. The first
// period-1 entries average the values available so far.
func RollingMean(src []float64, period int) []float64 {
	out := make([]float64, len(src))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range src {
		sum += v
		if i >= period {
			sum -= src[i-period]
		}
		n := i + 1
		if n > period {
			n = period
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMASeries calculates the exponential moving average series seeded with
// the first value, alpha = 2/(period+1)
func EMASeries(src []float64, period int) []float64 {
	out := make([]float64, len(src))
	if len(src) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = src[0]
	for i := 1; i < len(src); i++ {
		out[i] = src[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// RSISeries calculates Relative Strength Index with simple rolling means of
// gains and losses. A window with no losses reads 100.
func RSISeries(src []float64, period int) []float64 {
	gains := make([]float64, len(src))
	losses := make([]float64, len(src))
	for i := 1; i < len(src); i++ {
		delta := src[i] - src[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := RollingMean(gains, period)
	avgLoss := RollingMean(losses, period)
	out := make([]float64, len(src))
	for i := range src {
		if avgLoss[i] == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACDSeries calculates MACD line, signal line and histogram series
func MACDSeries(src []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	fastEMA := EMASeries(src, fast)
	slowEMA := EMASeries(src, slow)
	macd = make([]float64, len(src))
	for i := range src {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig = EMASeries(macd, signal)
	hist = make([]float64, len(src))
	for i := range src {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// TrueRange returns the per-bar true range; the first bar uses high-low
func TrueRange(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries calculates Average True Range as a rolling mean of true range
func ATRSeries(candles []models.Candle, period int) []float64 {
	return RollingMean(TrueRange(candles), period)
}

// ADXSeries calculates Average Directional Index with rolling-mean smoothing
func ADXSeries(candles []models.Candle, period int) []float64 {
	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	atr := ATRSeries(candles, period)
	plusAvg := RollingMean(plusDM, period)
	minusAvg := RollingMean(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if atr[i] == 0 {
			continue
		}
		plusDI := 100 * plusAvg[i] / atr[i]
		minusDI := 100 * minusAvg[i] / atr[i]
		if sum := plusDI + minusDI; sum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		}
	}
	return RollingMean(dx, period)
}

// VWAP returns the cumulative volume-weighted typical price over candles
func VWAP(candles []models.Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// Params holds indicator periods
type Params struct {
	EMAFast    int
	EMASlow    int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	ADXPeriod  int
	ATRPeriod  int
}

// DefaultParams returns the standard 20/50 EMA, 14 RSI, 12/26/9 MACD, 14 ADX/ATR set
func DefaultParams() Params {
	return Params{EMAFast: 20, EMASlow: 50, RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ADXPeriod: 14, ATRPeriod: 14}
}

// Compute returns the indicator values of the latest candle. It needs at
// least two candles so the previous EMA values exist.
func Compute(candles []models.Candle, p Params) (models.IndicatorSnapshot, bool) {
	if len(candles) < 2 {
		return models.IndicatorSnapshot{}, false
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := len(candles) - 1
	fast := EMASeries(closes, p.EMAFast)
	slow := EMASeries(closes, p.EMASlow)
	macd, sig, hist := MACDSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	return models.IndicatorSnapshot{
		Price:       closes[last],
		EMAFast:     fast[last],
		EMASlow:     slow[last],
		EMAFastPrev: fast[last-1],
		EMASlowPrev: slow[last-1],
		RSI:         RSISeries(closes, p.RSIPeriod)[last],
		MACD:        macd[last],
		MACDSignal:  sig[last],
		MACDHist:    hist[last],
		ADX:         ADXSeries(candles, p.ADXPeriod)[last],
		ATR:         ATRSeries(candles, p.ATRPeriod)[last],
		VWAP:        VWAP(candles),
	}, true
}
