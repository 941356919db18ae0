package flow

import (
	"context"
	"hash/fnv"
	"time"

	"smartflow-perp/models"
)

// Mock simulates flow signals for dry runs and missing API keys. Output
// depends only on the token and the clock.
type Mock struct {
	Now func() time.Time
}

// NewMock creates a mock provider; now may be nil for the wall clock
func NewMock(now func() time.Time) *Mock {
	if now == nil {
		now = time.Now
	}
	return &Mock{Now: now}
}

// Signal implements Provider
func (m *Mock) Signal(_ context.Context, token string) (models.FlowSignal, error) {
	now := m.Now()
	sig := models.FlowSignal{Token: token, Timestamp: now}

	if token == "BTC" {
		// flip every minute so both sides get exercised
		if (now.Unix()/60)%2 == 0 {
			sig.Direction = models.FlowAccumulation
			sig.SmartMoneyNetflow, sig.ExchangeNetflow = 2_500_000, -1_200_000
		} else {
			sig.Direction = models.FlowDistribution
			sig.SmartMoneyNetflow, sig.ExchangeNetflow = -2_500_000, 1_200_000
		}
		sig.Confidence = 0.95
		return sig, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	seed := h.Sum32() + uint32(now.Hour())
	sm := 500_000 + float64(seed%1_500)*1_000
	ex := 200_000 + float64(seed%800)*1_000

	switch bucket := seed % 100; {
	case bucket < 35:
		sig.Direction = models.FlowAccumulation
		sig.SmartMoneyNetflow, sig.ExchangeNetflow = sm, -ex
	case bucket < 70:
		sig.Direction = models.FlowDistribution
		sig.SmartMoneyNetflow, sig.ExchangeNetflow = -sm, ex
	default:
		sig.Direction = models.FlowNeutral
		sig.SmartMoneyNetflow = float64(int64(seed%200_000) - 100_000)
		sig.ExchangeNetflow = float64(int64(seed%150_000) - 75_000)
		return sig, nil
	}
	sig.Confidence = 0.6 + float64(seed%36)/100
	return sig, nil
}
