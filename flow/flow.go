package flow

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"smartflow-perp/cache"
	"smartflow-perp/internal/constants"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

// ErrUnavailable means the smart-money netflow could not be read
var ErrUnavailable = errors.New("flow signal unavailable")

// Provider returns a classified flow signal for a bare token (BTC, ETH)
type Provider interface {
	Signal(ctx context.Context, token string) (models.FlowSignal, error)
}

// TokenInfo locates a token on chain for the flow-intelligence endpoint
type TokenInfo struct {
	Chain   string
	Address string
}

// Tokens maps bare tokens to their on-chain representation
var Tokens = map[string]TokenInfo{
	"BTC": {Chain: "ethereum", Address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"}, // WBTC
	"ETH": {Chain: "ethereum", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}, // WETH
	"SOL": {Chain: "solana", Address: "So11111111111111111111111111111111111111112"},
}

// Token strips the quote suffix from a perpetual symbol
func Token(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
}

// Classify turns smart-money and exchange netflows into a signal
func Classify(token string, smartMoney, exchange float64, ts time.Time) models.FlowSignal {
	sig := models.FlowSignal{
		Token:             token,
		Direction:         models.FlowNeutral,
		SmartMoneyNetflow: smartMoney,
		ExchangeNetflow:   exchange,
		Timestamp:         ts,
	}
	switch {
	case smartMoney > 0 && exchange < 0:
		sig.Direction = models.FlowAccumulation
	case smartMoney < 0 && exchange > 0:
		sig.Direction = models.FlowDistribution
	default:
		return sig
	}
	sig.Confidence = (strength(smartMoney) + strength(exchange)) / 2
	return sig
}

func strength(v float64) float64 {
	return math.Min(math.Abs(v)/constants.FlowNormalization, 1)
}

// Adapter serves flow signals per symbol through a TTL cache
type Adapter struct {
	provider Provider
	store    cache.Store
	ttl      time.Duration
	logger   logging.LoggerInterface
}

// NewAdapter creates an adapter; store may be nil to disable caching
func NewAdapter(p Provider, store cache.Store, ttl time.Duration, logger logging.LoggerInterface) *Adapter {
	return &Adapter{provider: p, store: store, ttl: ttl, logger: logger}
}

func cacheKey(token string) string { return "flow:" + token }

// Signal returns the flow signal for symbol and whether one is available
func (a *Adapter) Signal(ctx context.Context, symbol string) (models.FlowSignal, bool) {
	token := Token(symbol)
	if a.store != nil {
		var cached models.FlowSignal
		err := a.store.Get(ctx, cacheKey(token), &cached)
		if err == nil {
			return cached, true
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warning("flow cache read for %s failed: %v", token, err)
		}
	}

	sig, err := a.provider.Signal(ctx, token)
	if err != nil {
		a.logger.Warning("flow signal for %s unavailable: %v", token, err)
		return models.FlowSignal{}, false
	}
	if sig.Direction != models.FlowNeutral {
		a.logger.Info("flow %s %s confidence=%.2f sm=%.0f ex=%.0f", token, sig.Direction, sig.Confidence, sig.SmartMoneyNetflow, sig.ExchangeNetflow)
	}
	if a.store != nil {
		if err := a.store.Set(ctx, cacheKey(token), sig, a.ttl); err != nil {
			a.logger.Warning("flow cache write for %s failed: %v", token, err)
		}
	}
	return sig, true
}
