package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/indicators"
	"smartflow-perp/logging"
	"smartflow-perp/models"
	"smartflow-perp/sizing"
)

// MarketData is the venue market-data surface the generator needs
type MarketData interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
	LongShortRatio(ctx context.Context, symbol string) (float64, error)
}

// FlowSource returns the flow signal for a symbol when one is available
type FlowSource interface {
	Signal(ctx context.Context, symbol string) (models.FlowSignal, bool)
}

// Generator turns market data and flow into sized trade signals
type Generator struct {
	Market     MarketData
	Flow       FlowSource
	Exits      sizing.ExitPolicy
	Sizer      sizing.Sizer
	Params     indicators.Params
	Thresholds Thresholds
	Logger     logging.LoggerInterface
	Now        func() time.Time

	SignalTimeframe    string
	MomentumTimeframe  string
	SignalCandles      int
	MinSignalCandles   int
	MomentumCandles    int
	MinMomentumCandles int
	VetoUnavailable    bool
}

// NewGenerator wires a generator from cfg
func NewGenerator(cfg *config.Config, market MarketData, flow FlowSource, logger logging.LoggerInterface) *Generator {
	return &Generator{
		Market: market,
		Flow:   flow,
		Exits:  sizing.NewExitPolicy(cfg),
		Sizer:  sizing.NewSizer(cfg),
		Params: indicators.Params{
			EMAFast:    cfg.EMAFast,
			EMASlow:    cfg.EMASlow,
			RSIPeriod:  cfg.RSIPeriod,
			MACDFast:   cfg.MACDFast,
			MACDSlow:   cfg.MACDSlow,
			MACDSignal: cfg.MACDSignal,
			ADXPeriod:  cfg.ADXPeriod,
			ATRPeriod:  cfg.ATRPeriod,
		},
		Thresholds:         ThresholdsFromConfig(cfg),
		Logger:             logger,
		Now:                time.Now,
		SignalTimeframe:    cfg.SignalTimeframe,
		MomentumTimeframe:  cfg.MomentumTimeframe,
		SignalCandles:      cfg.SignalCandles,
		MinSignalCandles:   cfg.MinSignalCandles,
		MomentumCandles:    cfg.MomentumCandles,
		MinMomentumCandles: cfg.MinMomentumCandles,
		VetoUnavailable:    cfg.FlowUnavailablePolicy == config.FlowVeto,
	}
}

// Generate evaluates symbol. It returns nil without error when there is no
// trade: insufficient data, no conviction, or a size below the minimum.
func (g *Generator) Generate(ctx context.Context, symbol string, equity float64, instr models.InstrumentInfo) (*models.TradeSignal, error) {
	signalBars, err := g.Market.Candles(ctx, symbol, g.SignalTimeframe, g.SignalCandles)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles for %s: %w", g.SignalTimeframe, symbol, err)
	}
	if len(signalBars) < g.MinSignalCandles {
		g.Logger.Debug("%s: %d signal candles, need %d", symbol, len(signalBars), g.MinSignalCandles)
		return nil, nil
	}
	momentumBars, err := g.Market.Candles(ctx, symbol, g.MomentumTimeframe, g.MomentumCandles)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candles for %s: %w", g.MomentumTimeframe, symbol, err)
	}
	if len(momentumBars) < g.MinMomentumCandles {
		g.Logger.Debug("%s: %d momentum candles, need %d", symbol, len(momentumBars), g.MinMomentumCandles)
		return nil, nil
	}

	in := Inputs{FundingRate: 0, LongShortRatio: 1.0}
	var ok bool
	if in.Signal, ok = indicators.Compute(signalBars, g.Params); !ok {
		return nil, nil
	}
	if in.Momentum, ok = indicators.Compute(momentumBars, g.Params); !ok {
		return nil, nil
	}

	if fr, err := g.Market.FundingRate(ctx, symbol); err != nil {
		g.Logger.Warning("%s: funding rate unavailable, using 0: %v", symbol, err)
	} else {
		in.FundingRate = fr
	}
	if ls, err := g.Market.LongShortRatio(ctx, symbol); err != nil {
		g.Logger.Warning("%s: long/short ratio unavailable, using 1.0: %v", symbol, err)
	} else {
		in.LongShortRatio = ls
	}

	if flow, available := g.Flow.Signal(ctx, symbol); available {
		in.Flow = &flow
	} else if g.VetoUnavailable {
		g.Logger.Info("%s: flow signal unavailable, skipping under veto policy", symbol)
		return nil, nil
	}

	long := Evaluate(models.Long, in, g.Thresholds)
	short := Evaluate(models.Short, in, g.Thresholds)
	g.Logger.Debug("%s: long tally=%d conviction=%s, short tally=%d conviction=%s", symbol, long.Tally, long.Conviction, short.Tally, short.Conviction)
	details, ok := Decide(long, short)
	if !ok {
		return nil, nil
	}

	entry := in.Signal.Price
	exits, err := g.Exits.Exits(details.Direction, entry, in.Signal.ATR, details.Conviction)
	if err != nil {
		g.Logger.Info("%s: no exits: %v", symbol, err)
		return nil, nil
	}
	size, err := g.Sizer.Size(equity, entry, exits.StopLoss, details.Conviction, instr)
	if err != nil {
		if errors.Is(err, sizing.ErrBelowMinimum) || errors.Is(err, sizing.ErrZeroStopDistance) {
			g.Logger.Info("%s: %v", symbol, err)
			return nil, nil
		}
		return nil, err
	}

	sig := &models.TradeSignal{
		Symbol:         symbol,
		Direction:      details.Direction,
		EntryPrice:     entry,
		StopLoss:       exits.StopLoss,
		TakeProfit1:    exits.TakeProfit1,
		TakeProfit2:    exits.TakeProfit2,
		TP1Fraction:    exits.TP1Fraction,
		BreakevenStop:  exits.BreakevenStop,
		TrailDistance:  exits.TrailDistance,
		PositionSize:   size.Qty,
		Leverage:       size.Leverage,
		Notional:       size.Notional,
		Margin:         size.Margin,
		RiskAmount:     size.RiskAmount,
		RiskPct:        size.RiskPct,
		ATR:            in.Signal.ATR,
		Conviction:     details.Conviction,
		Details:        details,
		Indicators:     in.Signal,
		Flow:           in.Flow,
		FundingRate:    in.FundingRate,
		LongShortRatio: in.LongShortRatio,
		Timestamp:      g.Now(),
	}
	g.Logger.Info("%s signal %s conviction=%s tally=%d entry=%.4f stop=%.4f tp1=%.4f size=%.6f lev=%d",
		symbol, sig.Direction, sig.Conviction, details.Tally, sig.EntryPrice, sig.StopLoss, sig.TakeProfit1, sig.PositionSize, sig.Leverage)
	return sig, nil
}
