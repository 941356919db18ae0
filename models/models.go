package models

import (
	"time"
)

// Direction is the side of a trade or position
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other side
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Conviction is the graded confidence tier of a signal
type Conviction string

const (
	ConvictionNone     Conviction = "NONE"
	ConvictionLow      Conviction = "LOW"
	ConvictionStandard Conviction = "STANDARD"
	ConvictionHigh     Conviction = "HIGH"
)

// Candle is one OHLCV bar
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// InstrumentInfo stores venue trading constraints for a symbol
type InstrumentInfo struct {
	MinNotional float64 `json:"minNotional"`
	MinQty      float64 `json:"minQty"`
	QtyStep     float64 `json:"qtyStep"`
	TickSize    float64 `json:"tickSize"`
}

// FlowDirection is the smart-money flow classification
type FlowDirection string

const (
	FlowAccumulation FlowDirection = "accumulation"
	FlowDistribution FlowDirection = "distribution"
	FlowNeutral      FlowDirection = "neutral"
)

// FlowSignal is the normalized smart-money flow reading for a token
type FlowSignal struct {
	Token             string        `json:"token"`
	Direction         FlowDirection `json:"direction"`
	Confidence        float64       `json:"confidence"`
	SmartMoneyNetflow float64       `json:"smartMoneyNetflow"`
	ExchangeNetflow   float64       `json:"exchangeNetflow"`
	Timestamp         time.Time     `json:"timestamp"`
}

// Bullish reports accumulation
func (f FlowSignal) Bullish() bool { return f.Direction == FlowAccumulation }

// Bearish reports distribution
func (f FlowSignal) Bearish() bool { return f.Direction == FlowDistribution }

// Supports reports whether the flow agrees with the given side
func (f FlowSignal) Supports(d Direction) bool {
	if d == Long {
		return f.Bullish()
	}
	return f.Bearish()
}

// Opposes reports whether the flow is against the given side
func (f FlowSignal) Opposes(d Direction) bool {
	if d == Long {
		return f.Bearish()
	}
	return f.Bullish()
}

// FlowState describes how a flow signal relates to an evaluated direction
type FlowState string

const (
	FlowAligned FlowState = "aligned"
	FlowOpposed FlowState = "opposed"
	FlowAbsent  FlowState = "absent"
)

// SignalDetails records which scoring conditions fired for one direction
type SignalDetails struct {
	Direction            Direction  `json:"direction"`
	FlowState            FlowState  `json:"flowState"`
	FlowAligned          bool       `json:"flowAligned"`
	FlowOpposed          bool       `json:"flowOpposed"`
	TrendStructure       bool       `json:"trendStructure"`
	Momentum             bool       `json:"momentum"`
	TrendingMarket       bool       `json:"trendingMarket"`
	FavorablePositioning bool       `json:"favorablePositioning"`
	Tally                int        `json:"tally"`
	Conviction           Conviction `json:"conviction"`
}

// Count returns the number of points that fired
func (s SignalDetails) Count() int {
	n := 0
	for _, hit := range []bool{s.FlowAligned, s.TrendStructure, s.Momentum, s.TrendingMarket, s.FavorablePositioning} {
		if hit {
			n++
		}
	}
	return n
}

// IndicatorSnapshot is the latest-candle indicator set carried on a signal
type IndicatorSnapshot struct {
	Price       float64 `json:"price"`
	EMAFast     float64 `json:"emaFast"`
	EMASlow     float64 `json:"emaSlow"`
	EMAFastPrev float64 `json:"emaFastPrev"`
	EMASlowPrev float64 `json:"emaSlowPrev"`
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macdSignal"`
	MACDHist    float64 `json:"macdHist"`
	ADX         float64 `json:"adx"`
	ATR         float64 `json:"atr"`
	VWAP        float64 `json:"vwap"`
}

// TradeSignal is an accepted entry decision
type TradeSignal struct {
	Symbol         string            `json:"symbol"`
	Direction      Direction         `json:"direction"`
	EntryPrice     float64           `json:"entryPrice"`
	StopLoss       float64           `json:"stopLoss"`
	TakeProfit1    float64           `json:"takeProfit1"`
	TakeProfit2    float64           `json:"takeProfit2,omitempty"`
	TP1Fraction    float64           `json:"tp1Fraction"`
	BreakevenStop  float64           `json:"breakevenStop"`
	TrailingStop   float64           `json:"trailingStop,omitempty"`
	TrailDistance  float64           `json:"trailDistance,omitempty"`
	PositionSize   float64           `json:"positionSize"`
	Leverage       int               `json:"leverage"`
	Notional       float64           `json:"notional"`
	Margin         float64           `json:"margin"`
	RiskAmount     float64           `json:"riskAmount"`
	RiskPct        float64           `json:"riskPct"`
	ATR            float64           `json:"atr"`
	Conviction     Conviction        `json:"conviction"`
	Details        SignalDetails     `json:"details"`
	Indicators     IndicatorSnapshot `json:"indicators"`
	Flow           *FlowSignal       `json:"flow,omitempty"`
	FundingRate    float64           `json:"fundingRate"`
	LongShortRatio float64           `json:"longShortRatio"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Confidence returns the flow confidence backing the signal, 0 without flow
func (s TradeSignal) Confidence() float64 {
	if s.Flow == nil {
		return 0
	}
	return s.Flow.Confidence
}

// Position is an open position tracked by the risk manager
type Position struct {
	Symbol        string     `json:"symbol"`
	Direction     Direction  `json:"direction"`
	EntryPrice    float64    `json:"entryPrice"`
	Size          float64    `json:"size"`
	InitialSize   float64    `json:"initialSize"`
	Leverage      int        `json:"leverage"`
	Conviction    Conviction `json:"conviction"`
	StopLoss      float64    `json:"stopLoss"`
	TakeProfit1   float64    `json:"takeProfit1"`
	TakeProfit2   float64    `json:"takeProfit2,omitempty"`
	TP1Fraction   float64    `json:"tp1Fraction"`
	BreakevenStop float64    `json:"breakevenStop"`
	TrailDistance float64    `json:"trailDistance,omitempty"`
	PartialTaken  bool       `json:"partialTaken"`
	OpenedAt      time.Time  `json:"openedAt"`
}

// PositionFromSignal builds the registry record for a filled entry
func PositionFromSignal(sig TradeSignal, fillPrice, size float64, openedAt time.Time) Position {
	return Position{
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		EntryPrice:    fillPrice,
		Size:          size,
		InitialSize:   size,
		Leverage:      sig.Leverage,
		Conviction:    sig.Conviction,
		StopLoss:      sig.StopLoss,
		TakeProfit1:   sig.TakeProfit1,
		TakeProfit2:   sig.TakeProfit2,
		TP1Fraction:   sig.TP1Fraction,
		BreakevenStop: sig.BreakevenStop,
		TrailDistance: sig.TrailDistance,
		OpenedAt:      openedAt,
	}
}

// PositionUpdate carries only the position fields being changed
type PositionUpdate struct {
	Size         *float64
	StopLoss     *float64
	PartialTaken *bool
}

// PnL returns realized profit for closing qty at exit
func (p Position) PnL(exit, qty float64) float64 {
	if p.Direction == Long {
		return (exit - p.EntryPrice) * qty
	}
	return (p.EntryPrice - exit) * qty
}

// StopHit reports whether price breached the stop
func (p Position) StopHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Direction == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// Reached reports whether price is at or beyond a profit level
func (p Position) Reached(price, level float64) bool {
	if level <= 0 {
		return false
	}
	if p.Direction == Long {
		return price >= level
	}
	return price <= level
}

// CloseReason identifies why a position (or part of it) was closed
type CloseReason string

const (
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonPartialTP  CloseReason = "partial_take_profit"
	ReasonEarlyExit  CloseReason = "early_exit"
	ReasonManual     CloseReason = "manual"
)

// TradeEvent is a realized P&L event on a position
type TradeEvent struct {
	Symbol     string      `json:"symbol"`
	Direction  Direction   `json:"direction"`
	Reason     CloseReason `json:"reason"`
	Detail     string      `json:"detail,omitempty"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	Qty        float64     `json:"qty"`
	Remaining  float64     `json:"remaining"`
	PnL        float64     `json:"pnl"`
	Final      bool        `json:"final"`
	Time       time.Time   `json:"time"`
}

// RiskStats is the risk manager view exposed to dashboards
type RiskStats struct {
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"winRate"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	DailyPnL          float64 `json:"dailyPnl"`
	TotalPnL          float64 `json:"totalPnl"`
	PeakEquity        float64 `json:"peakEquity"`
	TradesToday       int     `json:"tradesToday"`
	MaxTradesPerDay   int     `json:"maxTradesPerDay"`
	TradingHalted     bool    `json:"tradingHalted"`
	HaltReason        string  `json:"haltReason,omitempty"`
	ActivePositions   int     `json:"activePositions"`
	MaxConcurrent     int     `json:"maxConcurrent"`
}

// EquitySnapshot records account equity for the equity curve
type EquitySnapshot struct {
	Time          time.Time `json:"time"`
	Equity        float64   `json:"equity"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	RealizedPnL   float64   `json:"realizedPnl"`
}

// AlertType labels operator alerts
type AlertType string

const (
	AlertEarlyExit      AlertType = "early_exit"
	AlertStopHit        AlertType = "stop_hit"
	AlertTPReached      AlertType = "tp_reached"
	AlertCircuitBreaker AlertType = "circuit_breaker"
	AlertStrongSignal   AlertType = "strong_signal"
)

// Alert is an operator notification
type Alert struct {
	Time    time.Time   `json:"time"`
	Type    AlertType   `json:"type"`
	Symbol  string      `json:"symbol"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FlowObservation is a flow reading logged for later signal evaluation
type FlowObservation struct {
	Time   time.Time  `json:"time"`
	Symbol string     `json:"symbol"`
	Signal FlowSignal `json:"signal"`
	Price  float64    `json:"price"`
}

// VenuePosition is a position as reported by the exchange
type VenuePosition struct {
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entryPrice"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
}

// OrderResult is the venue confirmation of an order
type OrderResult struct {
	OrderID   string  `json:"orderId"`
	FillPrice float64 `json:"fillPrice"`
	Qty       float64 `json:"qty"`
}
