package constants

// Order sides
const (
	Buy  = "Buy"
	Sell = "Sell"
)

// Order types
const (
	Market = "Market"
	Limit  = "Limit"
)

// Bybit kline intervals
const (
	Minute1  = "1"
	Minute5  = "5"
	Minute15 = "15"
	Hour1    = "60"
	Hour4    = "240"
	Day1     = "D"
)

// Category is the Bybit product category for USDT perpetuals
const Category = "linear"

// Stop order trigger directions
const (
	TriggerRise = 1
	TriggerFall = 2
)

// Default token normalization constant for flow confidence
const FlowNormalization = 1_000_000.0
