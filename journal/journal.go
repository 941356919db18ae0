package journal

import "smartflow-perp/models"

// Sink receives every record the bot produces
type Sink interface {
	TradeOpened(sig models.TradeSignal, fill models.OrderResult)
	TradeEvent(ev models.TradeEvent)
	Alert(a models.Alert)
	Equity(s models.EquitySnapshot)
	Flow(obs models.FlowObservation)
}

// Nop implements Sink with no-ops; embed it to implement a subset
type Nop struct{}

func (Nop) TradeOpened(models.TradeSignal, models.OrderResult) {}
func (Nop) TradeEvent(models.TradeEvent)                       {}
func (Nop) Alert(models.Alert)                                 {}
func (Nop) Equity(models.EquitySnapshot)                       {}
func (Nop) Flow(models.FlowObservation)                        {}

// Multi fans records out to every sink in order
type Multi []Sink

func (m Multi) TradeOpened(sig models.TradeSignal, fill models.OrderResult) {
	for _, s := range m {
		s.TradeOpened(sig, fill)
	}
}

func (m Multi) TradeEvent(ev models.TradeEvent) {
	for _, s := range m {
		s.TradeEvent(ev)
	}
}

func (m Multi) Alert(a models.Alert) {
	for _, s := range m {
		s.Alert(a)
	}
}

func (m Multi) Equity(snap models.EquitySnapshot) {
	for _, s := range m {
		s.Equity(snap)
	}
}

func (m Multi) Flow(obs models.FlowObservation) {
	for _, s := range m {
		s.Flow(obs)
	}
}
