package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartflow-perp/models"
)

// Recorder exposes bot activity as Prometheus metrics on its own registry
type Recorder struct {
	reg *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	signals        *prometheus.CounterVec
	tradesOpened   *prometheus.CounterVec
	tradeEvents    *prometheus.CounterVec
	realizedPnL    *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	equity         prometheus.Gauge
	unrealizedPnL  prometheus.Gauge
	openPositions  prometheus.Gauge
	halted         prometheus.Gauge
	lossStreak     prometheus.Gauge
	dailyPnL       prometheus.Gauge
	flowConfidence *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_cycles_total",
			Help: "Trading cycles run, by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartflow_cycle_duration_seconds",
			Help:    "Duration of one trading cycle",
			Buckets: prometheus.DefBuckets,
		}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_signals_total",
			Help: "Accepted entry signals",
		}, []string{"symbol", "direction", "conviction"}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_trades_opened_total",
			Help: "Entries filled",
		}, []string{"symbol", "direction"}),
		tradeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_trade_events_total",
			Help: "Realized exit events, by reason",
		}, []string{"symbol", "reason"}),
		realizedPnL: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_realized_pnl_abs_total",
			Help: "Absolute realized P&L, split by sign",
		}, []string{"sign"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartflow_alerts_total",
			Help: "Operator alerts emitted",
		}, []string{"type"}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_equity",
			Help: "Account equity",
		}),
		unrealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_unrealized_pnl",
			Help: "Unrealized P&L across open positions",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_open_positions",
			Help: "Open positions",
		}),
		halted: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_trading_halted",
			Help: "1 while a circuit breaker halts new entries",
		}),
		lossStreak: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_consecutive_losses",
			Help: "Current losing streak",
		}),
		dailyPnL: f.NewGauge(prometheus.GaugeOpts{
			Name: "smartflow_daily_pnl",
			Help: "Realized P&L for the current trading day",
		}),
		flowConfidence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartflow_flow_confidence",
			Help: "Signed flow confidence: positive accumulation, negative distribution",
		}, []string{"symbol"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Cycle records one cycle's duration and outcome
func (r *Recorder) Cycle(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(d.Seconds())
}

// Signal counts an accepted signal
func (r *Recorder) Signal(sig models.TradeSignal) {
	r.signals.WithLabelValues(sig.Symbol, string(sig.Direction), string(sig.Conviction)).Inc()
}

// Risk mirrors the risk manager stats
func (r *Recorder) Risk(st models.RiskStats) {
	h := 0.0
	if st.TradingHalted {
		h = 1
	}
	r.halted.Set(h)
	r.openPositions.Set(float64(st.ActivePositions))
	r.lossStreak.Set(float64(st.ConsecutiveLosses))
	r.dailyPnL.Set(st.DailyPnL)
}

func (r *Recorder) TradeOpened(sig models.TradeSignal, _ models.OrderResult) {
	r.tradesOpened.WithLabelValues(sig.Symbol, string(sig.Direction)).Inc()
}

func (r *Recorder) TradeEvent(ev models.TradeEvent) {
	r.tradeEvents.WithLabelValues(ev.Symbol, string(ev.Reason)).Inc()
	if ev.PnL > 0 {
		r.realizedPnL.WithLabelValues("profit").Add(ev.PnL)
	} else if ev.PnL < 0 {
		r.realizedPnL.WithLabelValues("loss").Add(-ev.PnL)
	}
}

func (r *Recorder) Alert(a models.Alert) {
	r.alerts.WithLabelValues(string(a.Type)).Inc()
}

func (r *Recorder) Equity(s models.EquitySnapshot) {
	r.equity.Set(s.Equity)
	r.unrealizedPnL.Set(s.UnrealizedPnL)
}

func (r *Recorder) Flow(obs models.FlowObservation) {
	v := obs.Signal.Confidence
	switch obs.Signal.Direction {
	case models.FlowDistribution:
		v = -v
	case models.FlowNeutral:
		v = 0
	}
	r.flowConfidence.WithLabelValues(obs.Symbol).Set(v)
}
