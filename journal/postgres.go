package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"smartflow-perp/logging"
	"smartflow-perp/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		opened_at TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		conviction TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		take_profit_1 DOUBLE PRECISION NOT NULL,
		take_profit_2 DOUBLE PRECISION NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		leverage INTEGER NOT NULL,
		risk_pct DOUBLE PRECISION NOT NULL,
		order_id TEXT,
		signal JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS trade_events (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		reason TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		remaining DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		final BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		symbol TEXT,
		message TEXT NOT NULL,
		data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS equity_snapshots (
		ts TIMESTAMPTZ PRIMARY KEY,
		equity DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS flow_signals (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		smart_money_netflow DOUBLE PRECISION NOT NULL,
		exchange_netflow DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL
	)`,
}

// Postgres mirrors the journal into PostgreSQL tables
type Postgres struct {
	DB      *sql.DB
	Logger  logging.LoggerInterface
	Timeout time.Duration
}

// NewPostgres connects, pings and creates the tables if missing
func NewPostgres(ctx context.Context, dsn string, logger logging.LoggerInterface) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &Postgres{DB: db, Logger: logger, Timeout: 5 * time.Second}, nil
}

// Close closes the connection pool
func (p *Postgres) Close() error { return p.DB.Close() }

func (p *Postgres) exec(what, query string, args ...interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()
	if _, err := p.DB.ExecContext(ctx, query, args...); err != nil {
		p.Logger.Error("postgres insert %s: %v", what, err)
	}
}

func jsonb(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}

func (p *Postgres) TradeOpened(sig models.TradeSignal, fill models.OrderResult) {
	p.exec("trade", `INSERT INTO trades (opened_at, symbol, direction, conviction, confidence, entry_price,
		stop_loss, take_profit_1, take_profit_2, qty, leverage, risk_pct, order_id, signal)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		sig.Timestamp, sig.Symbol, string(sig.Direction), string(sig.Conviction), sig.Confidence(), fill.FillPrice,
		sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, fill.Qty, sig.Leverage, sig.RiskPct, fill.OrderID, jsonb(sig))
}

func (p *Postgres) TradeEvent(ev models.TradeEvent) {
	p.exec("trade event", `INSERT INTO trade_events (ts, symbol, direction, reason, entry_price, exit_price,
		qty, remaining, pnl, final) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.Time, ev.Symbol, string(ev.Direction), string(ev.Reason), ev.EntryPrice, ev.ExitPrice,
		ev.Qty, ev.Remaining, ev.PnL, ev.Final)
}

func (p *Postgres) Alert(a models.Alert) {
	p.exec("alert", `INSERT INTO alerts (ts, type, symbol, message, data) VALUES ($1,$2,$3,$4,$5)`,
		a.Time, string(a.Type), a.Symbol, a.Message, jsonb(a.Data))
}

func (p *Postgres) Equity(s models.EquitySnapshot) {
	p.exec("equity", `INSERT INTO equity_snapshots (ts, equity, unrealized_pnl, realized_pnl)
		VALUES ($1,$2,$3,$4) ON CONFLICT (ts) DO NOTHING`,
		s.Time, s.Equity, s.UnrealizedPnL, s.RealizedPnL)
}

func (p *Postgres) Flow(obs models.FlowObservation) {
	p.exec("flow", `INSERT INTO flow_signals (ts, symbol, direction, confidence, smart_money_netflow,
		exchange_netflow, price) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		obs.Time, obs.Symbol, string(obs.Signal.Direction), obs.Signal.Confidence,
		obs.Signal.SmartMoneyNetflow, obs.Signal.ExchangeNetflow, obs.Price)
}
