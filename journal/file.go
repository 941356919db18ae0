package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"smartflow-perp/logging"
	"smartflow-perp/models"
)

const (
	TradesCSV    = "trades.csv"
	TradesJSONL  = "trades.jsonl"
	EventsJSONL  = "events.jsonl"
	AlertsJSONL  = "alerts.jsonl"
	EquityJSONL  = "equity.jsonl"
	FlowLogJSONL = "flow_signals.jsonl"
)

var csvHeader = []string{
	"timestamp", "symbol", "direction", "confidence_score", "entry_price", "stop_loss",
	"take_profit", "position_size", "leverage", "risk_pct", "status", "pnl", "drawdown",
}

// File appends the trade log as CSV and every record type as JSON lines
// under Dir
type File struct {
	Dir    string
	Logger logging.LoggerInterface
	// Drawdown reports the current drawdown fraction for the CSV column
	Drawdown func() float64

	mu sync.Mutex
}

// NewFile creates the journal directory
func NewFile(dir string, logger logging.LoggerInterface) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &File{Dir: dir, Logger: logger}, nil
}

func (f *File) drawdown() float64 {
	if f.Drawdown == nil {
		return 0
	}
	return f.Drawdown()
}

func (f *File) appendJSON(name string, v interface{}) {
	line, err := json.Marshal(v)
	if err != nil {
		f.Logger.Error("journal encode %s: %v", name, err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(filepath.Join(f.Dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		f.Logger.Error("journal open %s: %v", name, err)
		return
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		f.Logger.Error("journal write %s: %v", name, err)
	}
}

func (f *File) appendCSV(row []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := filepath.Join(f.Dir, TradesCSV)
	_, statErr := os.Stat(path)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		f.Logger.Error("journal open %s: %v", TradesCSV, err)
		return
	}
	defer fh.Close()
	w := csv.NewWriter(fh)
	if os.IsNotExist(statErr) {
		_ = w.Write(csvHeader)
	}
	_ = w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Logger.Error("journal write %s: %v", TradesCSV, err)
	}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// TradeOpened writes the entry row and the full signal
func (f *File) TradeOpened(sig models.TradeSignal, fill models.OrderResult) {
	f.appendCSV([]string{
		sig.Timestamp.UTC().Format(time.RFC3339),
		sig.Symbol,
		string(sig.Direction),
		num(sig.Confidence()),
		num(fill.FillPrice),
		num(sig.StopLoss),
		num(sig.TakeProfit1),
		num(fill.Qty),
		strconv.Itoa(sig.Leverage),
		num(sig.RiskPct),
		"open",
		"0",
		num(f.drawdown()),
	})
	f.appendJSON(TradesJSONL, struct {
		Signal models.TradeSignal `json:"signal"`
		Fill   models.OrderResult `json:"fill"`
	}{sig, fill})
}

// TradeEvent writes an exit row and the event
func (f *File) TradeEvent(ev models.TradeEvent) {
	f.appendCSV([]string{
		ev.Time.UTC().Format(time.RFC3339),
		ev.Symbol,
		string(ev.Direction),
		"",
		num(ev.EntryPrice),
		"",
		num(ev.ExitPrice),
		num(ev.Qty),
		"",
		"",
		string(ev.Reason),
		num(ev.PnL),
		num(f.drawdown()),
	})
	f.appendJSON(EventsJSONL, ev)
}

func (f *File) Alert(a models.Alert)            { f.appendJSON(AlertsJSONL, a) }
func (f *File) Equity(s models.EquitySnapshot)  { f.appendJSON(EquityJSONL, s) }
func (f *File) Flow(obs models.FlowObservation) { f.appendJSON(FlowLogJSONL, obs) }
