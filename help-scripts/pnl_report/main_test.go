package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"smartflow-perp/models"
)

func journalLines(t *testing.T, events ...models.TradeEvent) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatal(err)
		}
	}
	buf.WriteString("\n")
	return &buf
}

func TestReadEventsFiltersAndSorts(t *testing.T) {
	base := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	buf := journalLines(t,
		models.TradeEvent{Symbol: "ETHUSDT", Reason: models.ReasonStopLoss, PnL: -5, Time: base.Add(2 * time.Hour)},
		models.TradeEvent{Symbol: "BTCUSDT", Reason: models.ReasonPartialTP, PnL: 6, Time: base.Add(time.Hour)},
		models.TradeEvent{Symbol: "BTCUSDT", Reason: models.ReasonTakeProfit, PnL: 9, Time: base.Add(-48 * time.Hour)},
	)

	events, err := readEvents(buf, base, "")
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(events))
	}
	if events[0].Symbol != "BTCUSDT" || events[1].Symbol != "ETHUSDT" {
		t.Fatalf("events not in time order: %+v", events)
	}

	buf = journalLines(t,
		models.TradeEvent{Symbol: "ETHUSDT", Time: base},
		models.TradeEvent{Symbol: "BTCUSDT", Time: base},
	)
	events, err = readEvents(buf, time.Time{}, "btcusdt")
	if err != nil || len(events) != 1 {
		t.Fatalf("symbol filter: %v %+v", err, events)
	}
}

func TestReadEventsBadLine(t *testing.T) {
	if _, err := readEvents(strings.NewReader("{\"symbol\":\"BTCUSDT\"}\nnot json\n"), time.Time{}, ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSummarize(t *testing.T) {
	events := []models.TradeEvent{
		{Symbol: "BTCUSDT", Reason: models.ReasonPartialTP, PnL: 6},
		{Symbol: "BTCUSDT", Reason: models.ReasonStopLoss, PnL: 0},
		{Symbol: "ETHUSDT", Reason: models.ReasonStopLoss, PnL: -3.5},
	}
	bySymbol, total := summarize(events)
	if total.Events != 3 || total.Wins != 1 || total.Losses != 2 {
		t.Fatalf("unexpected totals %+v", total)
	}
	if math.Abs(total.PnL-2.5) > 1e-9 {
		t.Fatalf("total pnl = %v, want 2.5", total.PnL)
	}
	if bySymbol["BTCUSDT"].Reasons[models.ReasonStopLoss] != 1 {
		t.Fatalf("reason count missing: %+v", bySymbol["BTCUSDT"].Reasons)
	}

	var out bytes.Buffer
	writeReport(&out, "today", events)
	if !strings.Contains(out.String(), "Total PnL: 2.5000") || !strings.Contains(out.String(), "win rate 33.3%") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	ev := models.TradeEvent{
		Symbol: "BTCUSDT", Direction: models.Long, Reason: models.ReasonTakeProfit,
		Qty: 1, EntryPrice: 100, ExitPrice: 110, PnL: 10, Final: true,
		Time: time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
	}
	if err := writeCSV(path, []models.TradeEvent{ev}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(lines))
	}
	if lines[1] != "2024-06-03T12:00:00Z,BTCUSDT,long,take_profit,1.000000,100.000000,110.000000,10.000000,true" {
		t.Fatalf("unexpected row %q", lines[1])
	}
}
