package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/journal"
	"smartflow-perp/models"
)

type summary struct {
	Events  int
	Wins    int
	Losses  int
	PnL     float64
	Profit  float64
	Loss    float64
	Reasons map[models.CloseReason]int
}

func (s *summary) add(ev models.TradeEvent) {
	if s.Reasons == nil {
		s.Reasons = make(map[models.CloseReason]int)
	}
	s.Events++
	s.PnL += ev.PnL
	s.Reasons[ev.Reason]++
	if ev.PnL > 0 {
		s.Wins++
		s.Profit += ev.PnL
	} else {
		s.Losses++
		s.Loss += ev.PnL
	}
}

// readEvents loads realized events at or after since, oldest first
func readEvents(r io.Reader, since time.Time, symbol string) ([]models.TradeEvent, error) {
	var out []models.TradeEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var ev models.TradeEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ev.Time.Before(since) {
			continue
		}
		if symbol != "" && !strings.EqualFold(ev.Symbol, symbol) {
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func summarize(events []models.TradeEvent) (map[string]*summary, *summary) {
	bySymbol := make(map[string]*summary)
	total := &summary{}
	for _, ev := range events {
		s, ok := bySymbol[ev.Symbol]
		if !ok {
			s = &summary{}
			bySymbol[ev.Symbol] = s
		}
		s.add(ev)
		total.add(ev)
	}
	return bySymbol, total
}

func writeReport(w io.Writer, label string, events []models.TradeEvent) {
	fmt.Fprintf(w, "Realized PnL %s\n", label)
	fmt.Fprintf(w, "%-16s %-10s %-6s %-20s %-10s %-12s %-12s %-10s\n",
		"Time", "Symbol", "Side", "Reason", "Qty", "Entry", "Exit", "PnL")
	for _, ev := range events {
		fmt.Fprintf(w, "%-16s %-10s %-6s %-20s %-10.4f %-12.4f %-12.4f %-10.4f\n",
			ev.Time.In(time.Local).Format("2006-01-02 15:04"), ev.Symbol, ev.Direction, ev.Reason,
			ev.Qty, ev.EntryPrice, ev.ExitPrice, ev.PnL)
	}

	bySymbol, total := summarize(events)
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Fprintln(w)
	for _, sym := range symbols {
		s := bySymbol[sym]
		fmt.Fprintf(w, "%-10s events=%d wins=%d losses=%d pnl=%.4f\n", sym, s.Events, s.Wins, s.Losses, s.PnL)
	}
	winRate := 0.0
	if total.Events > 0 {
		winRate = float64(total.Wins) / float64(total.Events) * 100
	}
	fmt.Fprintf(w, "\nTotal PnL: %.4f (profit %.4f, loss %.4f), win rate %.1f%%\n",
		total.PnL, total.Profit, total.Loss, winRate)
}

func writeCSV(path string, events []models.TradeEvent) error {
	var b strings.Builder
	b.WriteString("time,symbol,side,reason,qty,entry,exit,pnl,final\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%.6f,%.6f,%.6f,%.6f,%t\n",
			ev.Time.UTC().Format(time.RFC3339), ev.Symbol, ev.Direction, ev.Reason,
			ev.Qty, ev.EntryPrice, ev.ExitPrice, ev.PnL, ev.Final)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func main() {
	cfg := config.LoadConfig()

	dir := flag.String("dir", cfg.DataDir, "journal directory")
	hours := flag.Int("hours", 24, "lookback window in hours")
	symbol := flag.String("symbol", "", "limit to one symbol")
	today := flag.Bool("today", false, "limit to the current trading day; overrides -hours")
	outCSV := flag.String("out", "", "path to write CSV report (empty to disable)")
	flag.Parse()

	now := time.Now().In(cfg.Location())
	since := now.Add(-time.Duration(*hours) * time.Hour)
	label := fmt.Sprintf("last %dh", *hours)
	if *today {
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		label = "today"
	}

	f, err := os.Open(filepath.Join(*dir, journal.EventsJSONL))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	events, err := readEvents(f, since, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read journal: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("No realized events in the selected window.")
		return
	}

	writeReport(os.Stdout, label, events)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, events); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("CSV saved to %s\n", *outCSV)
	}
}
