package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"smartflow-perp/engine"
)

func statusURL(addr string) (string, error) {
	url := strings.TrimSpace(addr)
	if url == "" {
		return "", fmt.Errorf("status address is empty")
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/") + "/status", nil
}

func fetch(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request error: %s\n%s", resp.Status, string(body))
	}
	return body, nil
}

func printStatus(w io.Writer, st engine.Status) {
	mode := "live"
	if st.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(w, "Time: %s\n", formatTime(st.Time))
	fmt.Fprintf(w, "Preset: %s (%s) symbols=%s\n", st.Preset, mode, strings.Join(st.Symbols, ","))
	fmt.Fprintf(w, "Equity: %.2f\n", st.Equity)
	fmt.Fprintf(w, "Cycles: %d last=%s took=%s\n", st.Cycles, formatTime(st.LastCycle), orNA(st.LastCycleTook))
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}

	r := st.Risk
	if r.TradingHalted {
		fmt.Fprintf(w, "Trading: HALTED (%s)\n", r.HaltReason)
	} else {
		fmt.Fprintln(w, "Trading: active")
	}
	fmt.Fprintf(w, "Risk: wins=%d losses=%d winRate=%.1f%% streak=%d daily=%.2f total=%.2f peak=%.2f trades=%d/%d\n",
		r.Wins, r.Losses, r.WinRate*100, r.ConsecutiveLosses, r.DailyPnL, r.TotalPnL, r.PeakEquity,
		r.TradesToday, r.MaxTradesPerDay)

	if len(st.Positions) == 0 {
		fmt.Fprintln(w, "Positions: none")
		return
	}
	fmt.Fprintf(w, "Positions: %d/%d\n", len(st.Positions), r.MaxConcurrent)
	for _, p := range st.Positions {
		fmt.Fprintf(w, "  %s %s size=%g entry=%.4f SL=%.4f TP1=%.4f partial=%t opened=%s\n",
			p.Symbol, p.Direction, p.Size, p.EntryPrice, p.StopLoss, p.TakeProfit1, p.PartialTaken,
			formatTime(p.OpenedAt))
	}
}

func main() {
	defaultAddr := os.Getenv("STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6061"
	}

	addr := flag.String("addr", defaultAddr, "status server address or URL")
	jsonOut := flag.Bool("json", false, "print raw JSON")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP timeout")
	flag.Parse()

	url, err := statusURL(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	body, err := fetch(&http.Client{Timeout: *timeout}, url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var st engine.Status
	if err := json.Unmarshal(body, &st); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}
	printStatus(os.Stdout, st)
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}
