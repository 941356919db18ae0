package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preset != "default" || cfg.ExitMode != ExitFixed || cfg.FlowUnavailablePolicy != FlowNeutral {
		t.Fatalf("unexpected policy defaults: %+v", cfg)
	}
	if cfg.BaseRiskPct != 0.02 || cfg.HighRiskPct != 0.03 || cfg.BaseLeverage != 3 || cfg.HighLeverage != 6 {
		t.Fatalf("unexpected risk defaults: %+v", cfg)
	}
	if cfg.FlowCacheTTL != 5*time.Minute || cfg.CallTimeout != 30*time.Second || cfg.LoopInterval != 12*time.Second {
		t.Fatalf("unexpected durations: ttl=%v timeout=%v loop=%v", cfg.FlowCacheTTL, cfg.CallTimeout, cfg.LoopInterval)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "BTCUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Fatalf("unexpected symbols: %v", cfg.Symbols)
	}
	if cfg.MaxTradesPerDay != 0 || cfg.MaxConcurrentTrades != 5 {
		t.Fatalf("unexpected admission limits: %+v", cfg)
	}
}

func TestLoadPresetFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "bot.yaml")
	body := "preset: atr\nsymbols: [SOLUSDT]\natr_tp_mult: 3\nloop_interval: 20s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BASE_RISK_PCT", "1.5")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Preset != "atr" || cfg.ExitMode != ExitATR || cfg.ATRTrailMult != 1.0 {
		t.Fatalf("preset not applied: %+v", cfg)
	}
	if cfg.ATRTPMult != 3 || cfg.LoopInterval != 20*time.Second {
		t.Fatalf("file values should override preset: tp=%v loop=%v", cfg.ATRTPMult, cfg.LoopInterval)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "SOLUSDT" {
		t.Fatalf("symbols from file: %v", cfg.Symbols)
	}
	if cfg.BaseRiskPct != 0.015 || !cfg.DryRun {
		t.Fatalf("env overrides: risk=%v dry=%v", cfg.BaseRiskPct, cfg.DryRun)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := chdirTemp(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"rsi bands", "rsi_long_min: 80\n", "rsi bands"},
		{"allocation over one", "allocation: 1.5\n", "Allocation"},
		{"bad policy", "flow_unavailable_policy: maybe\n", "FlowUnavailablePolicy"},
		{"ema order", "ema_fast: 60\n", "EMAFast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyPresetUnknown(t *testing.T) {
	cfg := &Config{}
	if err := ApplyPreset(cfg, "yolo"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
	if err := ApplyPreset(cfg, "strict"); err != nil || cfg.FlowUnavailablePolicy != FlowVeto || cfg.MaxTradesPerDay != 4 {
		t.Fatalf("strict preset not applied: %+v err=%v", cfg, err)
	}
}

func TestUseMockFlow(t *testing.T) {
	cfg := &Config{}
	if !cfg.UseMockFlow() {
		t.Fatalf("missing key must select the mock provider")
	}
	cfg.NansenAPIKey = "k"
	if cfg.UseMockFlow() {
		t.Fatalf("key set without mock flag should use the live provider")
	}
}

func TestSymbolAllocation(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "AVAXUSDT"}}
	if got := cfg.SymbolAllocation(); got != 0.25 {
		t.Fatalf("even split = %v, want 0.25", got)
	}
	cfg.Allocation = 0.4
	if got := cfg.SymbolAllocation(); got != 0.4 {
		t.Fatalf("explicit allocation = %v, want 0.4", got)
	}
}
