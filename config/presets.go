package config

import (
	"fmt"
	"sort"
	"time"
)

var presets = map[string]func(*Config){
	// default keeps the struct defaults: tiered fixed-percentage exits and a
	// neutral treatment of a missing flow signal
	"default": func(*Config) {},
	"strict": func(c *Config) {
		c.FlowUnavailablePolicy = FlowVeto
		c.MaxTradesPerDay = 4
	},
	"atr": func(c *Config) {
		c.ExitMode = ExitATR
		c.ATRStopMult = 1.5
		c.ATRTPMult = 2.5
		c.ATRTrailMult = 1.0
		c.TrailFraction = 0.4
	},
	"scalp": func(c *Config) {
		c.LoopInterval = 5 * time.Second
		c.TP1Pct = 0.0025
		c.TP2Pct = 0.005
	},
}

// Presets lists the known preset names
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset overlays a named preset onto cfg
func ApplyPreset(cfg *Config, name string) error {
	if name == "" {
		name = "default"
	}
	apply, ok := presets[name]
	if !ok {
		return fmt.Errorf("unknown preset %q (known: %v)", name, Presets())
	}
	apply(cfg)
	cfg.Preset = name
	return nil
}
