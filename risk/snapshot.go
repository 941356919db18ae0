package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"smartflow-perp/internal/utils"
	"smartflow-perp/models"
)

// State is the persisted form of the manager
type State struct {
	DayOpenISO        string               `json:"day_open_iso"`
	Timezone          string               `json:"timezone"`
	PeakEquity        float64              `json:"peak_equity"`
	DailyPnL          float64              `json:"daily_pnl"`
	TotalPnL          float64              `json:"total_pnl"`
	Wins              int                  `json:"wins"`
	Losses            int                  `json:"losses"`
	ConsecutiveLosses int                  `json:"consecutive_losses"`
	TradesToday       int                  `json:"trades_today"`
	Halted            bool                 `json:"halted"`
	HaltKind          HaltKind             `json:"halt_kind,omitempty"`
	HaltReason        string               `json:"halt_reason,omitempty"`
	Positions         []models.Position    `json:"positions"`
	LastEntry         map[string]time.Time `json:"last_entry"`
	SavedAt           time.Time            `json:"saved_at"`
}

// Snapshot captures the current state
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		DayOpenISO:        m.dayOpen.UTC().Format(time.RFC3339),
		Timezone:          m.loc.String(),
		PeakEquity:        m.peakEquity,
		DailyPnL:          m.dailyPnL,
		TotalPnL:          m.totalPnL,
		Wins:              m.wins,
		Losses:            m.losses,
		ConsecutiveLosses: m.consecutiveLosses,
		TradesToday:       m.tradesToday,
		Halted:            m.halted,
		HaltKind:          m.haltKind,
		HaltReason:        m.haltReason,
		Positions:         make([]models.Position, 0, len(m.positions)),
		LastEntry:         make(map[string]time.Time, len(m.lastEntry)),
		SavedAt:           m.now(),
	}
	for _, p := range m.positions {
		s.Positions = append(s.Positions, p)
	}
	for k, v := range m.lastEntry {
		s.LastEntry[k] = v
	}
	return s
}

// Restore loads a saved state. Daily counters only carry over when the
// snapshot belongs to the current trading day; a daily loss halt from an
// earlier day is dropped.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peakEquity = s.PeakEquity
	if m.peakEquity < m.startingCapital {
		m.peakEquity = m.startingCapital
	}
	m.totalPnL = s.TotalPnL
	m.wins = s.Wins
	m.losses = s.Losses
	m.consecutiveLosses = s.ConsecutiveLosses
	m.halted = s.Halted
	m.haltKind = s.HaltKind
	m.haltReason = s.HaltReason

	m.positions = make(map[string]models.Position, len(s.Positions))
	for _, p := range s.Positions {
		m.positions[p.Symbol] = p
	}
	m.lastEntry = make(map[string]time.Time, len(s.LastEntry))
	for k, v := range s.LastEntry {
		m.lastEntry[k] = v
	}

	today := utils.DayOpen(m.loc, m.now())
	m.dayOpen = today
	prev, err := time.Parse(time.RFC3339, s.DayOpenISO)
	if err == nil && utils.SameTradingDay(m.loc, prev, m.now()) {
		m.dailyPnL = s.DailyPnL
		m.tradesToday = s.TradesToday
		m.logger.Info("risk state restored for the current trading day")
		return
	}
	m.dailyPnL = 0
	m.tradesToday = 0
	if m.halted && m.haltKind == HaltDailyLoss {
		m.clearHaltLocked()
	}
	m.logger.Info("risk state restored from a previous trading day; daily counters reset")
}

// Save writes the snapshot atomically
func (m *Manager) Save(path string) error {
	if path == "" {
		return nil
	}
	return utils.WriteJSONAtomic(path, m.Snapshot())
}

// Load restores from path. A missing file is not an error.
func (m *Manager) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read risk state: %w", err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("parse risk state %s: %w", path, err)
	}
	m.Restore(s)
	return nil
}
