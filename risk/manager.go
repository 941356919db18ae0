package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"smartflow-perp/config"
	"smartflow-perp/internal/utils"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

var (
	// ErrAdmission means a new entry was refused
	ErrAdmission = errors.New("trade not admitted")
	// ErrNoPosition means no position is registered for the symbol
	ErrNoPosition = errors.New("no open position")
)

// HaltKind identifies which breaker halted trading
type HaltKind string

const (
	HaltNone              HaltKind = ""
	HaltDrawdown          HaltKind = "drawdown"
	HaltConsecutiveLosses HaltKind = "consecutive_losses"
	HaltDailyLoss         HaltKind = "daily_loss"
	HaltManual            HaltKind = "manual"
)

// Limits are the breaker and admission thresholds
type Limits struct {
	MaxDrawdownPct       float64
	MaxConsecutiveLosses int
	DailyLossLimitPct    float64
	MaxConcurrent        int
	MaxTradesPerDay      int
	MinTradeInterval     time.Duration
	MinRiskReward        float64
	WinRateWarnTrades    int
	WinRateWarnPct       float64
}

// LimitsFromConfig extracts limits from cfg
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxDrawdownPct:       cfg.MaxDrawdownPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		DailyLossLimitPct:    cfg.DailyLossLimitPct,
		MaxConcurrent:        cfg.MaxConcurrentTrades,
		MaxTradesPerDay:      cfg.MaxTradesPerDay,
		MinTradeInterval:     time.Duration(cfg.MinTradeIntervalHours * float64(time.Hour)),
		MinRiskReward:        cfg.MinRiskReward,
		WinRateWarnTrades:    cfg.WinRateWarnTrades,
		WinRateWarnPct:       cfg.WinRateWarnPct,
	}
}

// Manager tracks open positions, P&L and circuit breakers. All methods are
// safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	loc    *time.Location
	now    func() time.Time
	logger logging.LoggerInterface

	startingCapital   float64
	peakEquity        float64
	dailyPnL          float64
	totalPnL          float64
	wins              int
	losses            int
	consecutiveLosses int
	tradesToday       int
	dayOpen           time.Time

	halted     bool
	haltKind   HaltKind
	haltReason string

	positions map[string]models.Position
	lastEntry map[string]time.Time
}

// NewManager creates a manager; now may be nil for the wall clock
func NewManager(limits Limits, startingCapital float64, loc *time.Location, now func() time.Time, logger logging.LoggerInterface) *Manager {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		limits:          limits,
		loc:             loc,
		now:             now,
		logger:          logger,
		startingCapital: startingCapital,
		peakEquity:      startingCapital,
		dayOpen:         utils.DayOpen(loc, now()),
		positions:       make(map[string]models.Position),
		lastEntry:       make(map[string]time.Time),
	}
}

// rollDayLocked resets daily counters at the local midnight. Only a daily
// loss halt expires with the day.
func (m *Manager) rollDayLocked() {
	today := utils.DayOpen(m.loc, m.now())
	if today.Equal(m.dayOpen) {
		return
	}
	m.logger.Info("new trading day %s: daily pnl %.2f and %d trades reset", today.Format("2006-01-02"), m.dailyPnL, m.tradesToday)
	m.dayOpen = today
	m.dailyPnL = 0
	m.tradesToday = 0
	if m.halted && m.haltKind == HaltDailyLoss {
		m.clearHaltLocked()
		m.logger.Info("daily loss halt cleared by day rollover")
	}
}

func (m *Manager) haltLocked(kind HaltKind, reason string) {
	if m.halted {
		return
	}
	m.halted = true
	m.haltKind = kind
	m.haltReason = reason
	m.logger.Error("TRADING HALTED: %s", reason)
}

func (m *Manager) clearHaltLocked() {
	m.halted = false
	m.haltKind = HaltNone
	m.haltReason = ""
}

func (m *Manager) checkLossStreakLocked() {
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		m.haltLocked(HaltConsecutiveLosses, fmt.Sprintf("%d consecutive losses", m.consecutiveLosses))
	}
}

// CheckCircuitBreakers evaluates the breakers against current equity and
// reports whether trading may continue
func (m *Manager) CheckCircuitBreakers(equity float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.halted {
		return false, m.haltReason
	}

	if m.peakEquity > 0 {
		dd := (m.peakEquity - equity) / m.peakEquity
		if dd >= m.limits.MaxDrawdownPct {
			m.haltLocked(HaltDrawdown, fmt.Sprintf("max drawdown reached: %.2f%% from peak %.2f", dd*100, m.peakEquity))
			return false, m.haltReason
		}
	}
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		m.checkLossStreakLocked()
		return false, m.haltReason
	}
	if equity > 0 && m.dailyPnL/equity <= -m.limits.DailyLossLimitPct {
		m.haltLocked(HaltDailyLoss, fmt.Sprintf("daily loss limit reached: %.2f (%.2f%%)", m.dailyPnL, m.dailyPnL/equity*100))
		return false, m.haltReason
	}

	total := m.wins + m.losses
	if m.limits.WinRateWarnTrades > 0 && total >= m.limits.WinRateWarnTrades {
		if rate := float64(m.wins) / float64(total) * 100; rate < m.limits.WinRateWarnPct {
			m.logger.Warning("win rate %.1f%% over %d trades is below %.0f%%", rate, total, m.limits.WinRateWarnPct)
		}
	}
	return true, ""
}

func (m *Manager) canTradeLocked(symbol string) (bool, string) {
	if m.halted {
		return false, "trading halted: " + m.haltReason
	}
	if last, ok := m.lastEntry[symbol]; ok && m.limits.MinTradeInterval > 0 {
		if elapsed := m.now().Sub(last); elapsed < m.limits.MinTradeInterval {
			return false, fmt.Sprintf("cooldown: %s since last %s entry", elapsed.Round(time.Second), symbol)
		}
	}
	if _, ok := m.positions[symbol]; ok {
		return false, "position already open for " + symbol
	}
	if len(m.positions) >= m.limits.MaxConcurrent {
		return false, fmt.Sprintf("max concurrent positions reached (%d)", m.limits.MaxConcurrent)
	}
	if m.limits.MaxTradesPerDay > 0 && m.tradesToday >= m.limits.MaxTradesPerDay {
		return false, fmt.Sprintf("max trades per day reached (%d)", m.limits.MaxTradesPerDay)
	}
	return true, ""
}

// CanTrade reports whether a new entry on symbol is admissible. It does not
// mutate admission state.
func (m *Manager) CanTrade(symbol string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.canTradeLocked(symbol)
}

// ValidateTrade runs the breakers, admission and reward-to-risk checks
func (m *Manager) ValidateTrade(sig models.TradeSignal, equity float64) error {
	if ok, reason := m.CheckCircuitBreakers(equity); !ok {
		return fmt.Errorf("%w: %s", ErrAdmission, reason)
	}
	if ok, reason := m.CanTrade(sig.Symbol); !ok {
		return fmt.Errorf("%w: %s", ErrAdmission, reason)
	}
	risk := math.Abs(sig.EntryPrice - sig.StopLoss)
	if risk == 0 {
		return fmt.Errorf("%w: zero stop distance", ErrAdmission)
	}
	if rr := math.Abs(sig.TakeProfit1-sig.EntryPrice) / risk; rr < m.limits.MinRiskReward {
		return fmt.Errorf("%w: reward/risk %.2f below %.2f", ErrAdmission, rr, m.limits.MinRiskReward)
	}
	return nil
}

// OpenPosition re-checks admission and registers p in one step
func (m *Manager) OpenPosition(p models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	if ok, reason := m.canTradeLocked(p.Symbol); !ok {
		return fmt.Errorf("%w: %s", ErrAdmission, reason)
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now()
	}
	m.positions[p.Symbol] = p
	m.lastEntry[p.Symbol] = m.now()
	m.tradesToday++
	m.logger.Info("position opened %s %s size=%.6f entry=%.4f stop=%.4f", p.Symbol, p.Direction, p.Size, p.EntryPrice, p.StopLoss)
	return nil
}

// UpdatePosition applies the non-nil fields of upd
func (m *Manager) UpdatePosition(symbol string, upd models.PositionUpdate) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if upd.Size != nil {
		p.Size = *upd.Size
	}
	if upd.StopLoss != nil {
		p.StopLoss = *upd.StopLoss
	}
	if upd.PartialTaken != nil {
		p.PartialTaken = *upd.PartialTaken
	}
	m.positions[symbol] = p
	return p, nil
}

// ClosePosition removes the position and returns its last state
func (m *Manager) ClosePosition(symbol string) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	delete(m.positions, symbol)
	return p, nil
}

// RecordResult books a realized P&L event. A loss streak at the limit
// halts immediately; a win never lifts an existing halt.
func (m *Manager) RecordResult(symbol string, pnl, equity float64, partial bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()

	if pnl > 0 {
		m.wins++
		m.consecutiveLosses = 0
	} else {
		m.losses++
		m.consecutiveLosses++
	}
	m.dailyPnL += pnl
	m.totalPnL += pnl
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	kind := "final"
	if partial {
		kind = "partial"
	}
	m.logger.Info("result %s %s pnl=%.4f daily=%.4f total=%.4f streak=%d", symbol, kind, pnl, m.dailyPnL, m.totalPnL, m.consecutiveLosses)
	m.checkLossStreakLocked()
}

// ResetHalt clears any halt and the loss streak
func (m *Manager) ResetHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		m.logger.Warning("halt manually reset (was: %s)", m.haltReason)
	}
	m.clearHaltLocked()
	m.consecutiveLosses = 0
}

// Halt stops new entries until ResetHalt
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked(HaltManual, reason)
}

// Halted reports the halt state and reason
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltReason
}

// Equity is starting capital plus realized P&L
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startingCapital + m.totalPnL
}

// RealizedPnL returns total realized P&L
func (m *Manager) RealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalPnL
}

// Drawdown returns the fractional drawdown of equity from the peak
func (m *Manager) Drawdown(equity float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peakEquity <= 0 || equity >= m.peakEquity {
		return 0
	}
	return (m.peakEquity - equity) / m.peakEquity
}

// Position returns a copy of the symbol's position
func (m *Manager) Position(symbol string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Positions returns copies of all open positions ordered by symbol
func (m *Manager) Positions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stats returns a stats view
func (m *Manager) Stats() models.RiskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	var rate float64
	if total := m.wins + m.losses; total > 0 {
		rate = float64(m.wins) / float64(total) * 100
	}
	return models.RiskStats{
		Wins:              m.wins,
		Losses:            m.losses,
		WinRate:           rate,
		ConsecutiveLosses: m.consecutiveLosses,
		DailyPnL:          m.dailyPnL,
		TotalPnL:          m.totalPnL,
		PeakEquity:        m.peakEquity,
		TradesToday:       m.tradesToday,
		MaxTradesPerDay:   m.limits.MaxTradesPerDay,
		TradingHalted:     m.halted,
		HaltReason:        m.haltReason,
		ActivePositions:   len(m.positions),
		MaxConcurrent:     m.limits.MaxConcurrent,
	}
}
