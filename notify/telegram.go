package notify

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smartflow-perp/journal"
	"smartflow-perp/logging"
	"smartflow-perp/models"
)

// Sender is the part of tgbotapi.BotAPI used here
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes alerts and entries to one chat
type Telegram struct {
	journal.Nop
	Bot    Sender
	ChatID int64
	Logger logging.LoggerInterface
}

// NewTelegram authenticates the bot token
func NewTelegram(token string, chatID int64, logger logging.LoggerInterface) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logger.Info("Telegram alerts enabled as @%s", bot.Self.UserName)
	return &Telegram{Bot: bot, ChatID: chatID, Logger: logger}, nil
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.ChatID, text)
	if _, err := t.Bot.Send(msg); err != nil {
		t.Logger.Warning("telegram send failed: %v", err)
	}
}

func (t *Telegram) Alert(a models.Alert) { t.send(FormatAlert(a)) }

func (t *Telegram) TradeOpened(sig models.TradeSignal, fill models.OrderResult) {
	t.send(FormatEntry(sig, fill))
}

var alertIcons = map[models.AlertType]string{
	models.AlertEarlyExit:      "⚠️",
	models.AlertStopHit:        "🛑",
	models.AlertTPReached:      "🎯",
	models.AlertCircuitBreaker: "🚨",
	models.AlertStrongSignal:   "🔥",
}

// FormatAlert renders an alert as a plain-text message
func FormatAlert(a models.Alert) string {
	icon, ok := alertIcons[a.Type]
	if !ok {
		icon = "ℹ️"
	}
	title := strings.ToUpper(strings.ReplaceAll(string(a.Type), "_", " "))
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", icon, title)
	if a.Symbol != "" {
		fmt.Fprintf(&b, " %s", a.Symbol)
	}
	fmt.Fprintf(&b, "\n%s\n%s", a.Message, a.Time.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

// FormatEntry renders a filled entry
func FormatEntry(sig models.TradeSignal, fill models.OrderResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 %s %s (%s)\n", strings.ToUpper(string(sig.Direction)), sig.Symbol, sig.Conviction)
	fmt.Fprintf(&b, "Entry: %.4f  Qty: %g  Lev: %dx\n", fill.FillPrice, fill.Qty, sig.Leverage)
	fmt.Fprintf(&b, "SL: %.4f  TP1: %.4f", sig.StopLoss, sig.TakeProfit1)
	if sig.TakeProfit2 > 0 {
		fmt.Fprintf(&b, "  TP2: %.4f", sig.TakeProfit2)
	}
	fmt.Fprintf(&b, "\nRisk: %.2f (%.2f%%)  Score: %d/5", sig.RiskAmount, sig.RiskPct*100, sig.Details.Tally)
	return b.String()
}
