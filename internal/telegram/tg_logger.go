package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
)

// TelegramLogger mirrors operational events into topics of a log chat.
type TelegramLogger struct {
	sender Sender
	cfg    *config.Config
}

func NewTelegramLogger(s Sender, cfg *config.Config) *TelegramLogger {
	return &TelegramLogger{sender: s, cfg: cfg}
}

type LogType string

const (
	LogTypeError        LogType = "error"
	LogTypeGrant        LogType = "grant"
	LogTypePayment      LogType = "payment"
	LogTypeDistribution LogType = "distribution"
)

func (l *TelegramLogger) Log(logType LogType, message string) {
	if l == nil || l.sender == nil || l.cfg.LogTelegramChatID == 0 {
		return
	}

	topicID := l.getTopicID(logType)
	if topicID == 0 {
		return
	}

	if len([]rune(message)) > MaxMessageLen {
		message = string([]rune(message)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       models.ParseModeHTML,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, where string) {
	msg := fmt.Sprintf("❌ <b>Error</b>\n\n<b>Context:</b> %s\n<b>Error:</b> <code>%s</code>\n<b>Time:</b> %s",
		html.EscapeString(where), html.EscapeString(err.Error()), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogGrant(sub domain.Subscription, grantedBy string) {
	msg := fmt.Sprintf("⭐ <b>Premium granted</b>\n\n<b>User:</b> <code>%s</code>\n<b>Method:</b> %s\n<b>Until:</b> %s\n<b>By:</b> %s",
		html.EscapeString(sub.UserID), sub.PaymentMethod, sub.ExpiresAt.Format("2006-01-02 15:04"), html.EscapeString(grantedBy))
	l.Log(LogTypeGrant, msg)
}

func (l *TelegramLogger) LogPaymentClaim(userID int64, username string, method domain.PaymentMethod) {
	msg := fmt.Sprintf("💰 <b>Payment claim</b>\n\n<b>User:</b> <code>%d</code> @%s\n<b>Method:</b> %s",
		userID, html.EscapeString(username), method)
	l.Log(LogTypePayment, msg)
}

func (l *TelegramLogger) LogDistribution(report *domain.DistributionReport) {
	msg := fmt.Sprintf("📢 <b>Distribution</b> <code>%s</code>\n\nDelivered: %d\nFailed: %d\nPending: %d",
		report.BatchID, report.Delivered(), report.Failed(), report.Pending())
	for _, f := range report.Failures() {
		msg += fmt.Sprintf("\n• <code>%s</code>: %s", html.EscapeString(f.ListingID), html.EscapeString(f.Error))
	}
	l.Log(LogTypeDistribution, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeGrant:
		return l.cfg.LogTopicGrant
	case LogTypePayment:
		return l.cfg.LogTopicPayment
	case LogTypeDistribution:
		return l.cfg.LogTopicDistribution
	default:
		return 0
	}
}
