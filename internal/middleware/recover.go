package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ErrorReporter mirrors failures into the Telegram log chat.
type ErrorReporter interface {
	LogError(err error, where string)
}

// Recover returns middleware that recovers from handler panics, logs the
// stack and reports the panic through the reporter built for the bot that
// received the update. reporter may be nil.
func Recover(logger *slog.Logger, reporter func(b *bot.Bot) ErrorReporter) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				src := sourceOf(update)
				logger.Error("panic recovered in handler",
					"update_id", update.ID,
					"kind", src.kind,
					"chat_id", src.chatID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				if reporter == nil {
					return
				}
				if rep := reporter(b); rep != nil {
					rep.LogError(fmt.Errorf("panic: %v", r), fmt.Sprintf("%s update %d in chat %d", src.kind, update.ID, src.chatID))
				}
			}()
			next(ctx, b, update)
		}
	}
}
