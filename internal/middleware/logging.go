package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Logging returns middleware that logs update processing time.
func Logging(logger *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			src := sourceOf(update)

			next(ctx, b, update)

			logger.Debug("update processed",
				"type", src.kind,
				"chat_id", src.chatID,
				"user_id", src.userID(),
				"duration", time.Since(start),
			)
		}
	}
}

type updateSource struct {
	kind   string
	chatID int64
	from   *models.User
}

func (s updateSource) userID() int64 {
	if s.from == nil {
		return 0
	}
	return s.from.ID
}

func sourceOf(update *models.Update) updateSource {
	switch {
	case update.Message != nil:
		return updateSource{kind: "message", chatID: update.Message.Chat.ID, from: update.Message.From}
	case update.CallbackQuery != nil:
		src := updateSource{kind: "callback_query", from: &update.CallbackQuery.From}
		if msg := update.CallbackQuery.Message.Message; msg != nil {
			src.chatID = msg.Chat.ID
		}
		return src
	default:
		return updateSource{kind: "unknown"}
	}
}
