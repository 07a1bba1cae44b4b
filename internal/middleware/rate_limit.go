package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Limiter counts messages per chat in fixed one-minute windows.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	buckets map[int64]*bucket
}

type bucket struct {
	start time.Time
	count int
}

func NewLimiter(window time.Duration) *Limiter {
	return &Limiter{window: window, now: time.Now, buckets: map[int64]*bucket{}}
}

// Allow records one hit for chatID and reports whether it stays within limit.
func (l *Limiter) Allow(chatID int64, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[chatID]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.buckets[chatID] = b
	}
	b.count++
	return b.count <= limit
}

// Prune drops windows that have already ended.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, id)
		}
	}
}

// RateLimit returns middleware that enforces per-minute message limits.
// It must run after AccessLoader so premium users get their higher limit.
func RateLimit(limiter *Limiter, regular, premium int, logger *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			// Only rate limit messages (not callbacks or other updates)
			if update.Message == nil {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID
			limit := regular
			if a := GetAccess(ctx); a != nil && (a.IsPremium || a.IsAdmin) {
				limit = premium
			}

			if !limiter.Allow(chatID, limit) {
				logger.Debug("rate limited", "chat_id", chatID, "limit", limit)
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "⏳ Слишком много запросов. Подождите немного.",
				})
				return
			}

			next(ctx, b, update)
		}
	}
}
