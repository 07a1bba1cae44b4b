package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type ctxKey string

const AccessKey ctxKey = "access"

// Access is what handlers need to know about the caller.
type Access struct {
	UserID    int64
	Username  string
	FirstName string
	IsAdmin   bool
	IsPremium bool
}

// GetAccess extracts the caller's access from context.
func GetAccess(ctx context.Context) *Access {
	a, ok := ctx.Value(AccessKey).(*Access)
	if !ok {
		return nil
	}
	return a
}

func WithAccess(ctx context.Context, a *Access) context.Context {
	return context.WithValue(ctx, AccessKey, a)
}

// PremiumChecker answers premium-gating queries; implemented by the subscription ledger.
type PremiumChecker interface {
	IsActive(ctx context.Context, userID string, at time.Time) bool
}

type AdminChecker interface {
	IsAdmin(telegramID int64) bool
}

// AccessLoader returns middleware that resolves admin and premium status
// for the sender of an update.
func AccessLoader(ledger PremiumChecker, admins AdminChecker) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			from := sourceOf(update).from
			if from == nil {
				next(ctx, b, update)
				return
			}

			access := &Access{
				UserID:    from.ID,
				Username:  from.Username,
				FirstName: from.FirstName,
				IsAdmin:   admins.IsAdmin(from.ID),
				IsPremium: ledger.IsActive(ctx, strconv.FormatInt(from.ID, 10), time.Now()),
			}
			next(WithAccess(ctx, access), b, update)
		}
	}
}
