package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
)

// GrantPolicy decides where a new premium window starts.
type GrantPolicy string

const (
	// GrantExtend starts from max(now, previous expiry) so renewals stack.
	GrantExtend GrantPolicy = "extend"
	// GrantReset always starts from now.
	GrantReset GrantPolicy = "reset"
)

func ParseGrantPolicy(s string) (GrantPolicy, error) {
	switch GrantPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case GrantExtend, "":
		return GrantExtend, nil
	case GrantReset:
		return GrantReset, nil
	default:
		return "", fmt.Errorf("unknown grant policy %q", s)
	}
}

type GrantRequest struct {
	UserID    string
	Duration  time.Duration
	Method    domain.PaymentMethod
	Username  string
	FirstName string
}

type SubscriptionLedger struct {
	store  SubscriptionStore
	policy GrantPolicy
	now    func() time.Time
	logger *slog.Logger
}

func NewSubscriptionLedger(store SubscriptionStore, policy GrantPolicy, logger *slog.Logger) *SubscriptionLedger {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = GrantExtend
	}
	return &SubscriptionLedger{store: store, policy: policy, now: time.Now, logger: logger}
}

func (l *SubscriptionLedger) Policy() GrantPolicy { return l.policy }

// IsActive reports whether the user holds a premium window covering at.
// Missing, stale and unreadable records all count as inactive.
func (l *SubscriptionLedger) IsActive(ctx context.Context, userID string, at time.Time) bool {
	sub, err := l.store.GetSubscription(ctx, userID)
	if err != nil {
		l.logger.Error("subscription lookup failed", "user_id", userID, "error", err)
		return false
	}
	if sub == nil {
		return false
	}
	if sub.IsStale() {
		l.logger.Warn("stale subscription data", "user_id", userID, "error", domain.ErrStaleSubscription)
		return false
	}
	return sub.IsActiveAt(at)
}

// Get returns the user's record or domain.ErrSubscriptionMissing.
func (l *SubscriptionLedger) Get(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionMissing
	}
	return sub, nil
}

func (l *SubscriptionLedger) List(ctx context.Context) ([]domain.Subscription, error) {
	return l.store.ListSubscriptions(ctx)
}

// CountActive returns how many records are active at the given time.
func (l *SubscriptionLedger) CountActive(ctx context.Context, at time.Time) (int, error) {
	subs, err := l.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range subs {
		if subs[i].IsActiveAt(at) {
			n++
		}
	}
	return n, nil
}

// Grant creates or overwrites the user's record according to the ledger policy.
func (l *SubscriptionLedger) Grant(ctx context.Context, req GrantRequest) (domain.Subscription, error) {
	if req.Duration <= 0 {
		return domain.Subscription{}, domain.ErrInvalidDuration
	}
	if _, err := domain.ParsePaymentMethod(string(req.Method)); err != nil {
		return domain.Subscription{}, err
	}

	sub, err := l.store.UpdateSubscription(ctx, req.UserID, func(prev *domain.Subscription) (domain.Subscription, error) {
		now := l.now()
		start := now
		if l.policy == GrantExtend && prev.IsActiveAt(now) {
			start = prev.ExpiresAt
		}

		next := domain.Subscription{
			UserID:        req.UserID,
			ExpiresAt:     start.Add(req.Duration),
			PaymentMethod: req.Method,
			ActivatedAt:   now,
			Username:      req.Username,
			FirstName:     req.FirstName,
		}
		if prev != nil {
			if next.Username == "" {
				next.Username = prev.Username
			}
			if next.FirstName == "" {
				next.FirstName = prev.FirstName
			}
		}
		return next, nil
	})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("grant subscription %s: %w", req.UserID, err)
	}

	l.logger.Info("subscription granted",
		"user_id", sub.UserID,
		"method", sub.PaymentMethod,
		"expires_at", sub.ExpiresAt,
		"policy", l.policy,
	)
	return sub, nil
}
