package domain

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	PaymentCrypto PaymentMethod = "crypto"
	PaymentCard   PaymentMethod = "card"
	PaymentManual PaymentMethod = "manual"
)

// ParsePaymentMethod accepts the persisted enum values case-insensitively.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentCrypto:
		return PaymentCrypto, nil
	case PaymentCard:
		return PaymentCard, nil
	case PaymentManual:
		return PaymentManual, nil
	default:
		return "", ErrInvalidPayment
	}
}

// Subscription is a premium-access window. A zero ExpiresAt marks a record
// whose persisted expiry was missing or unparseable.
type Subscription struct {
	UserID        string
	ExpiresAt     time.Time
	PaymentMethod PaymentMethod
	ActivatedAt   time.Time
	Username      string
	FirstName     string
}

func (s *Subscription) IsActiveAt(at time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.After(at)
}

func (s *Subscription) IsStale() bool {
	return s != nil && s.ExpiresAt.IsZero()
}

// DaysLeft rounds down; negative once expired.
func (s *Subscription) DaysLeft(at time.Time) int {
	if s.IsStale() {
		return 0
	}
	return int(s.ExpiresAt.Sub(at).Hours() / 24)
}
