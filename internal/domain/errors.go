package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNormalization       = errors.New("listing normalization failed")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrStaleSubscription   = errors.New("stale subscription data")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrSubscriptionMissing = errors.New("subscription not found")
	ErrInvalidDuration     = errors.New("invalid subscription duration")
	ErrInvalidPayment      = errors.New("invalid payment method")
	ErrSourceNotFound      = errors.New("source not registered")
)

// NormalizationError identifies the raw record that could not be normalized.
type NormalizationError struct {
	Source string
	Index  int
	Field  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s record #%d: missing mandatory field %q", e.Source, e.Index, e.Field)
}

func (e *NormalizationError) Unwrap() error {
	return ErrNormalization
}

// StorageError wraps a store failure so batch code can match ErrStorageUnavailable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
