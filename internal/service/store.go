package service

import (
	"context"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
)

// ListingStore keeps one snapshot of scored listings per source.
type ListingStore interface {
	SaveListings(ctx context.Context, source string, listings []domain.Listing) error
	ListListings(ctx context.Context) ([]domain.Listing, error)
}

// SubscriptionStore persists the ledger. UpdateSubscription runs fn under the
// store's write lock; prev is nil when the user has no record.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, userID string, fn func(prev *domain.Subscription) (domain.Subscription, error)) (domain.Subscription, error)
}

// DistributionStore keeps the records of what was already broadcast.
type DistributionStore interface {
	// RecentDistributions returns listing id -> distributed_at for records newer than since.
	RecentDistributions(ctx context.Context, since time.Time) (map[string]time.Time, error)
	// RecordDistribution appends rec and drops records older than pruneBefore.
	RecordDistribution(ctx context.Context, rec domain.DistributionRecord, pruneBefore time.Time) error
}

// JobLocker serialises batch jobs across every process sharing the store.
// ok is false when another holder has the job; unlock releases it.
type JobLocker interface {
	TryLockJob(ctx context.Context, job string) (unlock func(), ok bool, err error)
}

// Store is implemented by every backend in internal/repository.
type Store interface {
	ListingStore
	SubscriptionStore
	DistributionStore
	JobLocker
	Close() error
}
