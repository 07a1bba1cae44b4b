package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is a minimal in-process store for service tests.
type memStore struct {
	mu       sync.Mutex
	listings map[string][]domain.Listing
	subs     map[string]domain.Subscription
	records  []domain.DistributionRecord

	failRecord error
	failList   error
	failSave   error
}

func newMemStore() *memStore {
	return &memStore{listings: map[string][]domain.Listing{}, subs: map[string]domain.Subscription{}}
}

func (m *memStore) SaveListings(_ context.Context, source string, listings []domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.listings[source] = append([]domain.Listing(nil), listings...)
	return nil
}

func (m *memStore) ListListings(context.Context) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []domain.Listing
	for _, ls := range m.listings {
		out = append(out, ls...)
	}
	return out, nil
}

func (m *memStore) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) ListSubscriptions(context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) UpdateSubscription(_ context.Context, userID string, fn func(prev *domain.Subscription) (domain.Subscription, error)) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *domain.Subscription
	if s, ok := m.subs[userID]; ok {
		prev = &s
	}
	next, err := fn(prev)
	if err != nil {
		return domain.Subscription{}, err
	}
	m.subs[userID] = next
	return next, nil
}

func (m *memStore) RecentDistributions(_ context.Context, since time.Time) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]time.Time{}
	for _, r := range m.records {
		if r.DistributedAt.After(since) {
			out[r.ListingID] = r.DistributedAt
		}
	}
	return out, nil
}

func (m *memStore) RecordDistribution(_ context.Context, rec domain.DistributionRecord, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Close() error { return nil }

var errSinkDown = errors.New("sink down")

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}
