package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_ListingsPerSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveListings(ctx, "wildberries", []domain.Listing{
		{ID: "wildberries:1", Name: "a", ValueScore: 10},
		{ID: "wildberries:2", Name: "b", ValueScore: 90, ValueReasons: []string{"x"}},
	}))
	require.NoError(t, s.SaveListings(ctx, "ozon", []domain.Listing{{ID: "ozon:1", Name: "c"}}))

	_, err := s.UpdateSubscription(ctx, "7", func(*domain.Subscription) (domain.Subscription, error) {
		return domain.Subscription{ExpiresAt: time.Now().Add(time.Hour), PaymentMethod: domain.PaymentCard}, nil
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordDistribution(ctx, domain.DistributionRecord{ListingID: "ozon:1", DistributedAt: time.Now()}, time.Time{}))

	all, err := s.ListListings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3, "reserved files are not listings")

	require.NoError(t, s.SaveListings(ctx, "wildberries", []domain.Listing{{ID: "wildberries:3", Name: "d"}}))
	all, err = s.ListListings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "a save replaces the source snapshot")
}

func TestFileStore_RejectsBadSourceNames(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", "../evil", "users", "distributions", ".hidden"} {
		assert.Error(t, s.SaveListings(context.Background(), name, nil), name)
	}
}

func TestFileStore_ReadsObjectSnapshots(t *testing.T) {
	s := newTestStore(t)
	doc := `{"ali:9": {"name": "Drill", "price": 100, "value_score": 40}}`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "ali.json"), []byte(doc), 0o644))

	all, err := s.ListListings(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ali:9", all[0].ID)
	assert.Equal(t, 40, all[0].ValueScore)
}

func TestFileStore_CorruptListingFileIsStorageError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("[{"), 0o644))

	_, err := s.ListListings(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestFileStore_SubscriptionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	got, err := s.GetSubscription(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.UpdateSubscription(ctx, "42", func(prev *domain.Subscription) (domain.Subscription, error) {
		assert.Nil(t, prev)
		return domain.Subscription{ExpiresAt: expires, PaymentMethod: domain.PaymentCrypto, Username: "alice"}, nil
	})
	require.NoError(t, err)

	got, err = s.GetSubscription(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.Equal(expires))
	assert.Equal(t, domain.PaymentCrypto, got.PaymentMethod)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "42", got.UserID)
}

func TestFileStore_LegacyAndBrokenUserRecords(t *testing.T) {
	s := newTestStore(t)
	doc := `{
		"1": {"expires": "2030-01-02T10:00:00.123456", "payment_method": "manual", "activated": "2029-12-03T10:00:00"},
		"2": {"expires": "soon", "payment_method": "card"},
		"3": {"payment_method": "crypto"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), UsersFile), []byte(doc), 0o644))

	subs, err := s.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 3)

	assert.Equal(t, 2030, subs[0].ExpiresAt.Year())
	assert.Equal(t, domain.PaymentManual, subs[0].PaymentMethod)
	assert.False(t, subs[0].ActivatedAt.IsZero())
	assert.True(t, subs[1].IsStale())
	assert.True(t, subs[2].IsStale())
}

func TestFileStore_ConcurrentGrantsDoNotLoseUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateSubscription(ctx, "1", func(prev *domain.Subscription) (domain.Subscription, error) {
				base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				if prev != nil {
					base = prev.ExpiresAt
				}
				return domain.Subscription{ExpiresAt: base.Add(24 * time.Hour), PaymentMethod: domain.PaymentManual}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetSubscription(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC), got.ExpiresAt.UTC())
}

func TestFileStore_DistributionsPruneAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordDistribution(ctx, domain.DistributionRecord{ListingID: "a", DistributedAt: now.Add(-30 * time.Hour)}, now.Add(-48*time.Hour)))
	require.NoError(t, s.RecordDistribution(ctx, domain.DistributionRecord{ListingID: "b", DistributedAt: now.Add(-2 * time.Hour)}, now.Add(-48*time.Hour)))

	recent, err := s.RecentDistributions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Contains(t, recent, "b")

	require.NoError(t, s.RecordDistribution(ctx, domain.DistributionRecord{ListingID: "c", DistributedAt: now}, now.Add(-24*time.Hour)))
	records, err := s.readRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ListingID)
	assert.Equal(t, "c", records[1].ListingID)
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveListings(context.Background(), "ozon", []domain.Listing{{ID: "ozon:1"}}))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"ozon.json", lockFile}, names)
}

func TestFileStore_TwoStoresShareOneDirectory(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })

	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i, s := range []*FileStore{a, b} {
		for j := 0; j < 50; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := domain.DistributionRecord{ListingID: fmt.Sprintf("s%d:%d", i, j), DistributedAt: now}
				assert.NoError(t, s.RecordDistribution(ctx, rec, time.Time{}))
			}()
		}
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateSubscription(ctx, "1", func(prev *domain.Subscription) (domain.Subscription, error) {
					base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
					if prev != nil {
						base = prev.ExpiresAt
					}
					return domain.Subscription{ExpiresAt: base.Add(24 * time.Hour), PaymentMethod: domain.PaymentManual}, nil
				})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	recent, err := a.RecentDistributions(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 100)

	got, err := b.GetSubscription(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC), got.ExpiresAt.UTC())
}

func TestFileStore_JobLockIsExclusiveAcrossStores(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	unlock, ok, err := a.TryLockJob(ctx, "distribute")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLockJob(ctx, "distribute")
	require.NoError(t, err)
	assert.False(t, ok, "held by the other store")

	other, ok, err := b.TryLockJob(ctx, "ingest")
	require.NoError(t, err)
	assert.True(t, ok, "jobs lock independently")
	other()

	unlock()
	again, ok, err := b.TryLockJob(ctx, "distribute")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestFileStore_WaitsForLockUntilContextDone(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	holder := flock.New(filepath.Join(dir, lockFile))
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = a.RecordDistribution(ctx, domain.DistributionRecord{ListingID: "x", DistributedAt: time.Now()}, time.Time{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
