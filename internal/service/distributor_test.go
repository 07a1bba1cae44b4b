package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderName(l domain.Listing) string { return l.Name }

func threeListings() []domain.Listing {
	return []domain.Listing{
		{ID: "s:1", Name: "one", ImageURL: "img1"},
		{ID: "s:2", Name: "two"},
		{ID: "s:3", Name: "three"},
	}
}

type countingObserver struct{ statuses []domain.DeliveryStatus }

func (c *countingObserver) ObserveDelivery(s domain.DeliveryStatus) { c.statuses = append(c.statuses, s) }

func TestDistribute_PartialFailure(t *testing.T) {
	store := newMemStore()
	obs := &countingObserver{}
	d := NewDistributor(store, renderName, discardLogger(), WithPostDelay(time.Minute), WithObserver(obs))

	var waits []time.Duration
	d.wait = func(_ context.Context, dur time.Duration) error {
		waits = append(waits, dur)
		return nil
	}

	var sent []string
	sink := func(_ context.Context, body, _ string) error {
		sent = append(sent, body)
		if body == "two" {
			return errSinkDown
		}
		return nil
	}

	report, err := d.Distribute(context.Background(), threeListings(), sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, sent)
	assert.Equal(t, 2, report.Delivered())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 0, report.Pending())
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "s:2", report.Failures()[0].ListingID)
	assert.True(t, strings.Contains(report.Failures()[0].Error, errSinkDown.Error()))

	require.Len(t, store.records, 2)
	assert.Equal(t, "s:1", store.records[0].ListingID)
	assert.Equal(t, "s:3", store.records[1].ListingID)

	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, waits, "delay between posts only")
	assert.Len(t, obs.statuses, 3)
	assert.NotEmpty(t, report.BatchID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestDistribute_PassesImage(t *testing.T) {
	d := NewDistributor(newMemStore(), renderName, discardLogger(), WithPostDelay(0))
	var images []string
	sink := func(_ context.Context, _ string, image string) error {
		images = append(images, image)
		return nil
	}
	_, err := d.Distribute(context.Background(), threeListings(), sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"img1", "", ""}, images)
}

func TestDistribute_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	d := NewDistributor(store, renderName, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.wait = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	report, err := d.Distribute(ctx, threeListings(), func(context.Context, string, string) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Delivered())
	assert.Equal(t, 2, report.Pending())
	assert.Len(t, store.records, 1)
}

func TestDistribute_StorageFailureAborts(t *testing.T) {
	store := newMemStore()
	store.failRecord = errors.New("read-only filesystem")
	d := NewDistributor(store, renderName, discardLogger(), WithPostDelay(0))

	calls := 0
	report, err := d.Distribute(context.Background(), threeListings(), func(context.Context, string, string) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.Delivered())
	assert.Equal(t, 2, report.Pending())
}

func TestDistribute_StatesAreTerminal(t *testing.T) {
	d := NewDistributor(newMemStore(), renderName, discardLogger(), WithPostDelay(0))
	report, err := d.Distribute(context.Background(), threeListings(), func(context.Context, string, string) error { return nil })
	require.NoError(t, err)
	for _, it := range report.Items {
		assert.True(t, it.Status.Terminal())
		assert.False(t, it.DeliveredAt.IsZero())
	}
}
