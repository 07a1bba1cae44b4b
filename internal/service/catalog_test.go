package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	kind    string
	records []domain.RawRecord
	err     error
}

func (s stubFetcher) Kind() string { return s.kind }

func (s stubFetcher) Fetch(context.Context, source.Request) ([]domain.RawRecord, error) {
	return s.records, s.err
}

// scenarioRecords are three offers with 75%, 22% and 45% discounts.
func scenarioRecords() []domain.RawRecord {
	return []domain.RawRecord{
		{"id": "1", "name": "Robot vacuum", "price": 4000, "old_price": 16000, "rating": 4.9, "reviews": 1200},
		{"id": "2", "name": "Desk lamp", "price": 4200, "old_price": 5400, "rating": 4.0, "reviews": 50},
		{"id": "3", "name": "Blender", "price": 7200, "old_price": 13200, "rating": 4.6, "reviews": 600},
		{"title": "no price"},
	}
}

type catalogFixture struct {
	catalog *Catalog
	store   *memStore
	now     time.Time
}

func newCatalogFixture(t *testing.T, fetchers ...source.Fetcher) *catalogFixture {
	t.Helper()
	store := newMemStore()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	specs := make([]SourceSpec, 0, len(fetchers))
	for _, f := range fetchers {
		specs = append(specs, SourceSpec{Name: f.Kind(), Kind: f.Kind()})
	}
	dist := NewDistributor(store, renderName, discardLogger(), WithPostDelay(0), WithClock(clock))
	c := NewCatalog(CatalogDeps{
		Listings:    store,
		History:     store,
		Registry:    source.NewRegistry(fetchers...),
		Sources:     specs,
		Distributor: dist,
		Logger:      discardLogger(),
	})
	c.now = clock
	return &catalogFixture{catalog: c, store: store, now: now}
}

func TestCatalog_EndToEndScenario(t *testing.T) {
	fx := newCatalogFixture(t, stubFetcher{kind: "shop", records: scenarioRecords()})
	ctx := context.Background()

	report, err := fx.catalog.Ingest(ctx)
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, 4, report.Sources[0].Fetched)
	assert.Equal(t, 3, report.Sources[0].Saved)
	assert.Equal(t, 1, report.Sources[0].Dropped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "#3", report.Failures[0].Ref)

	scores := map[string]int{}
	for _, l := range fx.store.listings["shop"] {
		scores[l.ID] = l.ValueScore
	}
	assert.Equal(t, map[string]int{"shop:1": 100, "shop:2": 30, "shop:3": 65}, scores)

	picked, err := fx.catalog.Candidates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop:1", "shop:3"}, ids(picked))
}

func TestCatalog_RerunWithinCooldownSkipsDelivered(t *testing.T) {
	fx := newCatalogFixture(t, stubFetcher{kind: "shop", records: scenarioRecords()})
	ctx := context.Background()
	_, err := fx.catalog.Ingest(ctx)
	require.NoError(t, err)

	sink := func(context.Context, string, string) error { return nil }
	report, err := fx.catalog.DistributeBatch(ctx, 2, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered())

	report, err = fx.catalog.DistributeBatch(ctx, 2, sink)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "shop:2", report.Items[0].ListingID)

	top, err := fx.catalog.Top(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop:1", "shop:3", "shop:2"}, ids(top), "top ignores cool-down")
	require.NotNil(t, top[0].LastDistributedAt)
}

func TestCatalog_FailedItemIsReselected(t *testing.T) {
	fx := newCatalogFixture(t, stubFetcher{kind: "shop", records: scenarioRecords()})
	ctx := context.Background()
	_, err := fx.catalog.Ingest(ctx)
	require.NoError(t, err)

	failFirst := func(_ context.Context, body, _ string) error {
		if body == "Robot vacuum" {
			return errSinkDown
		}
		return nil
	}
	report, err := fx.catalog.DistributeBatch(ctx, 2, failFirst)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	next, err := fx.catalog.Candidates(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop:1"}, ids(next))
}

func TestCatalog_SourceFailureKeepsGoing(t *testing.T) {
	fx := newCatalogFixture(t,
		stubFetcher{kind: "broken", err: errors.New("503")},
		stubFetcher{kind: "shop", records: scenarioRecords()},
	)
	fx.store.listings["broken"] = []domain.Listing{{ID: "broken:old", Name: "kept", DiscountPercent: 40}}

	report, err := fx.catalog.Ingest(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Sources, 2)
	assert.NotEmpty(t, report.Sources[0].Error)
	assert.Equal(t, 3, report.Sources[1].Saved)
	assert.Len(t, fx.store.listings["broken"], 1, "previous snapshot is kept")
}

func TestCatalog_UnknownKind(t *testing.T) {
	fx := newCatalogFixture(t)
	fx.catalog.sources = []SourceSpec{{Name: "x", Kind: "nope"}}
	report, err := fx.catalog.Ingest(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	assert.Contains(t, report.Sources[0].Error, domain.ErrSourceNotFound.Error())
}

func TestCatalog_StorageFailureAbortsIngest(t *testing.T) {
	fx := newCatalogFixture(t, stubFetcher{kind: "shop", records: scenarioRecords()})
	fx.store.failSave = errors.New("disk full")

	_, err := fx.catalog.Ingest(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestCatalog_StorageFailureAbortsDistribution(t *testing.T) {
	fx := newCatalogFixture(t)
	fx.store.failList = errors.New("permission denied")

	_, err := fx.catalog.DistributeBatch(context.Background(), 3, func(context.Context, string, string) error {
		t.Fatal("sink must not be called")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestCatalog_DropsSmallDiscountsAndDuplicates(t *testing.T) {
	fx := newCatalogFixture(t, stubFetcher{kind: "shop", records: []domain.RawRecord{
		{"id": "a", "name": "Cheap", "price": 95, "old_price": 100},
		{"id": "b", "name": "Deal", "price": 50, "old_price": 100},
		{"id": "b", "name": "Deal", "price": 50, "old_price": 100, "rating": 4.9},
	}})
	report, err := fx.catalog.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sources[0].Saved)
	assert.Equal(t, 2, report.Sources[0].Dropped)
	assert.InDelta(t, 4.9, fx.store.listings["shop"][0].Rating, 1e-9)
}

func TestCatalog_SearchHotStats(t *testing.T) {
	fx := newCatalogFixture(t)
	fx.store.listings["a"] = []domain.Listing{
		{ID: "a:1", Name: "Robot Vacuum", Store: "A", DiscountPercent: 70, ValueScore: 80},
		{ID: "a:2", Name: "Vacuum bags", Store: "A", DiscountPercent: 20, ValueScore: 20},
	}
	fx.store.listings["b"] = []domain.Listing{
		{ID: "b:1", Name: "Kettle", Store: "B", DiscountPercent: 50, ValueScore: 50},
	}
	ctx := context.Background()

	found, err := fx.catalog.Search(ctx, "vacuum", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "a:2"}, ids(found))

	none, err := fx.catalog.Search(ctx, "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	hot, err := fx.catalog.Hot(ctx, 50, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1"}, ids(hot))

	stats, err := fx.catalog.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	require.Len(t, stats.Stores, 2)
	assert.Equal(t, StoreStat{Store: "A", Listings: 2, AvgDiscount: 45, MaxDiscount: 70}, stats.Stores[0])
}
