package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/source"
)

// MinDiscountPercent is the smallest discount worth keeping after ingestion.
const MinDiscountPercent = 20

// SourceSpec is one configured source: its registry kind plus fetch settings.
type SourceSpec struct {
	Name    string
	Kind    string
	Request source.Request
}

// Observer receives batch-level measurements.
type Observer interface {
	ObserveIngest(source string, saved, dropped int)
	ObserveBatch(job string, elapsed time.Duration, err error)
}

type StoreStat struct {
	Store       string
	Listings    int
	AvgDiscount int
	MaxDiscount int
}

type CatalogStats struct {
	Total  int
	Stores []StoreStat
}

// Catalog runs ingestion and distribution batches over the listing and
// distribution stores.
type Catalog struct {
	listings    ListingStore
	history     DistributionStore
	registry    *source.Registry
	sources     []SourceSpec
	selector    *Selector
	distributor *Distributor
	observer    Observer
	now         func() time.Time
	logger      *slog.Logger
}

type CatalogDeps struct {
	Listings    ListingStore
	History     DistributionStore
	Registry    *source.Registry
	Sources     []SourceSpec
	Selector    *Selector
	Distributor *Distributor
	Observer    Observer
	Logger      *slog.Logger
}

func NewCatalog(deps CatalogDeps) *Catalog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sel := deps.Selector
	if sel == nil {
		sel = NewSelector(DefaultCooldown)
	}
	return &Catalog{
		listings:    deps.Listings,
		history:     deps.History,
		registry:    deps.Registry,
		sources:     deps.Sources,
		selector:    sel,
		distributor: deps.Distributor,
		observer:    deps.Observer,
		now:         time.Now,
		logger:      logger,
	}
}

func (c *Catalog) Sources() []SourceSpec { return c.sources }

// Ingest fetches every configured source, normalizes and scores the records
// and replaces each source's snapshot. A failing source is reported and
// keeps its previous snapshot; a storage failure aborts the batch.
func (c *Catalog) Ingest(ctx context.Context) (report *domain.IngestReport, err error) {
	report = &domain.IngestReport{BatchID: uuid.NewString(), StartedAt: c.now()}
	defer func() {
		report.FinishedAt = c.now()
		c.observeBatch("ingest", report.FinishedAt.Sub(report.StartedAt), err)
	}()

	log := c.logger.With("batch_id", report.BatchID)
	log.Info("ingest started", "sources", len(c.sources))

	for _, spec := range c.sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := domain.SourceResult{Source: spec.Name}
		listings, failures, fetchErr := c.collect(ctx, spec, &res)
		report.Failures = append(report.Failures, failures...)
		if fetchErr != nil {
			res.Error = fetchErr.Error()
			report.Sources = append(report.Sources, res)
			log.Warn("source failed", "source", spec.Name, "error", fetchErr)
			continue
		}

		if err := c.listings.SaveListings(ctx, spec.Name, listings); err != nil {
			report.Sources = append(report.Sources, res)
			return report, asStorageError("save listings "+spec.Name, err)
		}
		res.Saved = len(listings)
		report.Sources = append(report.Sources, res)
		if c.observer != nil {
			c.observer.ObserveIngest(spec.Name, res.Saved, res.Dropped)
		}
		log.Info("source ingested", "source", spec.Name, "fetched", res.Fetched, "saved", res.Saved, "dropped", res.Dropped)
	}

	log.Info("ingest finished", "saved", report.Saved(), "failures", len(report.Failures))
	return report, nil
}

func (c *Catalog) collect(ctx context.Context, spec SourceSpec, res *domain.SourceResult) ([]domain.Listing, []domain.ItemFailure, error) {
	if c.registry == nil {
		return nil, nil, fmt.Errorf("%w: no registry", domain.ErrSourceNotFound)
	}
	fetcher, err := c.registry.Resolve(spec.Kind)
	if err != nil {
		return nil, nil, err
	}

	req := spec.Request
	req.SourceName = spec.Name
	raws, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", spec.Name, err)
	}
	res.Fetched = len(raws)

	var failures []domain.ItemFailure
	byID := make(map[string]int, len(raws))
	listings := make([]domain.Listing, 0, len(raws))
	for i, raw := range raws {
		l, err := Normalize(spec.Name, i, raw)
		if err != nil {
			res.Dropped++
			failures = append(failures, domain.ItemFailure{Source: spec.Name, Ref: fmt.Sprintf("#%d", i), Error: err.Error()})
			continue
		}
		Score(&l)
		if l.DiscountPercent < MinDiscountPercent {
			res.Dropped++
			continue
		}
		if j, dup := byID[l.ID]; dup {
			res.Dropped++
			if l.ValueScore > listings[j].ValueScore {
				listings[j] = l
			}
			continue
		}
		byID[l.ID] = len(listings)
		listings = append(listings, l)
	}
	return listings, failures, nil
}

// Candidates returns the next n listings eligible for distribution.
func (c *Catalog) Candidates(ctx context.Context, n int) ([]domain.Listing, error) {
	listings, recent, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.selector.Select(listings, n, recent, c.now()), nil
}

// DistributeBatch selects up to n listings and hands them to the distributor.
func (c *Catalog) DistributeBatch(ctx context.Context, n int, sink Sink) (report *domain.DistributionReport, err error) {
	start := c.now()
	defer func() { c.observeBatch("distribute", c.now().Sub(start), err) }()

	if c.distributor == nil {
		return nil, errors.New("distributor is not configured")
	}
	picked, err := c.Candidates(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(picked) == 0 {
		c.logger.Info("nothing to distribute")
		return &domain.DistributionReport{BatchID: uuid.NewString(), StartedAt: start, FinishedAt: c.now(), Items: []domain.DeliveryItem{}}, nil
	}
	return c.distributor.Distribute(ctx, picked, sink)
}

// Top ranks every stored listing regardless of cool-down.
func (c *Catalog) Top(ctx context.Context, n int) ([]domain.Listing, error) {
	listings, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.selector.Select(listings, n, nil, c.now()), nil
}

// Search returns the best n listings whose name contains query, case-insensitively.
func (c *Catalog) Search(ctx context.Context, query string, n int) ([]domain.Listing, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []domain.Listing{}, nil
	}
	listings, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	matched := listings[:0]
	for _, l := range listings {
		if strings.Contains(strings.ToLower(l.Name), query) {
			matched = append(matched, l)
		}
	}
	return c.selector.Select(matched, n, nil, c.now()), nil
}

// Hot returns the best n listings with at least minDiscount percent off.
func (c *Catalog) Hot(ctx context.Context, minDiscount, n int) ([]domain.Listing, error) {
	listings, _, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	hot := listings[:0]
	for _, l := range listings {
		if l.DiscountPercent >= minDiscount {
			hot = append(hot, l)
		}
	}
	return c.selector.Select(hot, n, nil, c.now()), nil
}

func (c *Catalog) Stats(ctx context.Context) (CatalogStats, error) {
	listings, err := c.listings.ListListings(ctx)
	if err != nil {
		return CatalogStats{}, asStorageError("list listings", err)
	}

	type acc struct{ n, sum, max int }
	per := map[string]*acc{}
	for _, l := range listings {
		a := per[l.Store]
		if a == nil {
			a = &acc{}
			per[l.Store] = a
		}
		a.n++
		a.sum += l.DiscountPercent
		a.max = max(a.max, l.DiscountPercent)
	}

	stats := CatalogStats{Total: len(listings), Stores: make([]StoreStat, 0, len(per))}
	for name, a := range per {
		stats.Stores = append(stats.Stores, StoreStat{Store: name, Listings: a.n, AvgDiscount: a.sum / a.n, MaxDiscount: a.max})
	}
	sort.Slice(stats.Stores, func(i, j int) bool {
		if stats.Stores[i].Listings != stats.Stores[j].Listings {
			return stats.Stores[i].Listings > stats.Stores[j].Listings
		}
		return stats.Stores[i].Store < stats.Stores[j].Store
	})
	return stats, nil
}

// load reads every listing and the distribution records still inside the
// cool-down window, stamping LastDistributedAt from those records.
func (c *Catalog) load(ctx context.Context) ([]domain.Listing, map[string]time.Time, error) {
	listings, err := c.listings.ListListings(ctx)
	if err != nil {
		return nil, nil, asStorageError("list listings", err)
	}
	recent, err := c.history.RecentDistributions(ctx, c.now().Add(-c.selector.Cooldown))
	if err != nil {
		return nil, nil, asStorageError("recent distributions", err)
	}
	for i := range listings {
		if at, ok := recent[listings[i].ID]; ok {
			at := at
			listings[i].LastDistributedAt = &at
		}
	}
	return listings, recent, nil
}

func (c *Catalog) observeBatch(job string, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer.ObserveBatch(job, elapsed, err)
	}
}

func asStorageError(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.StorageError(op, err)
}
