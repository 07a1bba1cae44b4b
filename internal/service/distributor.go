package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/dealhunter/internal/domain"
)

const DefaultPostDelay = 60 * time.Second

// Sink delivers one rendered post. imageURL may be empty.
type Sink func(ctx context.Context, body, imageURL string) error

// Renderer turns a listing into a post body.
type Renderer func(l domain.Listing) string

// DistributionObserver is notified after every terminal item transition.
type DistributionObserver interface {
	ObserveDelivery(status domain.DeliveryStatus)
}

type Distributor struct {
	store    DistributionStore
	render   Renderer
	delay    time.Duration
	cooldown time.Duration
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
	observer DistributionObserver
	logger   *slog.Logger
}

type DistributorOption func(*Distributor)

func WithPostDelay(d time.Duration) DistributorOption {
	return func(ds *Distributor) {
		if d >= 0 {
			ds.delay = d
		}
	}
}

func WithCooldown(d time.Duration) DistributorOption {
	return func(ds *Distributor) {
		if d > 0 {
			ds.cooldown = d
		}
	}
}

func WithObserver(o DistributionObserver) DistributorOption {
	return func(ds *Distributor) { ds.observer = o }
}

func WithClock(now func() time.Time) DistributorOption {
	return func(ds *Distributor) { ds.now = now }
}

func NewDistributor(store DistributionStore, render Renderer, logger *slog.Logger, opts ...DistributorOption) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Distributor{
		store:    store,
		render:   render,
		delay:    DefaultPostDelay,
		cooldown: DefaultCooldown,
		now:      time.Now,
		wait:     sleepCtx,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Distribute sends listings to sink in order, pausing between posts. A failed
// send is reported and skipped. The batch stops early when ctx is cancelled,
// leaving the untried items pending, and aborts with domain.ErrStorageUnavailable
// when a delivery cannot be recorded.
func (d *Distributor) Distribute(ctx context.Context, listings []domain.Listing, sink Sink) (*domain.DistributionReport, error) {
	report := &domain.DistributionReport{
		BatchID:   uuid.NewString(),
		StartedAt: d.now(),
		Items:     make([]domain.DeliveryItem, len(listings)),
	}
	for i, l := range listings {
		report.Items[i] = domain.DeliveryItem{ListingID: l.ID, Name: l.Name, Status: domain.DeliveryPending}
	}
	defer func() { report.FinishedAt = d.now() }()

	log := d.logger.With("batch_id", report.BatchID)
	log.Info("distribution started", "items", len(listings), "delay", d.delay)

	for i := range listings {
		if i > 0 && d.delay > 0 {
			if err := d.wait(ctx, d.delay); err != nil {
				report.Stopped = true
				break
			}
		}
		if ctx.Err() != nil {
			report.Stopped = true
			break
		}

		item := &report.Items[i]
		l := &listings[i]
		item.Status = domain.DeliverySending

		if err := sink(ctx, d.render(*l), l.ImageURL); err != nil {
			item.Status = domain.DeliveryFailed
			item.Error = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err).Error()
			d.observe(item.Status)
			log.Warn("delivery failed", "listing_id", l.ID, "error", err)
			continue
		}

		at := d.now()
		rec := domain.DistributionRecord{ListingID: l.ID, DistributedAt: at}
		// a post that went out is recorded even when the batch is being cancelled
		if err := d.store.RecordDistribution(context.WithoutCancel(ctx), rec, at.Add(-d.cooldown)); err != nil {
			// sent but unrecorded: report it delivered and abort before anything else goes out
			item.Status = domain.DeliveryDelivered
			item.DeliveredAt = at
			d.observe(item.Status)
			log.Error("distribution record failed", "listing_id", l.ID, "error", err)
			return report, asStorageError("record distribution "+l.ID, err)
		}

		item.Status = domain.DeliveryDelivered
		item.DeliveredAt = at
		l.LastDistributedAt = &at
		d.observe(item.Status)
		log.Info("listing delivered", "listing_id", l.ID, "score", l.ValueScore)
	}

	log.Info("distribution finished",
		"delivered", report.Delivered(),
		"failed", report.Failed(),
		"pending", report.Pending(),
		"stopped", report.Stopped,
	)
	return report, nil
}

func (d *Distributor) observe(status domain.DeliveryStatus) {
	if d.observer != nil {
		d.observer.ObserveDelivery(status)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
