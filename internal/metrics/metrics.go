// Package metrics exports ingestion and distribution counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

const defaultNamespace = "dealhunter"

// Observer implements service.Observer and service.DistributionObserver.
type Observer struct {
	ingested      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
}

var (
	_ service.Observer             = (*Observer)(nil)
	_ service.DistributionObserver = (*Observer)(nil)
)

// NewObserver registers the collectors on reg, reusing collectors that are
// already registered under the same names.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_ingested_total",
			Help:      "Listings saved per source.",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_dropped_total",
			Help:      "Raw records rejected during normalization or filtering, per source.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Distribution items by terminal status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingest and distribute batches.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful batch per job.",
		}, []string{"job"}),
	}

	var err error
	if o.ingested, err = register(reg, o.ingested); err != nil {
		return nil, err
	}
	if o.dropped, err = register(reg, o.dropped); err != nil {
		return nil, err
	}
	if o.deliveries, err = register(reg, o.deliveries); err != nil {
		return nil, err
	}
	if o.batchDuration, err = register(reg, o.batchDuration); err != nil {
		return nil, err
	}
	if o.lastSuccess, err = register(reg, o.lastSuccess); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (o *Observer) ObserveIngest(source string, saved, dropped int) {
	if o == nil {
		return
	}
	o.ingested.WithLabelValues(source).Add(float64(saved))
	o.dropped.WithLabelValues(source).Add(float64(dropped))
}

func (o *Observer) ObserveBatch(job string, elapsed time.Duration, err error) {
	if o == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		o.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
	o.batchDuration.WithLabelValues(job, result).Observe(elapsed.Seconds())
}

func (o *Observer) ObserveDelivery(status domain.DeliveryStatus) {
	if o == nil {
		return
	}
	o.deliveries.WithLabelValues(string(status)).Inc()
}
