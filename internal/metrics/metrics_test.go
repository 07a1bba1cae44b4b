package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver("test", reg)
	require.NoError(t, err)

	o.ObserveIngest("wildberries", 10, 2)
	o.ObserveIngest("wildberries", 5, 0)
	o.ObserveDelivery(domain.DeliveryDelivered)
	o.ObserveDelivery(domain.DeliveryDelivered)
	o.ObserveDelivery(domain.DeliveryFailed)
	o.ObserveBatch("ingest", time.Second, nil)
	o.ObserveBatch("distribute", time.Second, errors.New("store down"))

	assert.Equal(t, 15.0, testutil.ToFloat64(o.ingested.WithLabelValues("wildberries")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.dropped.WithLabelValues("wildberries")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deliveries.WithLabelValues("failed")))
	assert.Positive(t, testutil.ToFloat64(o.lastSuccess.WithLabelValues("ingest")))
	assert.Zero(t, testutil.ToFloat64(o.lastSuccess.WithLabelValues("distribute")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.batchDuration))
}

func TestObserverReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewObserver("test", reg)
	require.NoError(t, err)
	second, err := NewObserver("test", reg)
	require.NoError(t, err)

	first.ObserveDelivery(domain.DeliveryDelivered)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.deliveries.WithLabelValues("delivered")))
}

func TestNilObserver(t *testing.T) {
	var o *Observer
	assert.NotPanics(t, func() {
		o.ObserveIngest("x", 1, 1)
		o.ObserveBatch("ingest", time.Second, nil)
		o.ObserveDelivery(domain.DeliveryFailed)
	})
}
