package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/repository"
	"github.com/set-night/dealhunter/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "secret"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repository.NewFileStore(t.TempDir())
	require.NoError(t, err)

	listings := []domain.Listing{
		{ID: "shop:1", Name: "Робот-пылесос", Price: 12000, OriginalPrice: 30000, DiscountPercent: 60, Rating: 4.8, ReviewCount: 2000, Store: "Shop"},
		{ID: "shop:2", Name: "Пылесос ручной", Price: 3000, OriginalPrice: 4000, DiscountPercent: 25, Rating: 4.1, ReviewCount: 10, Store: "Shop"},
	}
	service.ScoreAll(listings)
	require.NoError(t, store.SaveListings(context.Background(), "shop", listings))

	ledger := service.NewSubscriptionLedger(store, service.GrantExtend, logger)
	_, err = ledger.Grant(context.Background(), service.GrantRequest{UserID: "42", Duration: 48 * time.Hour, Method: domain.PaymentCard})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"}))

	return NewRouter(Deps{
		Catalog:  service.NewCatalog(service.CatalogDeps{Listings: store, History: store, Logger: logger}),
		Ledger:   ledger,
		Gatherer: reg,
		APIToken: token,
		Logger:   logger,
	})
}

func do(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusOK, do(r, "/healthz", "").Code)

	w := do(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "probe_total")
}

func TestTopListings(t *testing.T) {
	r := newRouter(t)

	w := do(r, "/api/listings/top?n=1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Listings []domain.Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Listings, 1)
	assert.Equal(t, "shop:1", body.Listings[0].ID)

	for _, bad := range []string{"-1", "101", "abc"} {
		assert.Equal(t, http.StatusBadRequest, do(r, "/api/listings/top?n="+bad, "").Code, bad)
	}
}

func TestSearchAndStats(t *testing.T) {
	r := newRouter(t)

	w := do(r, "/api/listings/search?q="+url.QueryEscape("пылесос"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, strings.Count(w.Body.String(), `"id":`))

	assert.Equal(t, http.StatusBadRequest, do(r, "/api/listings/search", "").Code)

	w = do(r, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
}

func TestSubscriptionsRequireToken(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/subscriptions/42", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/subscriptions/42", "wrong").Code)

	w := do(r, "/api/subscriptions/42", token)
	require.Equal(t, http.StatusOK, w.Code)
	var sub subscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.True(t, sub.Active)
	assert.Equal(t, "card", sub.PaymentMethod)
	assert.InDelta(t, 2, sub.DaysLeft, 1)

	assert.Equal(t, http.StatusNotFound, do(r, "/api/subscriptions/7", token).Code)

	w = do(r, "/api/subscriptions", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"42"`)
}
