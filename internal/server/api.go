package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type apiHandler struct {
	catalog *service.Catalog
	ledger  *service.SubscriptionLedger
	now     func() time.Time
}

type subscriptionResponse struct {
	UserID        string     `json:"user_id"`
	Active        bool       `json:"active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysLeft      int        `json:"days_left"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Username      string     `json:"username,omitempty"`
}

func toSubscriptionResponse(s domain.Subscription, now time.Time) subscriptionResponse {
	resp := subscriptionResponse{
		UserID:        s.UserID,
		Active:        s.IsActiveAt(now),
		PaymentMethod: string(s.PaymentMethod),
		Username:      s.Username,
	}
	if !s.IsStale() {
		at := s.ExpiresAt
		resp.ExpiresAt = &at
		resp.DaysLeft = s.DaysLeft(now)
	}
	return resp
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("n")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err == nil && (n < 0 || n > maxLimit) {
		err = fmt.Errorf("limit %d out of range", n)
	}
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err, "n must be between 0 and 100")
		return 0, false
	}
	return n, true
}

func (h *apiHandler) storageFailure(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	abortWithError(c, status, err, "storage unavailable")
}

func (h *apiHandler) top(c *gin.Context) {
	n, ok := limitParam(c)
	if !ok {
		return
	}
	listings, err := h.catalog.Top(c.Request.Context(), n)
	if err != nil {
		h.storageFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *apiHandler) search(c *gin.Context) {
	n, ok := limitParam(c)
	if !ok {
		return
	}
	q := c.Query("q")
	if q == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("empty query"), "q is required")
		return
	}
	listings, err := h.catalog.Search(c.Request.Context(), q, n)
	if err != nil {
		h.storageFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *apiHandler) stats(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		h.storageFailure(c, err)
		return
	}
	stores := make([]gin.H, 0, len(stats.Stores))
	for _, s := range stats.Stores {
		stores = append(stores, gin.H{
			"store":        s.Store,
			"listings":     s.Listings,
			"avg_discount": s.AvgDiscount,
			"max_discount": s.MaxDiscount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"total": stats.Total, "stores": stores})
}

func (h *apiHandler) listSubscriptions(c *gin.Context) {
	subs, err := h.ledger.List(c.Request.Context())
	if err != nil {
		h.storageFailure(c, err)
		return
	}
	now := h.now()
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s, now))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

func (h *apiHandler) getSubscription(c *gin.Context) {
	sub, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, domain.ErrSubscriptionMissing):
		abortWithError(c, http.StatusNotFound, err, "subscription not found")
		return
	case err != nil:
		h.storageFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(*sub, h.now()))
}
