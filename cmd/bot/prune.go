package main

import (
	"context"
	"time"

	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/middleware"
)

// pruneLimiter drops expired rate-limit windows until ctx is done.
func pruneLimiter(ctx context.Context, l *middleware.Limiter) {
	ticker := time.NewTicker(config.RateLimitWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
