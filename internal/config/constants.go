package config

import "time"

const (
	// Telegram limits
	MaxTelegramMessageLen = 4096
	MaxTelegramCaptionLen = 1024

	// Sink call timeout for one channel post
	SendTimeout = 30 * time.Second

	// Rate limits (per window)
	RateLimitWindow  = time.Minute
	RateLimitRegular = 10
	RateLimitPremium = 30

	// Listing counts per command
	LastCardsRegular = 3
	LastCardsPremium = 10
	TopListSize      = 10
	SearchResults    = 5
	SearchResultsPro = 20
	WatchMinDiscount = 50
	WatchResults     = 10

	// Users listed by /users
	UsersPageSize = 20

	// Shutdown grace for the HTTP server
	ShutdownTimeout = 10 * time.Second
)
