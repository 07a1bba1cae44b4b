package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Core
	BotToken  string `env:"BOT_TOKEN"`
	ChannelID string `env:"CHANNEL_ID" envDefault:"@PriceHunterSK"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"file"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Sources
	SourcesConfig string `env:"SOURCES_CONFIG" envDefault:"sources.yaml"`

	// Scheduling
	IngestCron     string        `env:"INGEST_CRON" envDefault:"0 */6 * * *"`
	DistributeCron string        `env:"DISTRIBUTE_CRON" envDefault:"0 10,14,19 * * *"`
	Timezone       string        `env:"TIMEZONE" envDefault:"Europe/Moscow"`
	PostDelay      time.Duration `env:"POST_DELAY" envDefault:"60s"`
	Cooldown       time.Duration `env:"COOLDOWN" envDefault:"24h"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"5"`
	DiscountBoost  bool          `env:"DISCOUNT_BOOST" envDefault:"false"`

	// Subscriptions
	SubscriptionGrantPolicy string        `env:"SUBSCRIPTION_GRANT_POLICY" envDefault:"extend"`
	SubscriptionDuration    time.Duration `env:"SUBSCRIPTION_DURATION" envDefault:"720h"`

	// Payment details shown to users; payments are confirmed by an admin
	CryptoWallet    string          `env:"CRYPTO_WALLET"`
	CardNumber      string          `env:"CARD_NUMBER"`
	PremiumPriceRUB decimal.Decimal `env:"PREMIUM_PRICE_RUB" envDefault:"299"`
	PremiumPriceTON decimal.Decimal `env:"PREMIUM_PRICE_TON" envDefault:"5"`

	// Server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	// APIToken guards the subscription endpoints; empty disables them.
	APIToken string `env:"API_TOKEN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Telegram logging
	LogTelegramChatID    int64 `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError        int   `env:"LOG_TOPIC_ERROR"`
	LogTopicGrant        int   `env:"LOG_TOPIC_GRANT"`
	LogTopicPayment      int   `env:"LOG_TOPIC_PAYMENT"`
	LogTopicDistribution int   `env:"LOG_TOPIC_DISTRIBUTION"`

	Sources []SourceConfig
}

// Load reads the environment and the YAML source catalogue. A missing
// catalogue file falls back to DefaultSources.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	sources, err := LoadSources(cfg.SourcesConfig)
	switch {
	case err == nil:
		cfg.Sources = sources
	case os.IsNotExist(err):
		cfg.Sources = DefaultSources(cfg.DataDir)
	default:
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("COOLDOWN must be positive, got %s", c.Cooldown)
	}
	if c.PostDelay < 0 {
		return fmt.Errorf("POST_DELAY must not be negative, got %s", c.PostDelay)
	}
	if c.SubscriptionDuration <= 0 {
		return fmt.Errorf("SUBSCRIPTION_DURATION must be positive, got %s", c.SubscriptionDuration)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) AdminIDsString() string {
	parts := make([]string, len(c.AdminIDs))
	for i, id := range c.AdminIDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ChannelLink is the public t.me link for the broadcast channel, or "" for
// numeric chat ids.
func (c *Config) ChannelLink() string {
	if !strings.HasPrefix(c.ChannelID, "@") {
		return ""
	}
	return "https://t.me/" + strings.TrimPrefix(c.ChannelID, "@")
}
