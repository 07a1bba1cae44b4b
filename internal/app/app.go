// Package app wires configuration, storage, sources and services together
// for the bot and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dealhunter "github.com/set-night/dealhunter"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/metrics"
	"github.com/set-night/dealhunter/internal/repository"
	"github.com/set-night/dealhunter/internal/service"
	"github.com/set-night/dealhunter/internal/source"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

// ErrJobRunning is returned when a batch of the same kind is already running.
var ErrJobRunning = errors.New("job already running")

type App struct {
	Cfg         *config.Config
	Logger      *slog.Logger
	Store       service.Store
	Registry    *source.Registry
	Catalog     *service.Catalog
	Ledger      *service.SubscriptionLedger
	Distributor *service.Distributor
	Metrics     *metrics.Observer
	Prometheus  *prometheus.Registry

	formatMu  sync.RWMutex
	formatter tg.Formatter

	ingestMu     sync.Mutex
	distributeMu sync.Mutex
}

// NewLogger builds the process logger from LOG_LEVEL.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// New opens the store and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := repository.Open(ctx, repository.OpenOptions{
		Driver:       cfg.StoreDriver,
		DataDir:      cfg.DataDir,
		DatabaseURL:  cfg.DatabaseURL,
		MigrationsFS: dealhunter.MigrationsFS,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return build(cfg, store, logger)
}

func build(cfg *config.Config, store service.Store, logger *slog.Logger) (*App, error) {
	policy, err := service.ParseGrantPolicy(cfg.SubscriptionGrantPolicy)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewObserver("", reg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Cfg:        cfg,
		Logger:     logger,
		Store:      store,
		Metrics:    observer,
		Prometheus: reg,
		formatter:  tg.Formatter{ChannelID: cfg.ChannelID},
	}

	a.Registry = source.NewRegistry(
		source.NewFileFetcher(),
		source.NewWildberriesFetcher(&http.Client{Timeout: config.SendTimeout}).
			WithLogger(logger.With("component", "wildberries")),
	)

	selector := service.NewSelector(cfg.Cooldown)
	if cfg.DiscountBoost {
		selector.Boost = service.DiscountBoost
	}

	a.Distributor = service.NewDistributor(store, a.render, logger.With("component", "distributor"),
		service.WithPostDelay(cfg.PostDelay),
		service.WithCooldown(cfg.Cooldown),
		service.WithObserver(observer),
	)
	a.Catalog = service.NewCatalog(service.CatalogDeps{
		Listings:    store,
		History:     store,
		Registry:    a.Registry,
		Sources:     SourceSpecs(cfg.Sources),
		Selector:    selector,
		Distributor: a.Distributor,
		Observer:    observer,
		Logger:      logger.With("component", "catalog"),
	})
	a.Ledger = service.NewSubscriptionLedger(store, policy, logger.With("component", "ledger"))
	return a, nil
}

// SourceSpecs converts the YAML catalogue into catalog source specs.
func SourceSpecs(sources []config.SourceConfig) []service.SourceSpec {
	specs := make([]service.SourceSpec, 0, len(sources))
	for _, s := range sources {
		cats := make([]source.Category, 0, len(s.Categories))
		for _, c := range s.Categories {
			cats = append(cats, source.Category{Name: c.Name, URL: c.URL, Emoji: c.Emoji})
		}
		specs = append(specs, service.SourceSpec{
			Name: s.Name,
			Kind: s.Kind,
			Request: source.Request{
				SourceName: s.Name,
				Path:       s.Path,
				Categories: cats,
				Limit:      s.Limit,
			},
		})
	}
	return specs
}

// SetBotUsername completes the formatter once the bot identity is known.
func (a *App) SetBotUsername(username string) {
	a.formatMu.Lock()
	defer a.formatMu.Unlock()
	a.formatter.BotUsername = username
}

func (a *App) Formatter() tg.Formatter {
	a.formatMu.RLock()
	defer a.formatMu.RUnlock()
	return a.formatter
}

func (a *App) render(l domain.Listing) string {
	return a.Formatter().ChannelPost(l)
}

const (
	jobIngest     = "ingest"
	jobDistribute = "distribute"
)

// Ingest runs one ingestion batch unless another one is in progress here
// or in any other process sharing the store.
func (a *App) Ingest(ctx context.Context) (*domain.IngestReport, error) {
	unlock, err := a.lockJob(ctx, &a.ingestMu, jobIngest)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return a.Catalog.Ingest(ctx)
}

// Distribute runs one distribution batch of BATCH_SIZE listings under the
// same exclusion as Ingest.
func (a *App) Distribute(ctx context.Context, sink service.Sink) (*domain.DistributionReport, error) {
	unlock, err := a.lockJob(ctx, &a.distributeMu, jobDistribute)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return a.Catalog.DistributeBatch(ctx, a.Cfg.BatchSize, sink)
}

func (a *App) lockJob(ctx context.Context, mu *sync.Mutex, job string) (func(), error) {
	if !mu.TryLock() {
		return nil, ErrJobRunning
	}
	release, ok, err := a.Store.TryLockJob(ctx, job)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s job: %w", job, err)
	}
	if !ok {
		mu.Unlock()
		a.Logger.Info("job held by another process", "job", job)
		return nil, ErrJobRunning
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("close store", "error", err)
	}
}
