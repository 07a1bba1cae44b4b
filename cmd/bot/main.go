package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/set-night/dealhunter/internal/app"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/handler"
	"github.com/set-night/dealhunter/internal/middleware"
	"github.com/set-night/dealhunter/internal/server"
	"github.com/set-night/dealhunter/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.BotToken == "" {
		slog.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Setup structured logging
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	limiter := middleware.NewLimiter(config.RateLimitWindow)

	// Create bot
	b, err := bot.New(cfg.BotToken, bot.WithMiddlewares(
		middleware.Recover(logger, func(b *bot.Bot) middleware.ErrorReporter {
			return telegram.NewTelegramLogger(b, cfg)
		}),
		middleware.Logging(logger),
		middleware.AccessLoader(a.Ledger, cfg),
		middleware.RateLimit(limiter, config.RateLimitRegular, config.RateLimitPremium, logger),
	))
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)
	a.SetBotUsername(me.Username)

	tgLogger := telegram.NewTelegramLogger(b, cfg)
	sink := telegram.ChannelSink(b, cfg.ChannelID)

	h := handler.New(handler.Deps{
		Bot:       b,
		Cfg:       cfg,
		Catalog:   a.Catalog,
		Ledger:    a.Ledger,
		Formatter: a.Formatter(),
		Distribute: func(ctx context.Context) (*domain.DistributionReport, error) {
			return a.Distribute(ctx, sink)
		},
		TgLogger:    tgLogger,
		BotUsername: me.Username,
		Logger:      logger,
		JobContext:  ctx,
	})
	h.Register()

	scheduler, err := app.NewScheduler(a, sink, tgLogger)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg.HTTPAddr, server.NewRouter(server.Deps{
		Catalog:  a.Catalog,
		Ledger:   a.Ledger,
		Gatherer: a.Prometheus,
		APIToken: cfg.APIToken,
		Logger:   logger,
	}), logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx, config.ShutdownTimeout); err != nil {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		pruneLimiter(ctx, limiter)
	}()

	// Start bot
	slog.Info("starting bot", "username", me.Username, "channel", cfg.ChannelID, "sources", len(cfg.Sources))
	b.Start(ctx)

	wg.Wait()
	h.Wait()
	slog.Info("bot stopped gracefully")
}
