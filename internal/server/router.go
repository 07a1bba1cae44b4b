// Package server exposes health, metrics and a read-only JSON API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/set-night/dealhunter/internal/service"
)

type Deps struct {
	Catalog  *service.Catalog
	Ledger   *service.SubscriptionLedger
	Gatherer prometheus.Gatherer
	APIToken string
	Logger   *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	engine := gin.New()
	// Recovery must be first (outermost) to catch panics from all other middleware
	engine.Use(recovery(deps.Logger))
	engine.Use(requestLogger(deps.Logger))

	engine.GET("/healthz", healthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	api := &apiHandler{catalog: deps.Catalog, ledger: deps.Ledger, now: time.Now}
	g := engine.Group("/api")
	{
		g.GET("/listings/top", api.top)
		g.GET("/listings/search", api.search)
		g.GET("/stats", api.stats)

		subs := g.Group("/subscriptions")
		subs.Use(requireToken(deps.APIToken))
		subs.GET("", api.listSubscriptions)
		subs.GET("/:id", api.getSubscription)
	}
	return engine
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Server wraps http.Server with the shutdown sequence used by the bot binary.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
