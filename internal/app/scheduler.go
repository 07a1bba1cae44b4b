package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

// BatchNotifier mirrors batch outcomes somewhere humans look; the Telegram
// log chat in production.
type BatchNotifier interface {
	LogError(err error, where string)
	LogDistribution(report *domain.DistributionReport)
}

// Scheduler runs ingestion and distribution on their cron schedules. Jobs
// run under the context given to Start, so a shutdown stops a batch
// between posts instead of waiting it out.
type Scheduler struct {
	ctx      context.Context
	cron     *cron.Cron
	app      *App
	sink     service.Sink
	notifier BatchNotifier
	logger   *slog.Logger
}

// NewScheduler parses both schedules in the configured timezone. A job that
// is still running when its next tick fires is skipped.
func NewScheduler(a *App, sink service.Sink, notifier BatchNotifier) (*Scheduler, error) {
	cl := cronLogger{a.Logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(a.Cfg.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:      context.Background(),
		app:      a,
		sink:     sink,
		notifier: notifier,
		logger:   a.Logger,
	}

	if _, err := s.cron.AddFunc(a.Cfg.IngestCron, s.runIngest); err != nil {
		return nil, fmt.Errorf("INGEST_CRON: %w", err)
	}
	if _, err := s.cron.AddFunc(a.Cfg.DistributeCron, s.runDistribute); err != nil {
		return nil, fmt.Errorf("DISTRIBUTE_CRON: %w", err)
	}
	return s, nil
}

// Start runs the scheduler until ctx is cancelled and waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started",
		"ingest", s.app.Cfg.IngestCron,
		"distribute", s.app.Cfg.DistributeCron,
		"timezone", s.app.Cfg.Timezone,
	)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runIngest() {
	report, err := s.app.Ingest(s.ctx)
	if err != nil {
		if !errors.Is(err, ErrJobRunning) {
			s.notify(err, "scheduled ingest")
		}
		s.logger.Error("scheduled ingest failed", "error", err)
		return
	}
	for _, src := range report.Sources {
		if src.Error != "" {
			s.notify(errors.New(src.Error), "ingest source "+src.Source)
		}
	}
}

func (s *Scheduler) runDistribute() {
	report, err := s.app.Distribute(s.ctx, s.sink)
	if err != nil {
		if !errors.Is(err, ErrJobRunning) {
			s.notify(err, "scheduled distribution")
		}
		s.logger.Error("scheduled distribution failed", "error", err)
		return
	}
	if s.notifier != nil && len(report.Items) > 0 {
		s.notifier.LogDistribution(report)
	}
}

func (s *Scheduler) notify(err error, where string) {
	if s.notifier != nil {
		s.notifier.LogError(err, where)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
