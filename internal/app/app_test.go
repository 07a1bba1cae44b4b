package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/repository"
	"github.com/set-night/dealhunter/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportJSON = `{"products": [
	{"id": "1", "name": "Robot vacuum", "price": 4000, "old_price": 16000, "rating": 4.9, "reviews": 1200},
	{"id": "2", "name": "Desk lamp", "price": 4200, "old_price": 5400, "rating": 4.0, "reviews": 50},
	{"id": "3", "name": "Headphones", "price": 7200, "old_price": 13200, "rating": 4.6, "reviews": 600}
]}`

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	export := filepath.Join(dir, "ozon.json")
	require.NoError(t, os.WriteFile(export, []byte(exportJSON), 0o644))

	cfg := &config.Config{
		ChannelID:               "@deals",
		Timezone:                "UTC",
		IngestCron:              "0 */6 * * *",
		DistributeCron:          "0 10 * * *",
		Cooldown:                24 * time.Hour,
		BatchSize:               2,
		SubscriptionGrantPolicy: "extend",
		Sources:                 []config.SourceConfig{{Name: "ozon", Kind: source.KindFile, Path: export}},
	}

	store, err := repository.NewFileStore(filepath.Join(dir, "data"))
	require.NoError(t, err)

	a, err := build(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a
}

type recordingSink struct {
	mu     sync.Mutex
	bodies []string
}

func (r *recordingSink) send(_ context.Context, body, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return nil
}

func TestIngestThenDistribute(t *testing.T) {
	a := newTestApp(t)
	a.SetBotUsername("deal_bot")
	ctx := context.Background()

	ingest, err := a.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ingest.Saved())

	sink := &recordingSink{}
	report, err := a.Distribute(ctx, sink.send)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered())
	require.Len(t, sink.bodies, 2)
	assert.Contains(t, sink.bodies[0], "Robot vacuum")
	assert.Contains(t, sink.bodies[0], "@deal_bot")
	assert.Contains(t, sink.bodies[1], "Headphones")

	// the remaining listing is the only one outside its cool-down
	report, err = a.Distribute(ctx, sink.send)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "ozon:2", report.Items[0].ListingID)
}

func TestJobsDoNotOverlap(t *testing.T) {
	a := newTestApp(t)

	a.distributeMu.Lock()
	_, err := a.Distribute(context.Background(), (&recordingSink{}).send)
	a.distributeMu.Unlock()
	assert.ErrorIs(t, err, ErrJobRunning)

	a.ingestMu.Lock()
	_, err = a.Ingest(context.Background())
	a.ingestMu.Unlock()
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestSourceSpecs(t *testing.T) {
	specs := SourceSpecs([]config.SourceConfig{{
		Name:       "wildberries",
		Kind:       source.KindWildberries,
		Limit:      50,
		Categories: []config.CategoryConfig{{Name: "Электроника", URL: "https://example.com/e", Emoji: "📱"}},
	}})
	require.Len(t, specs, 1)
	assert.Equal(t, "wildberries", specs[0].Request.SourceName)
	assert.Equal(t, 50, specs[0].Request.Limit)
	assert.Equal(t, source.Category{Name: "Электроника", URL: "https://example.com/e", Emoji: "📱"}, specs[0].Request.Categories[0])
}

type fakeNotifier struct {
	errs    []string
	reports []*domain.DistributionReport
}

func (f *fakeNotifier) LogError(err error, where string) { f.errs = append(f.errs, where+": "+err.Error()) }

func (f *fakeNotifier) LogDistribution(r *domain.DistributionReport) {
	f.reports = append(f.reports, r)
}

func TestSchedulerJobs(t *testing.T) {
	a := newTestApp(t)
	n := &fakeNotifier{}
	sink := &recordingSink{}

	s, err := NewScheduler(a, sink.send, n)
	require.NoError(t, err)

	s.runIngest()
	s.runDistribute()
	assert.Empty(t, n.errs)
	require.Len(t, n.reports, 1)
	assert.Equal(t, 2, n.reports[0].Delivered())

	failing := func(context.Context, string, string) error { return errors.New("chat not found") }
	s.sink = failing
	s.runDistribute()
	require.Len(t, n.reports, 2)
	assert.Equal(t, 1, n.reports[1].Failed())
}

func TestSchedulerStopsBatchOnShutdown(t *testing.T) {
	a := newTestApp(t)
	n := &fakeNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sent int
	sink := func(context.Context, string, string) error {
		sent++
		cancel()
		return nil
	}
	s, err := NewScheduler(a, sink, n)
	require.NoError(t, err)
	_, err = a.Ingest(context.Background())
	require.NoError(t, err)

	s.ctx = ctx
	s.runDistribute()

	assert.Equal(t, 1, sent)
	require.Len(t, n.reports, 1)
	report := n.reports[0]
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Delivered())
	assert.Equal(t, 1, report.Pending())

	// the post sent before the stop is recorded and stays in cool-down
	recent, err := a.Store.RecentDistributions(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSchedulerStartReturnsOnCancel(t *testing.T) {
	a := newTestApp(t)
	s, err := NewScheduler(a, (&recordingSink{}).send, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestJobLockIsSharedAcrossApps(t *testing.T) {
	a := newTestApp(t)
	fs, ok := a.Store.(*repository.FileStore)
	require.True(t, ok)
	other, err := repository.NewFileStore(fs.Dir())
	require.NoError(t, err)

	unlock, ok, err := other.TryLockJob(context.Background(), jobDistribute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = a.Distribute(context.Background(), (&recordingSink{}).send)
	assert.ErrorIs(t, err, ErrJobRunning)

	unlock()
	_, err = a.Distribute(context.Background(), (&recordingSink{}).send)
	assert.NoError(t, err)
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	a := newTestApp(t)
	a.Cfg.DistributeCron = "every day"
	_, err := NewScheduler(a, (&recordingSink{}).send, nil)
	assert.ErrorContains(t, err, "DISTRIBUTE_CRON")
}

func TestNewLogger(t *testing.T) {
	assert.True(t, NewLogger("debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewLogger("warn").Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, NewLogger("nonsense").Enabled(context.Background(), slog.LevelInfo))
}
