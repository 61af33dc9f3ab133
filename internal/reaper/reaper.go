// Package reaper implements the scheduled background cleanup of expired
// content, buried blobs and orphan blobs. It runs independently from request
// handling: one cron job, never overlapping itself, with its own panic
// boundary so a failed cycle is logged and retried on the next tick.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// Defaults applied when Config fields are zero.
const (
	DefaultSchedule     = "@every 5m"
	DefaultOrphanMinAge = 15 * time.Minute
)

// Lifecycle is the slice of the application service the reaper drives.
// *app.Service implements it.
type Lifecycle interface {
	ExpiredBefore(ctx context.Context, t time.Time) ([]domain.Record, error)
	Destroy(ctx context.Context, rec domain.Record, mode app.DestroyMode) error
	DrainBlobGraveyard(ctx context.Context, now time.Time) (int, error)
	ReconcileBlobs(ctx context.Context, now time.Time, minAge time.Duration) (int, error)
}

// Config holds tunables for the Reaper.
type Config struct {
	Schedule     string        // cron spec or descriptor such as "@every 5m"
	OrphanMinAge time.Duration // blobs younger than this are never treated as orphans
	Logger       *slog.Logger  // optional logger (defaults to slog.Default())
	Clock        app.Clock     // optional; defaults to UTC wall time
}

// Result summarizes one cycle.
type Result struct {
	Expired   int
	Graveyard int
	Orphans   int
	Failures  int
}

// MetricsView is a read-only snapshot of cumulative counters.
type MetricsView struct {
	Cycles              uint64
	Expired             uint64
	Graveyard           uint64
	Orphans             uint64
	Failures            uint64
	CycleLastDurationMS int64
}

// Reaper encapsulates the scheduled cleanup job.
type Reaper struct {
	lc   Lifecycle
	sink app.Sink
	cfg  Config
	log  *slog.Logger

	cron *cron.Cron
	job  cron.Job

	mu      sync.Mutex
	ctx     context.Context
	stats   MetricsView
	started bool
	once    sync.Once
	done    chan struct{} // closed by Stop
	watcher sync.WaitGroup
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New constructs but does not start a Reaper. It fails on an invalid schedule.
func New(lc Lifecycle, sink app.Sink, cfg Config) (*Reaper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.OrphanMinAge <= 0 {
		cfg.OrphanMinAge = DefaultOrphanMinAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = utcClock{}
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("reap schedule %q: %w", cfg.Schedule, err)
	}
	log := cfg.Logger.With("domain", "reaper")
	cl := cronLogger{l: log}
	r := &Reaper{
		lc:   lc,
		sink: sink,
		cfg:  cfg,
		log:  log,
		ctx:  context.Background(),
		done: make(chan struct{}),
		cron: cron.New(cron.WithLogger(cl)),
	}
	if r.sink == nil {
		r.sink = discard{}
	}
	r.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(r.tick))
	r.cron.Schedule(sched, r.job)
	return r, nil
}

// Start launches the scheduler. Cycles use ctx; cancelling it stops the
// scheduler as Stop does.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx = ctx
	r.cron.Start()
	r.log.Info("reaper started", "schedule", r.cfg.Schedule)
	r.watcher.Add(1)
	go func() {
		defer r.watcher.Done()
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
}

// Stop halts scheduling and waits for a running cycle to finish.
func (r *Reaper) Stop() {
	r.once.Do(func() {
		close(r.done)
		<-r.cron.Stop().Done()
		r.log.Info("reaper stopped")
	})
}

// MetricsSnapshot returns a copy of the cumulative counters.
func (r *Reaper) MetricsSnapshot() MetricsView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reaper) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	r.RunOnce(ctx)
}

// RunOnce performs one full cycle: destroy expired records, drain the blob
// graveyard, then reconcile orphan blobs. Each step runs even if an earlier
// one failed.
func (r *Reaper) RunOnce(ctx context.Context) Result {
	start := time.Now()
	log := r.log.With("action", "cycle")
	now := r.cfg.Clock.Now()
	var res Result

	expired, err := r.lc.ExpiredBefore(ctx, now)
	if err != nil {
		res.Failures++
		logErr(log, "query expired", err)
	}
	for _, rec := range expired {
		if err := r.lc.Destroy(ctx, rec, app.ModeSweep); err != nil {
			res.Failures++
			logErr(log, "destroy expired", err)
			continue
		}
		res.Expired++
	}

	if res.Graveyard, err = r.lc.DrainBlobGraveyard(ctx, now); err != nil {
		res.Failures++
		logErr(log, "drain graveyard", err)
	}
	if res.Orphans, err = r.lc.ReconcileBlobs(ctx, now, r.cfg.OrphanMinAge); err != nil {
		res.Failures++
		logErr(log, "reconcile", err)
	}

	elapsed := time.Since(start)
	r.record(res, elapsed)
	log.Info("cycle complete",
		"expired", res.Expired,
		"graveyard", res.Graveyard,
		"orphans", res.Orphans,
		"failures", res.Failures,
		"ms", elapsed.Milliseconds(),
	)
	return res
}

func (r *Reaper) record(res Result, elapsed time.Duration) {
	r.mu.Lock()
	r.stats.Cycles++
	r.stats.Expired += uint64(res.Expired)
	r.stats.Graveyard += uint64(res.Graveyard)
	r.stats.Orphans += uint64(res.Orphans)
	r.stats.Failures += uint64(res.Failures)
	r.stats.CycleLastDurationMS = elapsed.Milliseconds()
	r.mu.Unlock()

	r.sink.Inc(metrics.CounterReaperExpired, int64(res.Expired))
	r.sink.Inc(metrics.CounterGraveyardDrained, int64(res.Graveyard))
	r.sink.Inc(metrics.CounterReaperFailures, int64(res.Failures))
	r.sink.Observe(metrics.SummaryReaperDeletedPerCycle, int64(res.Expired))
	r.sink.Observe(metrics.SummaryReaperCycleMS, elapsed.Milliseconds())
}

func logErr(log *slog.Logger, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		log.Debug(msg, "error", err)
		return
	}
	log.Error(msg, "error", err)
}

// cronLogger adapts slog to cron.Logger. Scheduler chatter goes to debug.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

type discard struct{}

func (discard) Inc(string, int64)     {}
func (discard) Observe(string, int64) {}
