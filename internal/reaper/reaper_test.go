package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// --- Fakes ---

type fakeLifecycle struct {
	mu         sync.Mutex
	expired    []domain.Record
	expireErr  error
	destroyErr map[domain.ContentID]error
	graveyard  int
	graveErr   error
	orphans    int
	reconErr   error
	destroyed  []domain.ContentID
	modes      []app.DestroyMode
	minAge     time.Duration
	cycles     int
	block      chan struct{}
	panicWith  any
}

func (f *fakeLifecycle) ExpiredBefore(context.Context, time.Time) ([]domain.Record, error) {
	f.mu.Lock()
	f.cycles++
	p, block := f.panicWith, f.block
	f.mu.Unlock()
	if p != nil {
		panic(p)
	}
	if block != nil {
		<-block
	}
	return f.expired, f.expireErr
}

func (f *fakeLifecycle) Destroy(_ context.Context, rec domain.Record, mode app.DestroyMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.destroyErr[rec.Common().ID]; err != nil {
		return err
	}
	f.destroyed = append(f.destroyed, rec.Common().ID)
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeLifecycle) DrainBlobGraveyard(context.Context, time.Time) (int, error) {
	return f.graveyard, f.graveErr
}

func (f *fakeLifecycle) ReconcileBlobs(_ context.Context, _ time.Time, minAge time.Duration) (int, error) {
	f.mu.Lock()
	f.minAge = minAge
	f.mu.Unlock()
	return f.orphans, f.reconErr
}

func (f *fakeLifecycle) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

// externalCollector captures emitted metrics for verification.
type externalCollector struct {
	mu       sync.Mutex
	counters map[string]int64
	observes map[string][]int64
}

func newExternalCollector() *externalCollector {
	return &externalCollector{counters: make(map[string]int64), observes: make(map[string][]int64)}
}

func (e *externalCollector) Inc(name string, delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters[name] += delta
}

func (e *externalCollector) Observe(name string, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observes[name] = append(e.observes[name], v)
}

func textRecord(t *testing.T) domain.Record {
	t.Helper()
	id, err := domain.NewID()
	require.NoError(t, err)
	return &domain.TextRecord{Header: domain.Header{ID: id}, Text: "x"}
}

func newReaper(t *testing.T, lc Lifecycle, sink app.Sink) *Reaper {
	t.Helper()
	r, err := New(lc, sink, Config{Schedule: "@every 1h", Logger: slog.Default()})
	require.NoError(t, err)
	return r
}

func TestRunOnceSuccess(t *testing.T) {
	a, b := textRecord(t), textRecord(t)
	lc := &fakeLifecycle{expired: []domain.Record{a, b}, graveyard: 2, orphans: 1}
	ec := newExternalCollector()
	r := newReaper(t, lc, ec)

	res := r.RunOnce(context.Background())
	assert.Equal(t, Result{Expired: 2, Graveyard: 2, Orphans: 1}, res)
	assert.Equal(t, []domain.ContentID{a.Common().ID, b.Common().ID}, lc.destroyed)
	assert.Equal(t, []app.DestroyMode{app.ModeSweep, app.ModeSweep}, lc.modes)
	assert.Equal(t, DefaultOrphanMinAge, lc.minAge)

	mv := r.MetricsSnapshot()
	assert.Equal(t, uint64(1), mv.Cycles)
	assert.Equal(t, uint64(2), mv.Expired)
	assert.Equal(t, uint64(1), mv.Orphans)

	ec.mu.Lock()
	defer ec.mu.Unlock()
	assert.Equal(t, int64(2), ec.counters[metrics.CounterReaperExpired])
	assert.Equal(t, int64(2), ec.counters[metrics.CounterGraveyardDrained])
	assert.Equal(t, []int64{2}, ec.observes[metrics.SummaryReaperDeletedPerCycle])
	assert.Len(t, ec.observes[metrics.SummaryReaperCycleMS], 1)
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	bad, good := textRecord(t), textRecord(t)
	lc := &fakeLifecycle{
		expired:    []domain.Record{bad, good},
		destroyErr: map[domain.ContentID]error{bad.Common().ID: errors.New("locked")},
		graveErr:   errors.New("graveyard"),
		reconErr:   errors.New("list"),
	}
	r := newReaper(t, lc, nil)
	res := r.RunOnce(context.Background())
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 3, res.Failures)
	assert.Equal(t, []domain.ContentID{good.Common().ID}, lc.destroyed)
}

func TestRunOnceQueryFailureStillCleansBlobs(t *testing.T) {
	lc := &fakeLifecycle{expireErr: errors.New("boom"), graveyard: 1}
	r := newReaper(t, lc, nil)
	res := r.RunOnce(context.Background())
	assert.Equal(t, Result{Graveyard: 1, Failures: 1}, res)
	assert.Equal(t, uint64(1), r.MetricsSnapshot().Cycles)
}

func TestNewDefaults(t *testing.T) {
	r, err := New(&fakeLifecycle{}, nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, r.cfg.Schedule)
	assert.Equal(t, DefaultOrphanMinAge, r.cfg.OrphanMinAge)
	assert.NotNil(t, r.cfg.Logger)
	assert.NotNil(t, r.cfg.Clock)
}

func TestNewInvalidSchedule(t *testing.T) {
	_, err := New(&fakeLifecycle{}, nil, Config{Schedule: "every now and then"})
	assert.Error(t, err)
}

func TestJobRecoversFromPanic(t *testing.T) {
	lc := &fakeLifecycle{panicWith: "kaboom"}
	r := newReaper(t, lc, nil)
	assert.NotPanics(t, r.job.Run)
	assert.NotPanics(t, r.job.Run, "the next tick runs again")
	assert.Equal(t, 2, lc.cycleCount())
}

func TestJobSkipsWhileRunning(t *testing.T) {
	lc := &fakeLifecycle{block: make(chan struct{})}
	r := newReaper(t, lc, nil)

	done := make(chan struct{})
	go func() {
		r.job.Run()
		close(done)
	}()
	require.Eventually(t, func() bool { return lc.cycleCount() == 1 }, time.Second, time.Millisecond)
	r.job.Run() // skipped: returns at once
	assert.Equal(t, 1, lc.cycleCount())
	close(lc.block)
	<-done
}

func TestStartStop(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newReaper(t, lc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	r.Start(ctx) // no-op
	cancel()
	r.Stop()
	r.Stop()
}

func TestStopReleasesWatcher(t *testing.T) {
	r := newReaper(t, &fakeLifecycle{}, nil)
	r.Start(context.Background()) // never cancelled
	r.Stop()

	exited := make(chan struct{})
	go func() {
		r.watcher.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("context watcher still running after Stop")
	}
}
