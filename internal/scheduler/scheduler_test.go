package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-tidy-go/internal/config"
	"email-tidy-go/internal/metrics"
)

type fakeStore struct {
	mu         sync.Mutex
	staleCut   time.Time
	purgeCut   time.Time
	swept      int64
	purged     int64
	sweepErr   error
	sweepCalls int
}

func (f *fakeStore) SweepStale(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepCalls++
	f.staleCut = cutoff
	return f.swept, f.sweepErr
}

func (f *fakeStore) PurgeFinished(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCut = cutoff
	return f.purged, nil
}

func TestSchedulerRestart(t *testing.T) {
	cfg := config.SweeperConfig{IntervalMinutes: 60}
	sched := NewScheduler(cfg, &fakeStore{}, nil)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start())
	assert.False(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	// context should be active after restart
	assert.NoError(t, sched.ctx.Err())
	require.NoError(t, sched.Stop())
}

func TestSchedulerRejectsBadInterval(t *testing.T) {
	sched := NewScheduler(config.SweeperConfig{}, &fakeStore{}, nil)
	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}

func TestRunOnce(t *testing.T) {
	store := &fakeStore{swept: 2, purged: 3}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWith(reg)
	cfg := config.SweeperConfig{IntervalMinutes: 5, StaleAfter: time.Hour, Retention: 24 * time.Hour}
	sched := NewScheduler(cfg, store, m)

	before := time.Now()
	require.NoError(t, sched.RunOnce())
	sched.Wait()

	assert.WithinDuration(t, before.Add(-time.Hour), store.staleCut, time.Second)
	assert.WithinDuration(t, before.Add(-24*time.Hour), store.purgeCut, time.Second)
	assert.False(t, sched.GetLastRun().IsZero())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksSwept))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksPurged))
}

func TestRunOnceSkipsDisabledSteps(t *testing.T) {
	store := &fakeStore{sweepErr: errors.New("db down")}
	sched := NewScheduler(config.SweeperConfig{IntervalMinutes: 5}, store, nil)

	require.NoError(t, sched.RunOnce())
	assert.Zero(t, store.sweepCalls)

	sched.config.StaleAfter = time.Minute
	assert.Error(t, sched.RunOnce())
	assert.Equal(t, 1, store.sweepCalls)
}
