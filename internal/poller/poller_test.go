package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/task"
)

type result struct {
	status task.Status
	err    error
}

// scriptedFetcher replays results in order and repeats the last one
type scriptedFetcher struct {
	mu       sync.Mutex
	script   []result
	calls    int
	inFlight int
	maxSeen  int
	block    chan struct{}
}

func (f *scriptedFetcher) TaskStatus(ctx context.Context, taskID string) (task.Status, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	i := f.calls
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].status, f.script[i].err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) observe(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func fastConfig() Config {
	return Config{Interval: time.Millisecond, MaxWaitAttempts: 15}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not finish")
	}
}

func TestPollerProgressThenSuccess(t *testing.T) {
	f := &scriptedFetcher{script: []result{
		{status: task.Progressing(3, 10)},
		{status: task.Succeeded()},
	}}
	rec := &recorder{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := New(f, fastConfig(), WithMetrics(m), WithKind(task.KindScan))

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors.WithLabelValues("scan", "auth")))

	updates := rec.all()
	require.Len(t, updates, 2)
	assert.Equal(t, 30.0, updates[0].Progress.Filled)
	assert.False(t, updates[0].Done)
	assert.Equal(t, 100.0, updates[1].Progress.Filled)
	assert.True(t, updates[1].Done)
	assert.NoError(t, updates[1].Err)
	assert.Equal(t, 2, f.Calls())
	assert.False(t, p.Active("T1"))
}

func TestPollerFailureIsTerminal(t *testing.T) {
	f := &scriptedFetcher{script: []result{
		{status: task.Progressing(7, 10)},
		{status: task.Failed()},
	}}
	rec := &recorder{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := New(f, fastConfig(), WithMetrics(m), WithKind(task.KindScan))

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors.WithLabelValues("scan", "auth")))

	updates := rec.all()
	require.Len(t, updates, 2)
	last := updates[1]
	assert.True(t, last.Done)
	assert.Equal(t, task.StateFailure, last.Status.State)
	assert.Equal(t, 70.0, last.Progress.Filled)
}

func TestPollerStallsAfterCeiling(t *testing.T) {
	f := &scriptedFetcher{script: []result{{status: task.Unknown()}}}
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWith(reg)
	p := New(f, fastConfig(), WithMetrics(m), WithKind(task.KindScan))

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	// no 16th poll
	assert.Equal(t, 15, f.Calls())

	updates := rec.all()
	require.Len(t, updates, 15)
	for i, u := range updates[:14] {
		assert.Equal(t, i+1, u.Progress.WaitAttempts)
		assert.False(t, u.Done)
	}
	last := updates[14]
	assert.True(t, last.Done)
	assert.ErrorIs(t, last.Err, task.ErrStalled)
	assert.Equal(t, 15, last.Progress.WaitAttempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskStalls.WithLabelValues("scan")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.PollCount.WithLabelValues("PENDING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActivePollers))
}

func TestPollerProgressResetsWaitAttempts(t *testing.T) {
	script := make([]result, 0, 30)
	for i := 0; i < 10; i++ {
		script = append(script, result{status: task.Unknown()})
	}
	script = append(script, result{status: task.Progressing(1, 5)})
	for i := 0; i < 10; i++ {
		script = append(script, result{status: task.Unknown()})
	}
	script = append(script, result{status: task.Succeeded()})

	f := &scriptedFetcher{script: script}
	rec := &recorder{}
	p := New(f, fastConfig())

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	updates := rec.all()
	require.Len(t, updates, len(script))
	assert.Equal(t, 0, updates[10].Progress.WaitAttempts)
	assert.Equal(t, 10, updates[20].Progress.WaitAttempts)
	assert.NoError(t, updates[len(updates)-1].Err)
}

func TestPollerStopsOnAuthError(t *testing.T) {
	f := &scriptedFetcher{script: []result{
		{status: task.Progressing(1, 4)},
		{err: task.ErrAuth},
	}}
	rec := &recorder{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := New(f, fastConfig(), WithMetrics(m), WithKind(task.KindScan))

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors.WithLabelValues("scan", "auth")))

	updates := rec.all()
	require.Len(t, updates, 2)
	assert.True(t, updates[1].Done)
	assert.ErrorIs(t, updates[1].Err, task.ErrAuth)
	assert.Equal(t, 25.0, updates[1].Progress.Filled)
	assert.Equal(t, 2, f.Calls())
}

func TestPollerRetriesTransportErrors(t *testing.T) {
	boom := &task.TransportError{Op: "GET /status", StatusCode: 502}
	f := &scriptedFetcher{script: []result{
		{err: boom},
		{err: boom},
		{status: task.Succeeded()},
	}}
	rec := &recorder{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := New(f, fastConfig(), WithMetrics(m), WithKind(task.KindUnsubscribe))

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollErrors.WithLabelValues("unsubscribe", "transport")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollErrors.WithLabelValues("unsubscribe", "auth")))

	updates := rec.all()
	require.Len(t, updates, 3)
	assert.ErrorIs(t, updates[0].Err, task.ErrTransport)
	assert.False(t, updates[0].Done)
	assert.True(t, updates[2].Done)
	assert.NoError(t, updates[2].Err)
}

func TestPollerGivesUpAfterRepeatedTransportErrors(t *testing.T) {
	boom := &task.TransportError{Op: "GET /status", Err: errors.New("connection refused")}
	f := &scriptedFetcher{script: []result{{err: boom}}}
	rec := &recorder{}
	p := New(f, Config{Interval: time.Millisecond, MaxWaitAttempts: 3})

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, 3, f.Calls())
	updates := rec.all()
	require.Len(t, updates, 3)
	assert.True(t, updates[2].Done)
	assert.ErrorIs(t, updates[2].Err, task.ErrTransport)
}

func TestPollerSingleFlight(t *testing.T) {
	f := &scriptedFetcher{
		script: []result{{status: task.Progressing(1, 2)}},
		block:  make(chan struct{}),
	}
	p := New(f, fastConfig())

	h, err := p.Start(context.Background(), "T1", nil)
	require.NoError(t, err)

	_, err = p.Start(context.Background(), "T1", nil)
	assert.ErrorIs(t, err, ErrAlreadyPolling)

	// a different task id is independent
	other, err := p.Start(context.Background(), "T2", nil)
	require.NoError(t, err)
	other.Cancel()

	close(f.block)
	time.Sleep(20 * time.Millisecond)
	h.Cancel()
	waitDone(t, h)

	f.mu.Lock()
	maxSeen := f.maxSeen
	f.mu.Unlock()
	// T1 and T2 may overlap, but T1 never overlaps itself
	assert.LessOrEqual(t, maxSeen, 2)

	h2, err := p.Start(context.Background(), "T1", nil)
	require.NoError(t, err)
	h2.Cancel()
	waitDone(t, h2)
}

func TestPollerNoUpdateAfterCancel(t *testing.T) {
	f := &scriptedFetcher{
		script: []result{{status: task.Succeeded()}},
		block:  make(chan struct{}),
	}
	rec := &recorder{}
	p := New(f, fastConfig())

	h, err := p.Start(context.Background(), "T1", rec.observe)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, time.Millisecond)
	h.Cancel()
	h.Cancel()
	close(f.block)
	waitDone(t, h)

	assert.Empty(t, rec.all())
	assert.False(t, p.Active("T1"))
}

func TestPollerParentContextCancels(t *testing.T) {
	f := &scriptedFetcher{script: []result{{status: task.Progressing(1, 10)}}}
	p := New(f, Config{Interval: time.Hour, MaxWaitAttempts: 15})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := p.Start(ctx, "T1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()
	waitDone(t, h)
	assert.Equal(t, 1, f.Calls())
}

func TestPollerRejectsEmptyTaskID(t *testing.T) {
	p := New(&scriptedFetcher{}, Config{})
	_, err := p.Start(context.Background(), "", nil)
	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(), p.config)
}
