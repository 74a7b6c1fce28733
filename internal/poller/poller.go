// Package poller follows a server-side task from its id to a terminal outcome.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/task"
)

// ErrAlreadyPolling is returned when a task id already has a live poll loop
var ErrAlreadyPolling = errors.New("task is already being polled")

// StatusFetcher performs a single status round-trip for a task
type StatusFetcher interface {
	TaskStatus(ctx context.Context, taskID string) (task.Status, error)
}

// Config controls the poll cadence and the stall ceiling
type Config struct {
	Interval        time.Duration
	MaxWaitAttempts int
}

// DefaultConfig polls once a second and gives up after 15 unknown observations
func DefaultConfig() Config {
	return Config{Interval: time.Second, MaxWaitAttempts: 15}
}

// Update is delivered to the observer after every poll.
// Done is set on the last update of a loop; Err then says why it stopped
// unless the task reached a terminal status.
type Update struct {
	TaskID   string
	Status   task.Status
	Progress task.Progress
	Err      error
	Done     bool
}

// Observer receives updates from the poll goroutine
type Observer func(Update)

// Poller runs at most one poll loop per task id
type Poller struct {
	fetcher StatusFetcher
	config  Config
	kind    task.Kind
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]*Handle
}

// Option configures a Poller
type Option func(*Poller)

// WithMetrics records polls on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithKind labels logs and metrics with the kind of task being polled
func WithKind(kind task.Kind) Option {
	return func(p *Poller) { p.kind = kind }
}

// New creates a poller. Zero config fields fall back to DefaultConfig.
func New(fetcher StatusFetcher, cfg Config, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxWaitAttempts <= 0 {
		cfg.MaxWaitAttempts = def.MaxWaitAttempts
	}

	p := &Poller{
		fetcher: fetcher,
		config:  cfg,
		active:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls a running poll loop
type Handle struct {
	taskID string
	poller *Poller
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// TaskID returns the id being polled
func (h *Handle) TaskID() string { return h.taskID }

// Cancel stops the loop. A poll already in flight is discarded when it
// returns. Safe to call more than once and from the observer.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		h.poller.release(h)
	})
}

// Done is closed once the loop goroutine has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

// Active reports whether taskID currently has a live loop
func (p *Poller) Active(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[taskID]
	return ok
}

// Start polls taskID until it is terminal, stalls, loses its credential,
// keeps failing, or ctx is cancelled. The first poll is issued immediately
// and each later poll waits Interval after the previous one resolved.
func (p *Poller) Start(ctx context.Context, taskID string, observe Observer) (*Handle, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}

	p.mu.Lock()
	if _, ok := p.active[taskID]; ok {
		p.mu.Unlock()
		return nil, ErrAlreadyPolling
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		taskID: taskID,
		poller: p,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.active[taskID] = h
	p.mu.Unlock()

	p.metrics.PollerStarted()
	go p.run(ctx, h, observe)
	return h, nil
}

func (p *Poller) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[h.taskID] == h {
		delete(p.active, h.taskID)
	}
}

func (p *Poller) run(ctx context.Context, h *Handle, observe Observer) {
	defer func() {
		h.Cancel()
		p.metrics.PollerStopped()
		close(h.done)
	}()

	log := logrus.WithFields(logrus.Fields{
		"task_id": h.taskID,
		"kind":    string(p.kind),
	})

	var (
		progress task.Progress
		failures int
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Polling cancelled")
			return
		case <-timer.C:
		}

		status, err := p.fetcher.TaskStatus(ctx, h.taskID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			u := Update{TaskID: h.taskID, Progress: progress, Err: err}
			if errors.Is(err, task.ErrAuth) {
				p.metrics.ObservePollError(string(p.kind), "auth")
				log.Warn("Polling stopped: credential rejected")
				u.Done = true
				p.deliver(ctx, observe, u)
				return
			}

			failures++
			p.metrics.ObservePollError(string(p.kind), "transport")
			log.WithError(err).Warnf("Poll failed (%d/%d)", failures, p.config.MaxWaitAttempts)
			if failures >= p.config.MaxWaitAttempts {
				u.Done = true
				p.deliver(ctx, observe, u)
				return
			}
			p.deliver(ctx, observe, u)
			timer.Reset(p.config.Interval)
			continue
		}

		failures = 0
		progress = task.DeriveProgress(status, progress)
		p.metrics.ObservePoll(status.State.String())

		u := Update{TaskID: h.taskID, Status: status, Progress: progress}
		switch {
		case task.IsTerminal(status):
			u.Done = true
			log.Infof("Task finished with state %s", status.State)
		case progress.WaitAttempts >= p.config.MaxWaitAttempts:
			u.Done = true
			u.Err = task.ErrStalled
			p.metrics.ObserveStall(string(p.kind))
			log.Warnf("Task still not visible after %d attempts", progress.WaitAttempts)
		}

		p.deliver(ctx, observe, u)
		if u.Done {
			return
		}
		timer.Reset(p.config.Interval)
	}
}

func (p *Poller) deliver(ctx context.Context, observe Observer, u Update) {
	if observe == nil || ctx.Err() != nil {
		return
	}
	observe(u)
}
