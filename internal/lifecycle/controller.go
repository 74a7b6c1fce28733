// Package lifecycle drives one kind of background task for one mailbox
// from submission to a terminal outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/poller"
	"email-tidy-go/internal/task"
)

// ErrReset is returned by Submit when the controller was reset while the
// submission was in flight
var ErrReset = errors.New("controller was reset")

// ErrClosed is returned once the owning view has closed the controller
var ErrClosed = errors.New("controller closed")

// Phase is the controller state
type Phase int

const (
	Idle Phase = iota
	Submitting
	Running
	Succeeded
	Failed
	Stalled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a run
func (p Phase) Terminal() bool {
	return p == Succeeded || p == Failed || p == Stalled
}

// Backend is the server API the controller needs
type Backend interface {
	Submit(ctx context.Context, mailbox task.Mailbox, req task.Request) (string, error)
	RunningTasks(ctx context.Context, mailbox task.Mailbox) (task.Running, error)
}

// State is a snapshot of the controller
type State struct {
	Mailbox  task.Mailbox
	Kind     task.Kind
	Phase    Phase
	TaskID   string
	Progress task.Progress
	// Err is the reason for a Failed or Stalled phase, or the last
	// recoverable error seen while Running
	Err error
}

// Controller owns the task and progress records for one (mailbox, kind) pair.
// All mutation goes through its methods.
type Controller struct {
	mailbox task.Mailbox
	kind    task.Kind
	backend Backend
	poller  *poller.Poller
	metrics *metrics.Metrics

	refresh  func(ctx context.Context)
	observer func(State)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	phase      Phase
	ref        *task.Ref
	progress   task.Progress
	err        error
	generation uint64
	handle     *poller.Handle
	run        *run
}

type run struct {
	done chan struct{}
	once sync.Once
}

func newRun() *run { return &run{done: make(chan struct{})} }

func (r *run) finish() { r.once.Do(func() { close(r.done) }) }

// Option configures a Controller
type Option func(*Controller)

// WithRefresh registers fn to be called once per terminal outcome. It runs
// before Wait returns.
func WithRefresh(fn func(ctx context.Context)) Option {
	return func(c *Controller) { c.refresh = fn }
}

// WithObserver registers fn to receive a snapshot after every change
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithMetrics records task outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates an idle controller
func New(mailbox task.Mailbox, kind task.Kind, backend Backend, p *poller.Poller, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		mailbox: mailbox,
		kind:    kind,
		backend: backend,
		poller:  p,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"mailbox": c.mailbox.Address,
		"kind":    string(c.kind),
	})
}

// Kind returns the task kind this controller drives
func (c *Controller) Kind() task.Kind { return c.kind }

// IsRunning reports whether a task is being submitted or observed
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == Submitting || c.phase == Running
}

// Snapshot returns the current state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := State{
		Mailbox:  c.mailbox,
		Kind:     c.kind,
		Phase:    c.phase,
		Progress: c.progress,
		Err:      c.err,
	}
	if c.ref != nil {
		s.TaskID = c.ref.ID
	}
	return s
}

func (c *Controller) notify(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}

func (c *Controller) conflictLocked() error {
	id := ""
	if c.ref != nil {
		id = c.ref.ID
	}
	return fmt.Errorf("%w: %s task %q for %s", task.ErrConflict, c.kind, id, c.mailbox.Address)
}

// Submit sends req to the server and starts observing the returned task.
// It fails with task.ErrConflict, without contacting the server, while a
// task of this kind is outstanding.
func (c *Controller) Submit(ctx context.Context, req task.Request) (task.Ref, error) {
	if req.Kind == "" {
		req.Kind = c.kind
	}
	if req.Kind != c.kind {
		return task.Ref{}, fmt.Errorf("controller drives %s tasks, got %s", c.kind, req.Kind)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return task.Ref{}, ErrClosed
	}
	if c.phase == Submitting || c.phase == Running {
		err := c.conflictLocked()
		c.mu.Unlock()
		return task.Ref{}, err
	}
	c.generation++
	gen := c.generation
	c.phase = Submitting
	c.ref = nil
	c.progress = task.Progress{}
	c.err = nil
	c.run = newRun()
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(s)

	id, err := c.backend.Submit(ctx, c.mailbox, req)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return task.Ref{}, ErrReset
	}
	if err != nil {
		c.phase = Idle
		c.err = err
		r := c.run
		s = c.snapshotLocked()
		c.mu.Unlock()

		c.log().WithError(err).Error("Failed to submit task")
		r.finish()
		c.notify(s)
		return task.Ref{}, fmt.Errorf("submit %s task: %w", c.kind, err)
	}

	ref, err := c.startLocked(gen, id)
	s = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(s)
	if err != nil {
		return task.Ref{}, err
	}

	c.log().WithField("task_id", id).Info("Task submitted")
	return ref, nil
}

// Resume starts observing a task that is already running on the server
func (c *Controller) Resume(taskID string) (task.Ref, error) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return task.Ref{}, ErrClosed
	}
	if c.phase == Submitting || c.phase == Running {
		if c.ref != nil && c.ref.ID == taskID {
			ref := *c.ref
			c.mu.Unlock()
			return ref, nil
		}
		err := c.conflictLocked()
		c.mu.Unlock()
		return task.Ref{}, err
	}
	c.generation++
	gen := c.generation
	c.progress = task.Progress{}
	c.err = nil
	c.run = newRun()

	ref, err := c.startLocked(gen, taskID)
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(s)
	if err != nil {
		return task.Ref{}, err
	}

	c.log().WithField("task_id", taskID).Info("Resumed running task")
	return ref, nil
}

// startLocked must be called with c.mu held
func (c *Controller) startLocked(gen uint64, id string) (task.Ref, error) {
	ref := task.Ref{ID: id, Kind: c.kind, Mailbox: c.mailbox}
	c.ref = &ref
	c.phase = Running

	h, err := c.poller.Start(c.ctx, id, func(u poller.Update) {
		c.apply(gen, u)
	})
	if err != nil {
		c.phase = Idle
		c.ref = nil
		c.err = err
		c.run.finish()
		return task.Ref{}, fmt.Errorf("poll %s task %s: %w", c.kind, id, err)
	}
	c.handle = h
	return ref, nil
}

// Reconcile asks the server whether a task of this kind is already running
// for the mailbox and resumes observing it. It reports whether a task is
// now being observed.
func (c *Controller) Reconcile(ctx context.Context) (bool, error) {
	running, err := c.backend.RunningTasks(ctx, c.mailbox)
	if err != nil {
		return false, fmt.Errorf("check running tasks: %w", err)
	}
	return c.Adopt(running)
}

// Adopt resumes the task of this kind listed in running, if any
func (c *Controller) Adopt(running task.Running) (bool, error) {
	id := running.For(c.kind)
	if id == "" {
		return c.IsRunning(), nil
	}
	if _, err := c.Resume(id); err != nil {
		return false, err
	}
	return true, nil
}

// OnPollResult applies an update for the task currently being observed.
// Updates for any other task id are ignored.
func (c *Controller) OnPollResult(u poller.Update) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.apply(gen, u)
}

func (c *Controller) apply(gen uint64, u poller.Update) {
	c.mu.Lock()
	if c.generation != gen || c.phase != Running || c.ref == nil || c.ref.ID != u.TaskID {
		c.mu.Unlock()
		return
	}

	c.progress = u.Progress
	if !u.Done {
		c.err = u.Err
		s := c.snapshotLocked()
		c.mu.Unlock()

		if u.Err != nil {
			c.log().WithField("task_id", u.TaskID).WithError(u.Err).Warn("Poll failed, retrying")
		}
		c.notify(s)
		return
	}

	switch {
	case u.Err == nil && u.Status.State == task.StateSuccess:
		c.phase = Succeeded
		c.err = nil
	case u.Err == nil:
		c.phase = Failed
		c.err = task.ErrTaskFailed
	case errors.Is(u.Err, task.ErrStalled):
		c.phase = Stalled
		c.err = u.Err
	default:
		c.phase = Failed
		c.err = u.Err
	}

	taskID := c.ref.ID
	h := c.handle
	c.ref = nil
	c.handle = nil
	r := c.run
	s := c.snapshotLocked()
	c.mu.Unlock()

	if h != nil {
		h.Cancel()
	}

	entry := c.log().WithField("task_id", taskID)
	if s.Err != nil {
		entry.WithError(s.Err).Warnf("Task ended %s", s.Phase)
	} else {
		entry.Info("Task succeeded")
	}
	c.metrics.ObserveOutcome(string(c.kind), s.Phase.String())

	c.notify(s)
	if c.refresh != nil {
		c.refresh(c.ctx)
	}
	r.finish()
}

// Reset stops observing, clears the task and progress, and returns to Idle.
// It does not cancel the task on the server.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	h := c.handle
	r := c.run
	c.phase = Idle
	c.ref = nil
	c.progress = task.Progress{}
	c.err = nil
	c.handle = nil
	c.run = nil
	s := c.snapshotLocked()
	c.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	if r != nil {
		r.finish()
	}
	c.notify(s)
}

// Close resets the controller and releases its context. A closed
// controller cannot start new polls.
func (c *Controller) Close() {
	c.Reset()
	c.cancel()
}

// Wait blocks until the current run ends, by a terminal outcome, a failed
// submission or Reset, and returns the resulting state.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return c.Snapshot(), nil
	}

	select {
	case <-r.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}
