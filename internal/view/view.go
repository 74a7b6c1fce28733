// Package view ties the scan and unsubscribe controllers and a result
// cursor to one mailbox for as long as that mailbox is on screen.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/cursor"
	"email-tidy-go/internal/lifecycle"
	"email-tidy-go/internal/metrics"
	"email-tidy-go/internal/poller"
	"email-tidy-go/internal/task"
)

// Stage names a step of the mount pipeline
type Stage string

const (
	StageVerifyCredential Stage = "verify-credential"
	StageReconcileTasks   Stage = "reconcile-tasks"
	StageFetchPage        Stage = "fetch-page"
)

// ErrTornDown is returned when a view is used after Teardown
var ErrTornDown = errors.New("view torn down")

// StageError reports the mount stage that failed. Later stages did not run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Backend is the server API a view needs
type Backend interface {
	lifecycle.Backend
	poller.StatusFetcher
	TestToken(ctx context.Context) error
}

// Config configures a view
type Config struct {
	Poll     poller.Config
	PageSize int
	Metrics  *metrics.Metrics
	// OnState receives every controller change
	OnState func(lifecycle.State)
	// OnRefresh runs after the cursor reloaded page 0 for a finished task
	OnRefresh func(kind task.Kind, err error)
}

// Mounted is the outcome of a successful Mount
type Mounted struct {
	ScanRunning        bool
	UnsubscribeRunning bool
}

// View owns the task state and result rows for one mailbox
type View[T any] struct {
	Mailbox     task.Mailbox
	Scan        *lifecycle.Controller
	Unsubscribe *lifecycle.Controller
	Cursor      *cursor.Cursor[T]

	backend Backend
	config  Config

	mu   sync.Mutex
	torn bool
}

// New builds an unmounted view over rows read by fetcher
func New[T any](backend Backend, mailbox task.Mailbox, fetcher cursor.Fetcher[T], cfg Config) *View[T] {
	v := &View[T]{
		Mailbox: mailbox,
		backend: backend,
		config:  cfg,
		Cursor: cursor.New(fetcher, cursor.Query{Mailbox: mailbox}, cursor.Options{
			PageSize: cfg.PageSize,
			Metrics:  cfg.Metrics,
		}),
	}
	v.Scan = v.controller(task.KindScan)
	v.Unsubscribe = v.controller(task.KindUnsubscribe)
	return v
}

func (v *View[T]) controller(kind task.Kind) *lifecycle.Controller {
	p := poller.New(v.backend, v.config.Poll,
		poller.WithKind(kind),
		poller.WithMetrics(v.config.Metrics),
	)

	opts := []lifecycle.Option{
		lifecycle.WithMetrics(v.config.Metrics),
		lifecycle.WithRefresh(func(ctx context.Context) { v.refresh(ctx, kind) }),
	}
	if v.config.OnState != nil {
		opts = append(opts, lifecycle.WithObserver(v.config.OnState))
	}
	return lifecycle.New(v.Mailbox, kind, v.backend, p, opts...)
}

// Controller returns the controller for kind
func (v *View[T]) Controller(kind task.Kind) *lifecycle.Controller {
	if kind == task.KindUnsubscribe {
		return v.Unsubscribe
	}
	return v.Scan
}

func (v *View[T]) refresh(ctx context.Context, kind task.Kind) {
	err := v.Cursor.Refresh(ctx)
	if errors.Is(err, cursor.ErrDiscarded) || errors.Is(err, cursor.ErrSuperseded) {
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"mailbox": v.Mailbox.Address,
			"kind":    string(kind),
		}).WithError(err).Warn("Failed to refresh results after task finished")
	}
	if v.config.OnRefresh != nil {
		v.config.OnRefresh(kind, err)
	}
}

// Mount verifies the credential, resumes any tasks the server is still
// running for the mailbox, and loads the first page, strictly in that order.
// The first failing stage stops the pipeline.
func (v *View[T]) Mount(ctx context.Context) (Mounted, error) {
	v.mu.Lock()
	torn := v.torn
	v.mu.Unlock()
	if torn {
		return Mounted{}, ErrTornDown
	}

	log := logrus.WithField("mailbox", v.Mailbox.Address)

	if err := v.backend.TestToken(ctx); err != nil {
		return Mounted{}, &StageError{Stage: StageVerifyCredential, Err: err}
	}

	running, err := v.backend.RunningTasks(ctx, v.Mailbox)
	if err != nil {
		return Mounted{}, &StageError{Stage: StageReconcileTasks, Err: err}
	}
	var m Mounted
	if m.ScanRunning, err = v.Scan.Adopt(running); err != nil {
		return m, &StageError{Stage: StageReconcileTasks, Err: err}
	}
	if m.UnsubscribeRunning, err = v.Unsubscribe.Adopt(running); err != nil {
		return m, &StageError{Stage: StageReconcileTasks, Err: err}
	}

	// a resumed task that finished meanwhile may already have reloaded the page
	if err := v.Cursor.Refresh(ctx); err != nil && !errors.Is(err, cursor.ErrSuperseded) {
		return m, &StageError{Stage: StageFetchPage, Err: err}
	}

	log.WithFields(logrus.Fields{
		"scan_running":        m.ScanRunning,
		"unsubscribe_running": m.UnsubscribeRunning,
		"total":               v.Cursor.Total(),
	}).Debug("View mounted")
	return m, nil
}

// Teardown stops both controllers and drops the rows. Poll results still in
// flight are discarded. The view cannot be mounted again.
func (v *View[T]) Teardown() {
	v.mu.Lock()
	if v.torn {
		v.mu.Unlock()
		return
	}
	v.torn = true
	v.mu.Unlock()

	v.Scan.Close()
	v.Unsubscribe.Close()
	v.Cursor.Discard()
}
