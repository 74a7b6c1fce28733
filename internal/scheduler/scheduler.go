package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/config"
	"email-tidy-go/internal/metrics"
)

// TaskStore is the part of the task registry the sweeper cleans up
type TaskStore interface {
	SweepStale(cutoff time.Time) (int64, error)
	PurgeFinished(cutoff time.Time) (int64, error)
}

// Scheduler periodically fails stale tasks and purges old finished ones
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.SweeperConfig
	store     TaskStore
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	mu        sync.RWMutex
	runMu     sync.Mutex
}

// NewScheduler creates a new sweeper
func NewScheduler(cfg config.SweeperConfig, store TaskStore, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		config:  cfg,
		store:   store,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid sweep interval: %d minutes", s.config.IntervalMinutes)
	}

	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	// Sweep every N minutes
	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Sweeper started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()
	s.cron.Remove(s.entryID)

	select {
	case <-ctx.Done():
		logrus.Info("Sweeper stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Sweeper stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) sweep() {
	s.mu.RLock()
	running := s.isRunning
	ctx := s.ctx
	s.mu.RUnlock()

	if !running || ctx.Err() != nil {
		logrus.Info("Sweeper not running, skipping cycle")
		return
	}
	if err := s.runCycle(); err != nil {
		logrus.WithError(err).Error("Sweep cycle failed")
	}
}

// runCycle fails tasks with no report within StaleAfter and deletes
// finished tasks older than Retention. Cycles never overlap.
func (s *Scheduler) runCycle() error {
	s.wg.Add(1)
	defer s.wg.Done()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	defer func() {
		s.mu.Lock()
		s.lastRun = start
		s.mu.Unlock()
	}()

	var swept, purged int64
	var err error

	if s.config.StaleAfter > 0 {
		swept, err = s.store.SweepStale(start.Add(-s.config.StaleAfter))
		if err != nil {
			s.metrics.ObserveSweep(swept, 0)
			return fmt.Errorf("failed to sweep stale tasks: %w", err)
		}
	}

	if s.config.Retention > 0 {
		purged, err = s.store.PurgeFinished(start.Add(-s.config.Retention))
		if err != nil {
			s.metrics.ObserveSweep(swept, purged)
			return fmt.Errorf("failed to purge finished tasks: %w", err)
		}
	}

	s.metrics.ObserveSweep(swept, purged)
	logrus.WithFields(logrus.Fields{
		"swept":    swept,
		"purged":   purged,
		"duration": time.Since(start).String(),
	}).Info("Sweep cycle completed")
	return nil
}

// RunOnce runs one sweep cycle now (for manual triggering)
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running sweep once")
	return s.runCycle()
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the start time of the last completed cycle
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Wait waits for running cycles to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
