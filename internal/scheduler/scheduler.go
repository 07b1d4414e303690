// Package scheduler triggers the periodic alert sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/observability"
	"example.com/trainingalerts/internal/sweep"
)

// DefaultSchedule runs the sweep every six hours on the hour.
const DefaultSchedule = "0 */6 * * *"

const stopTimeout = 5 * time.Second

// Runner performs one locked sweep.
type Runner interface {
	SweepLocked(ctx context.Context) (sweep.Result, error)
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = observability.Component(logger, "scheduler")
		}
	}
}

// WithRunTimeout bounds a single sweep run. Zero means no bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.runTimeout = d
	}
}

// Scheduler runs the sweep on a cron schedule.
type Scheduler struct {
	runner     Runner
	cron       *rcron.Cron
	logger     logrus.FieldLogger
	runTimeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the sweep job under the given five-field cron expression.
func New(runner Runner, schedule string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		runner: runner,
		logger: observability.Component(logrus.StandardLogger(), "scheduler"),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = rcron.New(rcron.WithChain(
		rcron.Recover(rcron.PrintfLogger(s.logger)),
		rcron.SkipIfStillRunning(rcron.PrintfLogger(s.logger)),
	))
	if _, err := s.cron.AddFunc(schedule, s.fire); err != nil {
		return nil, fmt.Errorf("register sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule. Runs inherit ctx and are cancelled when it is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithField("next_run", s.NextRun()).Info("scheduler started")
}

// Stop halts the schedule and waits briefly for a running sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("stop timeout waiting for running sweep")
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}
	s.logger.Info("scheduler stopped")
}

// NextRun reports when the sweep fires next. It is zero before Start.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	_ = s.RunOnce(ctx)
}

// RunOnce performs one scheduled run. A run skipped because another instance holds the lock is
// logged and counted, and reports sweep.ErrLockHeld.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result, err := s.runner.SweepLocked(ctx)
	switch {
	case errors.Is(err, sweep.ErrLockHeld):
		observability.RecordSweepSkipped()
		s.logger.Info("sweep skipped, lock held elsewhere")
		return err
	case err != nil:
		s.logger.WithError(err).Error("scheduled sweep failed")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"clients":        result.ClientsChecked,
		"alerts_created": result.AlertsCreated,
		"failures":       len(result.Failures),
	}).Info("scheduled sweep complete")
	return nil
}
