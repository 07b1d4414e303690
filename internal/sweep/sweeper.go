// Package sweep runs the alert checks across every active client of every active tenant.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/observability"
)

const (
	// DefaultConcurrency is the number of clients checked at the same time.
	DefaultConcurrency = 4
	// DefaultClientsPerSecond paces the sweep so it does not starve interactive traffic.
	DefaultClientsPerSecond = 20
)

// ErrLockHeld is returned by SweepLocked when another instance is already sweeping.
var ErrLockHeld = errors.New("sweep lock held by another instance")

// Directory lists the tenants and clients that should be swept.
type Directory interface {
	ActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	ActiveClients(ctx context.Context, tenantID string) ([]domain.Client, error)
}

// Checker runs every rule for one client.
type Checker interface {
	RunAllChecks(ctx context.Context, tenantID, clientID string) ([]domain.Alert, error)
}

// Locker guards a sweep against overlapping runs on other instances.
type Locker interface {
	// TryLock acquires the lock without waiting. When acquired is false the release func is nil.
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

// ClientFailure records a client whose checks failed. ClientID is empty when the tenant's
// client list could not be loaded.
type ClientFailure struct {
	TenantID string
	ClientID string
	Err      error
}

func (f ClientFailure) Error() string {
	if f.ClientID == "" {
		return fmt.Sprintf("tenant %s: %v", f.TenantID, f.Err)
	}
	return fmt.Sprintf("tenant %s client %s: %v", f.TenantID, f.ClientID, f.Err)
}

func (f ClientFailure) Unwrap() error { return f.Err }

// Result summarises one sweep.
type Result struct {
	TenantsChecked int
	ClientsChecked int
	AlertsCreated  int
	Failures       []ClientFailure
	Duration       time.Duration
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = observability.Component(logger, "sweep")
		}
	}
}

// WithConcurrency sets how many clients are checked at once.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRate sets the maximum number of clients started per second. Zero or less disables pacing.
func WithRate(perSecond float64) Option {
	return func(s *Sweeper) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLocker enables cross-instance locking for SweepLocked.
func WithLocker(locker Locker) Option {
	return func(s *Sweeper) {
		s.locker = locker
	}
}

// Sweeper drives RunAllChecks over the whole client base.
type Sweeper struct {
	directory   Directory
	checker     Checker
	locker      Locker
	logger      logrus.FieldLogger
	concurrency int
	limiter     *rate.Limiter
}

// NewSweeper constructs a Sweeper.
func NewSweeper(directory Directory, checker Checker, opts ...Option) *Sweeper {
	s := &Sweeper{
		directory:   directory,
		checker:     checker,
		logger:      observability.Component(logrus.StandardLogger(), "sweep"),
		concurrency: DefaultConcurrency,
		limiter:     rate.NewLimiter(rate.Limit(DefaultClientsPerSecond), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepLocked runs SweepAll while holding the sweep lock. It returns ErrLockHeld without sweeping
// when another instance holds it. Without a configured Locker it behaves like SweepAll.
func (s *Sweeper) SweepLocked(ctx context.Context) (Result, error) {
	if s.locker == nil {
		return s.SweepAll(ctx)
	}

	release, acquired, err := s.locker.TryLock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		return Result{}, ErrLockHeld
	}
	defer release()

	return s.SweepAll(ctx)
}

// SweepAll checks every active client. Per-client failures are recorded in the result and do not
// stop the sweep; only failing to list tenants or context cancellation returns an error.
func (s *Sweeper) SweepAll(ctx context.Context) (Result, error) {
	started := time.Now()

	tenants, err := s.directory.ActiveTenants(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active tenants: %w", err)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	record := func(created int, failure *ClientFailure) {
		mu.Lock()
		defer mu.Unlock()
		result.ClientsChecked++
		result.AlertsCreated += created
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	var scheduleErr error
tenantLoop:
	for _, tenant := range tenants {
		log := s.logger.WithField("tenant_id", tenant.ID)

		clients, err := s.directory.ActiveClients(ctx, tenant.ID)
		if err != nil {
			log.WithError(err).Error("list active clients")
			mu.Lock()
			result.Failures = append(result.Failures, ClientFailure{TenantID: tenant.ID, Err: err})
			mu.Unlock()
			continue
		}
		mu.Lock()
		result.TenantsChecked++
		mu.Unlock()

		for _, client := range clients {
			if err := s.limiter.Wait(ctx); err != nil {
				scheduleErr = err
				break tenantLoop
			}

			tenantID, clientID := tenant.ID, client.ID
			g.Go(func() error {
				alerts, err := s.checker.RunAllChecks(ctx, tenantID, clientID)
				if err != nil {
					s.logger.WithFields(logrus.Fields{
						"tenant_id": tenantID,
						"client_id": clientID,
					}).WithError(err).Error("client checks failed")
					record(len(alerts), &ClientFailure{TenantID: tenantID, ClientID: clientID, Err: err})
					return nil
				}
				record(len(alerts), nil)
				return nil
			})
		}
	}
	_ = g.Wait()

	result.Duration = time.Since(started)
	observability.RecordSweep(started, len(result.Failures))

	s.logger.WithFields(logrus.Fields{
		"tenants":        result.TenantsChecked,
		"clients":        result.ClientsChecked,
		"alerts_created": result.AlertsCreated,
		"failures":       len(result.Failures),
		"duration":       result.Duration.String(),
	}).Info("sweep finished")

	if scheduleErr != nil {
		return result, fmt.Errorf("sweep interrupted: %w", scheduleErr)
	}
	return result, nil
}
