// Package alerting runs the training alert rules for a client and manages the alert lifecycle.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/observability"
	"example.com/trainingalerts/internal/rules"
)

const (
	// DefaultProviderTimeout bounds each data read made on behalf of one rule.
	DefaultProviderTimeout = 10 * time.Second
	// DefaultDedupWindow is how long an unresolved alert suppresses a new one of the same type.
	DefaultDedupWindow = 24 * time.Hour
)

// DataProvider reads the client history the rules evaluate. Check-ins are returned newest first.
type DataProvider interface {
	RecentCheckins(ctx context.Context, tenantID, clientID string, limit int) ([]domain.CheckinSample, error)
	// WeeklyVolume returns volume rows of the trailing weeks; an empty muscleGroupID means every group.
	WeeklyVolume(ctx context.Context, tenantID, clientID, muscleGroupID string, weeks int) ([]domain.WeeklyVolumeSample, error)
	CompletedSessionCount(ctx context.Context, tenantID, clientID string, since time.Time) (int, error)
}

// Store persists alerts.
type Store interface {
	// CreateIfAbsent inserts alert unless an unresolved alert of the same tenant, client and type was
	// created at or after since. The check and the insert are atomic.
	CreateIfAbsent(ctx context.Context, alert domain.Alert, since time.Time) (bool, error)
	List(ctx context.Context, tenantID string, filter domain.ListFilter) ([]domain.Alert, *domain.ListCursor, error)
	DismissOne(ctx context.Context, tenantID, alertID string) (bool, error)
	DismissAllForClient(ctx context.Context, tenantID, clientID string) (int64, error)
}

// Option configures the Service.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = observability.Component(logger, "alerting")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProviderTimeout bounds every DataProvider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithDedupWindow changes the duplicate suppression window.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dedupWindow = d
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Service evaluates rules and persists the resulting alerts. It holds no per-client state.
type Service struct {
	data            DataProvider
	store           Store
	logger          logrus.FieldLogger
	now             func() time.Time
	providerTimeout time.Duration
	dedupWindow     time.Duration
	newID           func() string
}

// NewService constructs a Service.
func NewService(data DataProvider, store Store, opts ...Option) *Service {
	s := &Service{
		data:            data,
		store:           store,
		logger:          observability.Component(logrus.StandardLogger(), "alerting"),
		now:             func() time.Time { return time.Now().UTC() },
		providerTimeout: DefaultProviderTimeout,
		dedupWindow:     DefaultDedupWindow,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIfNew persists draft unless an unresolved alert of the same type was raised for the client
// inside the dedup window. It returns nil without error when the draft was suppressed.
func (s *Service) CreateIfNew(ctx context.Context, tenantID, clientID string, draft domain.AlertDraft) (*domain.Alert, error) {
	now := s.now()
	alert := domain.NewAlert(s.newID(), tenantID, clientID, draft, now)

	created, err := s.store.CreateIfAbsent(ctx, alert, now.Add(-s.dedupWindow))
	if err != nil {
		return nil, fmt.Errorf("persist %s alert: %w", draft.Type, err)
	}
	if !created {
		observability.RecordDedupHit(string(draft.Type))
		return nil, nil
	}

	observability.RecordAlertCreated(string(alert.Type), string(alert.Severity))
	return &alert, nil
}

// RunAllChecks evaluates every rule for the client concurrently and returns the alerts that were
// persisted. Data read failures are logged and the affected rule stays quiet. Persistence failures
// are joined into the returned error while the alerts of the other rules are still returned.
func (s *Service) RunAllChecks(ctx context.Context, tenantID, clientID string) ([]domain.Alert, error) {
	checks := s.checks()
	outcomes := make([]checkOutcome, len(checks))

	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			outcomes[i] = s.runCheck(ctx, tenantID, clientID, c)
		}(i, c)
	}
	wg.Wait()

	alerts := make([]domain.Alert, 0, len(outcomes))
	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		if o.alert != nil {
			alerts = append(alerts, *o.alert)
		}
	}
	return alerts, errors.Join(errs...)
}

// List returns alerts of the tenant ordered by severity and recency.
func (s *Service) List(ctx context.Context, tenantID string, filter domain.ListFilter) ([]domain.Alert, *domain.ListCursor, error) {
	return s.store.List(ctx, tenantID, filter.Normalize())
}

// DismissOne resolves a single alert. It reports false when the alert does not exist in the tenant.
func (s *Service) DismissOne(ctx context.Context, tenantID, alertID string) (bool, error) {
	return s.store.DismissOne(ctx, tenantID, alertID)
}

// DismissAllForClient resolves every unresolved alert of the client and returns how many changed.
func (s *Service) DismissAllForClient(ctx context.Context, tenantID, clientID string) (int64, error) {
	return s.store.DismissAllForClient(ctx, tenantID, clientID)
}

type check struct {
	rule     domain.AlertType
	evaluate func(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error)
}

type checkOutcome struct {
	alert *domain.Alert
	err   error
}

func (s *Service) runCheck(ctx context.Context, tenantID, clientID string, c check) (out checkOutcome) {
	log := s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"client_id": clientID,
		"rule":      string(c.rule),
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("rule evaluation panicked")
			observability.RecordRuleEvaluation(string(c.rule), observability.OutcomeError)
			out = checkOutcome{}
		}
	}()

	draft, fired, err := c.evaluate(ctx, tenantID, clientID)
	if err != nil {
		log.WithError(err).Warn("rule data unavailable")
		observability.RecordRuleEvaluation(string(c.rule), observability.OutcomeError)
		return checkOutcome{}
	}
	if !fired {
		observability.RecordRuleEvaluation(string(c.rule), observability.OutcomeQuiet)
		return checkOutcome{}
	}
	observability.RecordRuleEvaluation(string(c.rule), observability.OutcomeFired)

	alert, err := s.CreateIfNew(ctx, tenantID, clientID, draft)
	if err != nil {
		log.WithError(err).Error("persist alert")
		return checkOutcome{err: err}
	}
	if alert != nil {
		log.WithFields(logrus.Fields{"alert_id": alert.ID, "severity": string(alert.Severity)}).Info("alert created")
	}
	return checkOutcome{alert: alert}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.providerTimeout)
}

func (s *Service) checks() []check {
	return []check{
		{rule: domain.AlertLowReadiness, evaluate: s.checkLowReadiness},
		{rule: domain.AlertVolumePlateau, evaluate: s.checkVolumePlateau},
		{rule: domain.AlertRecoveryLow, evaluate: s.checkRecoveryLow},
		{rule: domain.AlertOvertrainingRisk, evaluate: s.checkOvertrainingRisk},
		{rule: domain.AlertFatigueAccumulation, evaluate: s.checkFatigueAccumulation},
		{rule: domain.AlertDeloadSuggested, evaluate: s.checkDeloadSuggested},
	}
}

func (s *Service) recentCheckins(ctx context.Context, tenantID, clientID string, limit int) ([]domain.CheckinSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.data.RecentCheckins(ctx, tenantID, clientID, limit)
}

func (s *Service) weeklyVolume(ctx context.Context, tenantID, clientID string, weeks int) ([]domain.WeeklyVolumeSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.data.WeeklyVolume(ctx, tenantID, clientID, "", weeks)
}

func (s *Service) checkLowReadiness(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	checkins, err := s.recentCheckins(ctx, tenantID, clientID, rules.LowReadinessCheckins)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.LowReadiness(checkins)
	return draft, ok, nil
}

func (s *Service) checkVolumePlateau(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	samples, err := s.weeklyVolume(ctx, tenantID, clientID, rules.VolumePlateauWeeks)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.VolumePlateau(samples)
	return draft, ok, nil
}

func (s *Service) checkRecoveryLow(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	checkins, err := s.recentCheckins(ctx, tenantID, clientID, rules.RecoveryLowCheckins)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.RecoveryLow(checkins)
	return draft, ok, nil
}

func (s *Service) checkOvertrainingRisk(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	since := s.now().Add(-rules.OvertrainingSessionDays * 24 * time.Hour)

	countCtx, cancel := s.withTimeout(ctx)
	sessions, err := s.data.CompletedSessionCount(countCtx, tenantID, clientID, since)
	cancel()
	if err != nil {
		return domain.AlertDraft{}, false, err
	}

	checkins, err := s.recentCheckins(ctx, tenantID, clientID, rules.OvertrainingCheckins)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.OvertrainingRisk(sessions, checkins)
	return draft, ok, nil
}

func (s *Service) checkFatigueAccumulation(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	checkins, err := s.recentCheckins(ctx, tenantID, clientID, rules.FatigueCheckins)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.FatigueAccumulation(checkins)
	return draft, ok, nil
}

func (s *Service) checkDeloadSuggested(ctx context.Context, tenantID, clientID string) (domain.AlertDraft, bool, error) {
	samples, err := s.weeklyVolume(ctx, tenantID, clientID, rules.DeloadWeeks)
	if err != nil {
		return domain.AlertDraft{}, false, err
	}
	draft, ok := rules.DeloadSuggested(domain.AggregateWeeks(samples))
	return draft, ok, nil
}
