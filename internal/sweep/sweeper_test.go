package sweep

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/trainingalerts/internal/alerting"
	"example.com/trainingalerts/internal/domain"
)

type fakeDirectory struct {
	tenants    []domain.Tenant
	clients    map[string][]domain.Client
	tenantErr  error
	clientErrs map[string]error
}

func (d *fakeDirectory) ActiveTenants(context.Context) ([]domain.Tenant, error) {
	return d.tenants, d.tenantErr
}

func (d *fakeDirectory) ActiveClients(_ context.Context, tenantID string) ([]domain.Client, error) {
	if err := d.clientErrs[tenantID]; err != nil {
		return nil, err
	}
	return d.clients[tenantID], nil
}

// sweepData fires low_readiness for every client except the broken one, whose reads fail.
type sweepData struct {
	broken string
}

func (d sweepData) RecentCheckins(_ context.Context, _, clientID string, limit int) ([]domain.CheckinSample, error) {
	if clientID == d.broken {
		return nil, errors.New("replica lag")
	}
	low := 30.0
	rows := make([]domain.CheckinSample, limit)
	for i := range rows {
		rows[i] = domain.CheckinSample{ReadinessScore: &low}
	}
	return rows, nil
}

func (d sweepData) WeeklyVolume(_ context.Context, _, clientID, _ string, _ int) ([]domain.WeeklyVolumeSample, error) {
	if clientID == d.broken {
		return nil, errors.New("replica lag")
	}
	return nil, nil
}

func (d sweepData) CompletedSessionCount(_ context.Context, _, clientID string, _ time.Time) (int, error) {
	if clientID == d.broken {
		return 0, errors.New("replica lag")
	}
	return 0, nil
}

type failingChecker struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (c *failingChecker) RunAllChecks(_ context.Context, tenantID, clientID string) ([]domain.Alert, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[tenantID+"|"+clientID]++
	if clientID == c.fail {
		return []domain.Alert{{ID: "partial"}}, errors.New("insert failed")
	}
	return []domain.Alert{{ID: clientID}}, nil
}

type fakeLocker struct {
	held     bool
	released bool
}

func (l *fakeLocker) TryLock(context.Context) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func threeClients() *fakeDirectory {
	return &fakeDirectory{
		tenants: []domain.Tenant{{ID: "tenant-1"}},
		clients: map[string][]domain.Client{
			"tenant-1": {
				{ID: "client-1", TenantID: "tenant-1"},
				{ID: "client-2", TenantID: "tenant-1"},
				{ID: "client-3", TenantID: "tenant-1"},
			},
		},
	}
}

func TestSweepAllContinuesPastFailingClient(t *testing.T) {
	data := sweepData{broken: "client-2"}
	svc := alerting.NewService(data, alerting.NewMemoryStore(), alerting.WithLogger(quietLogger()))
	sweeper := NewSweeper(threeClients(), svc, WithLogger(quietLogger()), WithRate(0))

	result, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.TenantsChecked)
	require.Equal(t, 3, result.ClientsChecked)
	require.Equal(t, 2, result.AlertsCreated)
	require.Empty(t, result.Failures)
}

func TestSweepAllRecordsClientFailures(t *testing.T) {
	checker := &failingChecker{fail: "client-3"}
	sweeper := NewSweeper(threeClients(), checker, WithLogger(quietLogger()), WithRate(0), WithConcurrency(2))

	result, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.ClientsChecked)
	require.Equal(t, 3, result.AlertsCreated)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "client-3", result.Failures[0].ClientID)
	require.EqualError(t, result.Failures[0], "tenant tenant-1 client client-3: insert failed")

	for _, id := range []string{"client-1", "client-2", "client-3"} {
		require.Equal(t, 1, checker.calls["tenant-1|"+id])
	}
}

func TestSweepAllSkipsTenantWhoseClientsCannotLoad(t *testing.T) {
	dir := threeClients()
	dir.tenants = append(dir.tenants, domain.Tenant{ID: "tenant-2"})
	dir.clientErrs = map[string]error{"tenant-2": errors.New("timeout")}
	sweeper := NewSweeper(dir, &failingChecker{}, WithLogger(quietLogger()), WithRate(0))

	result, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.ClientsChecked)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "tenant-2", result.Failures[0].TenantID)
	require.Empty(t, result.Failures[0].ClientID)
}

func TestSweepAllFailsWhenTenantsUnavailable(t *testing.T) {
	dir := &fakeDirectory{tenantErr: errors.New("db down")}
	sweeper := NewSweeper(dir, &failingChecker{}, WithLogger(quietLogger()))

	_, err := sweeper.SweepAll(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestSweepAllStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := NewSweeper(threeClients(), &failingChecker{}, WithLogger(quietLogger()), WithRate(1))

	_, err := sweeper.SweepAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSweepLockedSkipsWhenLockHeld(t *testing.T) {
	checker := &failingChecker{}
	locker := &fakeLocker{held: true}
	sweeper := NewSweeper(threeClients(), checker, WithLogger(quietLogger()), WithRate(0), WithLocker(locker))

	_, err := sweeper.SweepLocked(context.Background())
	require.ErrorIs(t, err, ErrLockHeld)
	require.Empty(t, checker.calls)
}

func TestSweepLockedReleasesLock(t *testing.T) {
	locker := &fakeLocker{}
	sweeper := NewSweeper(threeClients(), &failingChecker{}, WithLogger(quietLogger()), WithRate(0), WithLocker(locker))

	result, err := sweeper.SweepLocked(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.ClientsChecked)
	require.True(t, locker.released)
}
