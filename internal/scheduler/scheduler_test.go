package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/trainingalerts/internal/sweep"
)

type stubRunner struct {
	calls    int
	err      error
	result   sweep.Result
	deadline bool
}

func (r *stubRunner) SweepLocked(ctx context.Context) (sweep.Result, error) {
	r.calls++
	_, r.deadline = ctx.Deadline()
	return r.result, r.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New(&stubRunner{}, "every six hours", WithLogger(quietLogger()))
	require.Error(t, err)
}

func TestRunOnceReportsSkipWhenLockHeld(t *testing.T) {
	runner := &stubRunner{err: sweep.ErrLockHeld}
	s, err := New(runner, DefaultSchedule, WithLogger(quietLogger()))
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, sweep.ErrLockHeld)
	require.Equal(t, 1, runner.calls)
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	runner := &stubRunner{result: sweep.Result{ClientsChecked: 3, AlertsCreated: 2}}
	s, err := New(runner, DefaultSchedule, WithLogger(quietLogger()), WithRunTimeout(time.Minute))
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	require.True(t, runner.deadline)
}

func TestRunOncePropagatesFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("list active tenants: db down")}
	s, err := New(runner, DefaultSchedule, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.ErrorContains(t, s.RunOnce(context.Background()), "db down")
}

func TestStartSchedulesNextRun(t *testing.T) {
	s, err := New(&stubRunner{}, DefaultSchedule, WithLogger(quietLogger()))
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	next := s.NextRun()
	require.False(t, next.IsZero())
	require.Zero(t, next.Minute())
	require.Zero(t, next.Hour()%6)
}
