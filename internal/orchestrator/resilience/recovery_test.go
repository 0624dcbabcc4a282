package resilience

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyErrors(t *testing.T) {
	assert.Equal(t, ErrConnection, Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, ErrTimeout, Classify(errors.New("context deadline exceeded")))
	assert.Equal(t, ErrNetwork, Classify(errors.New("network is unreachable")))
	assert.Equal(t, ErrResourceBusy, Classify(errors.New("resource temporarily unavailable")))
	assert.Equal(t, ErrTemporary, Classify(errors.New("temporary failure")))
	assert.Equal(t, ErrOther, Classify(errors.New("invalid workflow id")))
	assert.True(t, ErrConnection.Retriable())
	assert.False(t, ErrOther.Retriable())
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	cfg := DefaultBackoffConfig()
	rng := rand.New(rand.NewSource(1))

	d0 := cfg.Delay(0, rng)
	d5 := cfg.Delay(5, rng)
	assert.GreaterOrEqual(t, d0, cfg.Initial)
	assert.Greater(t, d5, d0)
	assert.LessOrEqual(t, d5, time.Duration(float64(cfg.Max)*(1+cfg.JitterFraction)))
}

func TestHandleConnectionErrorRetriesThenSucceeds(t *testing.T) {
	r := New(Config{Backoff: BackoffConfig{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond, JitterFraction: 0, MaxAttempts: 3}})

	attempts := 0
	err := r.HandleConnectionError(context.Background(), "robot-1", errors.New("connection refused"), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestHandleConnectionErrorEscalatesAfterExhaustion(t *testing.T) {
	var escalatedTarget string
	r := New(Config{
		Backoff: BackoffConfig{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond, JitterFraction: 0, MaxAttempts: 2},
		OnEscalation: func(target string, lastErr error) {
			escalatedTarget = target
		},
	})

	err := r.HandleConnectionError(context.Background(), "robot-2", errors.New("connection refused"), func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, "robot-2", escalatedTarget)
}

func TestHandleConnectionErrorNonRetriableFailsImmediately(t *testing.T) {
	r := New(Config{})
	calls := 0
	err := r.HandleConnectionError(context.Background(), "robot-3", errors.New("invalid credentials"), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

type fakeRequeuer struct {
	retried, failed bool
}

func (f *fakeRequeuer) RetryJob(ctx context.Context, jobID string) error {
	f.retried = true
	return nil
}

func (f *fakeRequeuer) FailJob(ctx context.Context, jobID, reason string) error {
	f.failed = true
	return nil
}

func TestHandleJobErrorRetriesWithinBudget(t *testing.T) {
	r := New(Config{})
	requeuer := &fakeRequeuer{}
	err := r.HandleJobError(context.Background(), "job-1", errors.New("timeout"), 0, 3, requeuer)
	require.NoError(t, err)
	assert.True(t, requeuer.retried)
	assert.False(t, requeuer.failed)
}

func TestHandleJobErrorFailsOverWhenExhausted(t *testing.T) {
	r := New(Config{})
	requeuer := &fakeRequeuer{}
	err := r.HandleJobError(context.Background(), "job-2", errors.New("timeout"), 3, 3, requeuer)
	require.NoError(t, err)
	assert.False(t, requeuer.retried)
	assert.True(t, requeuer.failed)
}

func TestHandleJobErrorFailsOverForNonRetriableClass(t *testing.T) {
	r := New(Config{})
	requeuer := &fakeRequeuer{}
	err := r.HandleJobError(context.Background(), "job-3", errors.New("invalid params"), 0, 3, requeuer)
	require.NoError(t, err)
	assert.True(t, requeuer.failed)
}

type fakeCrashHandler struct {
	restarted, reassigned bool
}

func (f *fakeCrashHandler) RestartRobot(ctx context.Context, robotID string) error {
	f.restarted = true
	return nil
}

func (f *fakeCrashHandler) ReassignActiveJobs(ctx context.Context, robotID string) error {
	f.reassigned = true
	return nil
}

func TestHandleRobotCrashRestartsAndReassigns(t *testing.T) {
	r := New(Config{})
	handler := &fakeCrashHandler{}
	err := r.HandleRobotCrash(context.Background(), "robot-4", true, handler)
	require.NoError(t, err)
	assert.True(t, handler.restarted)
	assert.True(t, handler.reassigned)
}

func TestHandleRobotCrashReassignsWithoutRestart(t *testing.T) {
	r := New(Config{})
	handler := &fakeCrashHandler{}
	err := r.HandleRobotCrash(context.Background(), "robot-5", false, handler)
	require.NoError(t, err)
	assert.False(t, handler.restarted)
	assert.True(t, handler.reassigned)
}

func TestRecentActionsBoundedAndOrdered(t *testing.T) {
	r := New(Config{MaxHistory: 2})
	requeuer := &fakeRequeuer{}
	require.NoError(t, r.HandleJobError(context.Background(), "job-a", errors.New("timeout"), 0, 3, requeuer))
	require.NoError(t, r.HandleJobError(context.Background(), "job-b", errors.New("timeout"), 0, 3, requeuer))
	require.NoError(t, r.HandleJobError(context.Background(), "job-c", errors.New("timeout"), 0, 3, requeuer))

	recent := r.RecentActions(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "job-b", recent[0].Target)
	assert.Equal(t, "job-c", recent[1].Target)
}
