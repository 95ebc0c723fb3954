package oidc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func expectCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(waitFor):
		t.Fatal("expected a refresh call")
	}
}

func expectNoCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
		t.Fatal("unexpected refresh call")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitState(t *testing.T, s *Scheduler, want SchedulerState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, time.Millisecond,
		"scheduler state never became %s", want)
}

func TestScheduler_FixedRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		return time.Hour, nil
	}, WithClock(clock))
	defer s.Cancel()

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Arm(time.Hour))
	assert.Equal(t, StateArmed, s.State())

	clock.Advance(time.Hour - time.Second)
	expectNoCall(t, calls)

	clock.Advance(time.Second)
	expectCall(t, calls)
	waitState(t, s, StateArmed)

	clock.Advance(time.Hour)
	expectCall(t, calls)
	waitState(t, s, StateArmed)
}

func TestScheduler_FailureKeepsTimerArmed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)
	var n atomic.Int32

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		if n.Add(1) == 1 {
			return 0, errors.New("provider down")
		}
		return time.Minute, nil
	}, WithClock(clock))
	defer s.Cancel()

	require.NoError(t, s.Arm(time.Minute))

	clock.Advance(time.Minute)
	expectCall(t, calls)
	waitState(t, s, StateArmed)

	clock.Advance(time.Minute)
	expectCall(t, calls)
	waitState(t, s, StateArmed)
	assert.Equal(t, int32(2), n.Load())
}

func TestScheduler_FollowsNewLifetime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		return 30 * time.Minute, nil
	}, WithClock(clock))
	defer s.Cancel()

	require.NoError(t, s.Arm(time.Hour))
	clock.Advance(time.Hour)
	expectCall(t, calls)
	waitState(t, s, StateArmed)

	clock.Advance(30 * time.Minute)
	expectCall(t, calls)
}

func TestScheduler_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		return 0, nil
	}, WithClock(clock))

	require.NoError(t, s.Arm(time.Minute))
	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())

	clock.Advance(10 * time.Minute)
	expectNoCall(t, calls)

	assert.ErrorIs(t, s.Arm(time.Minute), ErrSchedulerCancelled)
	s.Cancel() // idempotent
	assert.Equal(t, StateCancelled, s.State())
}

func TestScheduler_CancelFromIdle(t *testing.T) {
	s := NewScheduler(func(ctx context.Context) (time.Duration, error) { return 0, nil })
	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())
}

func TestScheduler_CancelWhileFiring(t *testing.T) {
	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	var sawCancel atomic.Bool

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		close(entered)
		<-ctx.Done()
		sawCancel.Store(true)
		return 0, ctx.Err()
	}, WithClock(clock))

	require.NoError(t, s.Arm(time.Minute))
	clock.Advance(time.Minute)

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("refresh never started")
	}
	assert.Equal(t, StateFiring, s.State())

	s.Cancel()
	assert.True(t, sawCancel.Load(), "Cancel must wait for the in-flight refresh")
	assert.Equal(t, StateCancelled, s.State())
}

func TestScheduler_RearmRestartsCycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		return 0, nil
	}, WithClock(clock))
	defer s.Cancel()

	require.NoError(t, s.Arm(time.Hour))
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Arm(time.Hour))

	clock.Advance(30 * time.Minute)
	expectNoCall(t, calls)

	clock.Advance(30 * time.Minute)
	expectCall(t, calls)
}

func TestScheduler_ArmRejectsNonPositive(t *testing.T) {
	s := NewScheduler(func(ctx context.Context) (time.Duration, error) { return 0, nil })
	assert.ErrorIs(t, s.Arm(0), ErrInvalidArgument)
	assert.ErrorIs(t, s.Arm(-time.Second), ErrInvalidArgument)
	assert.Equal(t, StateIdle, s.State())
}

func TestScheduler_Disarm(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)

	s := NewScheduler(func(ctx context.Context) (time.Duration, error) {
		calls <- struct{}{}
		return 0, nil
	}, WithClock(clock))
	defer s.Cancel()

	require.NoError(t, s.Arm(time.Minute))
	s.Disarm()
	assert.Equal(t, StateIdle, s.State())

	clock.Advance(time.Hour)
	expectNoCall(t, calls)

	require.NoError(t, s.Arm(time.Minute))
	clock.Advance(time.Minute)
	expectCall(t, calls)

	s.Cancel()
	s.Disarm()
	assert.Equal(t, StateCancelled, s.State())
}
