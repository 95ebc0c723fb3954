package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// SchedulerState is the refresh scheduler's lifecycle state.
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateArmed
	StateFiring
	StateCancelled // terminal
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int(s))
	}
}

// RefreshFunc performs one refresh. On success it returns the lifetime of the
// new access token; a non-positive value keeps the current interval.
type RefreshFunc func(ctx context.Context) (time.Duration, error)

// Scheduler re-runs a RefreshFunc at a fixed rate on its own goroutine.
//
// Ticks are fixed-rate: each firing is one interval after the previous
// scheduled tick, not after the previous refresh completed. A failed refresh
// is logged and the next tick tries again; there is no backoff. After a
// successful refresh the interval follows the newly reported lifetime.
type Scheduler struct {
	refresh RefreshFunc
	clock   clockwork.Clock
	logger  hclog.Logger

	mu     sync.Mutex
	state  SchedulerState
	loopID uint64
	stop   context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l hclog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler returns an idle scheduler that calls fn on every tick.
func NewScheduler(fn RefreshFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		refresh: fn,
		clock:   clockwork.NewRealClock(),
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm schedules the first firing interval from now and every interval after
// it. Arming an armed scheduler restarts the cycle with the new interval.
func (s *Scheduler) Arm(interval time.Duration) error {
	const op = "oidc.(Scheduler).Arm"
	if interval <= 0 {
		return fmt.Errorf("%s: %w: interval must be positive, got: %s", op, ErrInvalidArgument, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCancelled {
		return fmt.Errorf("%s: %w", op, ErrSchedulerCancelled)
	}
	if s.stop != nil {
		s.stop()
	}

	ctx, stop := context.WithCancel(context.Background())
	s.loopID++
	s.stop = stop
	s.done = make(chan struct{})
	s.state = StateArmed

	ticker := s.clock.NewTicker(interval)
	go s.run(ctx, s.loopID, interval, ticker, s.done)

	s.logger.Debug("refresh armed", "interval", interval)
	return nil
}

// Disarm stops the current cycle and returns the scheduler to idle. It is a
// no-op on a cancelled scheduler. A refresh in flight sees its context
// cancelled and its result is not rescheduled.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCancelled {
		return
	}
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.loopID++
	s.state = StateIdle
	s.logger.Debug("refresh disarmed")
}

// Cancel stops the scheduler for good. It waits for an in-flight refresh to
// observe the cancellation, so it must not be called from the RefreshFunc.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.state == StateCancelled {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelled
	if s.stop != nil {
		s.stop()
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.logger.Debug("refresh cancelled")
}

func (s *Scheduler) run(
	ctx context.Context,
	id uint64,
	interval time.Duration,
	ticker clockwork.Ticker,
	done chan struct{},
) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if !s.transition(id, StateArmed, StateFiring) {
			return
		}

		next, err := s.refresh(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			s.logger.Warn("scheduled refresh failed, retrying on next tick",
				"error", err,
				"interval", interval,
			)
		case next > 0 && next != interval:
			interval = next
			ticker.Reset(interval)
			s.logger.Debug("refresh interval changed", "interval", interval)
		}

		if !s.transition(id, StateFiring, StateArmed) {
			return
		}
	}
}

// transition moves loop id from one state to another. It fails when the loop
// has been superseded by a newer Arm or the scheduler was cancelled.
func (s *Scheduler) transition(id uint64, from, to SchedulerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopID != id || s.state != from {
		return false
	}
	s.state = to
	return true
}
