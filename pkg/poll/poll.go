// Package poll implements the bounded wait-for-condition primitive every
// orchestrator step uses to observe eventually consistent backend state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

const (
	// DefaultInterval is the fixed polling interval used by all call sites.
	DefaultInterval = 5 * time.Second

	// DefaultTimeout bounds a single wait when the caller supplies none.
	DefaultTimeout = 10 * time.Minute
)

// State is what a single check observed.
type State int

const (
	// Pending means the object exists but has not reached the awaited state.
	Pending State = iota
	// Ready means the object reached the awaited state.
	Ready
	// NotFound means the backend positively reported the object as absent.
	NotFound
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Ready:
		return "Ready"
	case NotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Check observes the backend once. A non-nil error aborts the wait
// immediately and is returned unchanged; it must never be used to signal
// absence.
type Check func(ctx context.Context) (State, error)

// Observe turns a lookup result into a State, using ready to judge an object
// that was found. Transport failures are returned as errors.
func Observe[T any](lookup opserr.Lookup[T], ready func(T) (bool, error)) (State, error) {
	switch lookup.Outcome {
	case opserr.Absent:
		return NotFound, nil
	case opserr.Failed:
		return Pending, lookup.Err
	}
	ok, err := ready(lookup.Value)
	if err != nil {
		return Pending, err
	}
	if ok {
		return Ready, nil
	}
	return Pending, nil
}

// Poller waits for conditions with a fixed interval and a deadline.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// New returns a Poller, applying defaults for zero values.
func New(interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{Interval: interval, Timeout: timeout}
}

// UntilReady blocks until check reports Ready. NotFound is treated as "not
// created yet" and keeps the wait going.
func (p *Poller) UntilReady(ctx context.Context, what string, check Check) error {
	return p.wait(ctx, what, "ready", check, func(s State) bool { return s == Ready })
}

// UntilGone blocks until check reports NotFound.
func (p *Poller) UntilGone(ctx context.Context, what string, check Check) error {
	return p.wait(ctx, what, "deleted", check, func(s State) bool { return s == NotFound })
}

func (p *Poller) wait(ctx context.Context, what, condition string, check Check, done func(State) bool) error {
	interval, timeout := p.Interval, p.Timeout
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var checkErr error
	attempt := 0
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		attempt++
		state, err := check(ctx)
		if err != nil {
			checkErr = err
			return false, err
		}
		klog.V(4).Infof("Waiting for %s to be %s (attempt %d): %s", what, condition, attempt, state)
		return done(state), nil
	})
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("waiting for %s to be %s: %w", what, condition, ctx.Err())
	}
	if checkErr != nil && !errors.Is(checkErr, context.DeadlineExceeded) {
		return checkErr
	}
	if wait.Interrupted(err) || errors.Is(err, context.DeadlineExceeded) {
		return opserr.Newf(opserr.ErrTimeout, "wait", what, "not %s after %v (%d checks)", condition, timeout, attempt)
	}
	return err
}
