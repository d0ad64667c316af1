package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akam1o/arca-dataops/pkg/opserr"
)

func sequence(states ...State) Check {
	i := 0
	return func(context.Context) (State, error) {
		s := states[len(states)-1]
		if i < len(states) {
			s = states[i]
		}
		i++
		return s, nil
	}
}

func TestUntilReady(t *testing.T) {
	p := New(time.Millisecond, time.Second)

	tests := []struct {
		name  string
		check Check
	}{
		{name: "ready immediately", check: sequence(Ready)},
		{name: "not created yet then ready", check: sequence(NotFound, NotFound, Pending, Ready)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.NoError(t, p.UntilReady(context.Background(), "ns/pvc", test.check))
		})
	}
}

func TestUntilGone(t *testing.T) {
	p := New(time.Millisecond, time.Second)
	assert.NoError(t, p.UntilGone(context.Background(), "ns/pvc", sequence(Ready, Pending, NotFound)))
}

func TestTransportErrorAbortsImmediately(t *testing.T) {
	p := New(time.Millisecond, time.Second)
	boom := opserr.New(opserr.ErrConnection, "get volume", "svm0/vol", errors.New("connection reset"))

	calls := 0
	err := p.UntilGone(context.Background(), "svm0/vol", func(context.Context) (State, error) {
		calls++
		return Pending, boom
	})

	require.Error(t, err)
	assert.True(t, opserr.IsConnection(err))
	assert.False(t, opserr.IsTimeout(err))
	assert.Equal(t, 1, calls)
}

func TestDeadlineExpiryIsTimeout(t *testing.T) {
	p := New(time.Millisecond, 20*time.Millisecond)

	err := p.UntilReady(context.Background(), "ns/snap", sequence(Pending))
	require.Error(t, err)
	assert.True(t, opserr.IsTimeout(err))
	assert.Contains(t, err.Error(), "ns/snap")
}

func TestCallerDeadlineIsTimeout(t *testing.T) {
	p := New(time.Millisecond, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.UntilGone(ctx, "ns/pvc", sequence(Ready))
	assert.True(t, opserr.IsTimeout(err))
}

func TestCancellationIsNotTimeout(t *testing.T) {
	p := New(time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.UntilReady(ctx, "ns/pvc", func(context.Context) (State, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return Pending, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, opserr.IsTimeout(err))
}

func TestObserve(t *testing.T) {
	bound := func(s string) (bool, error) { return s == "Bound", nil }

	state, err := Observe(opserr.Classify("Bound", nil), bound)
	assert.NoError(t, err)
	assert.Equal(t, Ready, state)

	state, err = Observe(opserr.Classify("Pending", nil), bound)
	assert.NoError(t, err)
	assert.Equal(t, Pending, state)

	state, err = Observe(opserr.Classify("", opserr.New(opserr.ErrNotFound, "get", "x", nil)), bound)
	assert.NoError(t, err)
	assert.Equal(t, NotFound, state)

	_, err = Observe(opserr.Classify("", opserr.New(opserr.ErrConnection, "get", "x", nil)), bound)
	assert.True(t, opserr.IsConnection(err))

	failed := func(string) (bool, error) { return false, opserr.New(opserr.ErrBackendState, "get", "x", nil) }
	_, err = Observe(opserr.Classify("Error", nil), failed)
	assert.ErrorIs(t, err, opserr.ErrBackendState)
}
