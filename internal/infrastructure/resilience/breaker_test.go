package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(b *Breaker) error { return b.Do(func() error { return errBoom }) }
func pass(b *Breaker) error { return b.Do(func() error { return nil }) }

func TestStaysClosedOnSuccess(t *testing.T) {
	b := New(Settings{FailureThreshold: 3})
	for i := 0; i < 10; i++ {
		require.NoError(t, pass(b))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestTripsAtThreshold(t *testing.T) {
	b := New(Settings{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, fail(b), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, pass(b), ErrOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New(Settings{FailureThreshold: 3})

	fail(b)
	fail(b)
	require.NoError(t, pass(b))
	fail(b)
	fail(b)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	b := New(Settings{FailureThreshold: 1, Cooldown: time.Minute}).
		WithClock(func() time.Time { return now })

	fail(b)
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenProbeClosesBreaker(t *testing.T) {
	now := time.Now()
	b := New(Settings{FailureThreshold: 1, Cooldown: time.Minute, Probes: 1}).
		WithClock(func() time.Time { return now })

	fail(b)
	now = now.Add(2 * time.Minute)

	require.NoError(t, pass(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(Settings{FailureThreshold: 1, Cooldown: time.Minute}).
		WithClock(func() time.Time { return now })

	fail(b)
	now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestProbeBudget(t *testing.T) {
	now := time.Now()
	b := New(Settings{FailureThreshold: 1, Cooldown: time.Minute, Probes: 1}).
		WithClock(func() time.Time { return now })

	fail(b)
	now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	// Admit one probe but do not finish it yet.
	require.NoError(t, b.admit())
	assert.ErrorIs(t, pass(b), ErrProbeLimit)
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(Settings{
		FailureThreshold: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	fail(b)
	assert.Equal(t, []string{"closed>open"}, transitions)
}
