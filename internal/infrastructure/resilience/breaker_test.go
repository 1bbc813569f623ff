package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func run(b *Breaker, outcomes ...bool) {
	for _, ok := range outcomes {
		_ = b.Execute(func() error {
			if ok {
				return nil
			}
			return errUpstream
		})
	}
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		outcomes []bool
		want     State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{},
			outcomes: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name:     "opens after consecutive failures",
			settings: Settings{ReadyToTrip: tripAfter(3)},
			outcomes: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name:     "success resets the failure streak",
			settings: Settings{ReadyToTrip: tripAfter(2)},
			outcomes: []bool{false, true, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", tt.settings)
			run(b, tt.outcomes...)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b := New("test", Settings{})

	require.NoError(t, b.Execute(func() error { return nil }))
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, b.Execute(func() error { return errUpstream }), errUpstream)
	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejects(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(2), Cooldown: time.Minute})
	run(b, false, false)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpen(t *testing.T) {
	var transitions []string
	b := New("test", Settings{
		MaxRequests: 2,
		Cooldown:    20 * time.Millisecond,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	run(b, false, false)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	t.Run("limits probes", func(t *testing.T) {
		done1, err := b.Allow()
		require.NoError(t, err)
		done2, err := b.Allow()
		require.NoError(t, err)
		_, err = b.Allow()
		assert.ErrorIs(t, err, ErrTooManyRequests)

		done1(nil)
		done2(nil)
	})

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("test", Settings{Cooldown: 10 * time.Millisecond, ReadyToTrip: tripAfter(1)})
	run(b, false)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	run(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIsFailure(t *testing.T) {
	errClient := errors.New("404")
	b := New("test", Settings{
		ReadyToTrip: tripAfter(1),
		IsFailure:   func(err error) bool { return !errors.Is(err, errClient) },
	})

	_ = b.Execute(func() error { return errClient })
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return errUpstream })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStaleOutcomeIgnored(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(1), Cooldown: time.Minute})

	done, err := b.Allow()
	require.NoError(t, err)
	run(b, false)
	require.Equal(t, StateOpen, b.State())

	// outcome of a request admitted before the trip
	done(nil)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, uint32(0), b.Counts().TotalSuccesses)
}

func TestSet(t *testing.T) {
	s := NewSet("fetch", Settings{ReadyToTrip: tripAfter(1), Cooldown: time.Minute})

	a := s.Get("a.example")
	assert.Same(t, a, s.Get("a.example"))
	assert.Equal(t, "fetch:a.example", a.Name())

	run(a, false)
	states := s.States()
	assert.Equal(t, StateOpen, states["a.example"])
	assert.Equal(t, StateClosed, s.Get("b.example").State())
}
