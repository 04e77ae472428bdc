package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AllowAndForget(t *testing.T) {
	s := NewStore(1, 2, time.Minute) // 1/s, burst 2

	assert.True(t, s.Allow("sess-a"))
	assert.True(t, s.Allow("sess-a"))
	assert.False(t, s.Allow("sess-a"), "burst exhausted")
	assert.True(t, s.Allow("sess-b"), "keys are independent")
	assert.Equal(t, 2, s.Len())

	s.Forget("sess-a")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Allow("sess-a"), "forgotten key starts with a full bucket")
}

func TestStore_ReserveSpacesTokens(t *testing.T) {
	s := NewStore(20, 2, time.Minute) // one token per 50ms

	assert.Zero(t, s.Reserve("sess"))
	assert.Zero(t, s.Reserve("sess"))
	d := s.Reserve("sess")
	assert.InDelta(t, float64(50*time.Millisecond), float64(d), float64(10*time.Millisecond))
	assert.Greater(t, s.Reserve("sess"), d, "reservations queue up")

	never := NewStore(0, 1, time.Minute)
	assert.Zero(t, never.Reserve("x"))
	assert.Equal(t, time.Duration(-1), never.Reserve("x"))
}

func TestStore_CleanupEvictsIdle(t *testing.T) {
	s := NewStore(10, 10, time.Nanosecond)
	s.Allow("idle")
	time.Sleep(time.Millisecond)
	s.cleanup()
	assert.Zero(t, s.Len())
}

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	var changes []string
	m := NewManager(Rule{
		Timeout:                 50 * time.Millisecond,
		TripConsecutiveFailures: 2,
		OnStateChange: func(name string, from, to gobreaker.State) {
			changes = append(changes, name+":"+StateName(to))
		},
	}, nil)

	boom := errors.New("dial refused")
	assert.ErrorIs(t, m.Execute("binance-trades", func() error { return boom }), boom)
	assert.ErrorIs(t, m.Execute("binance-trades", func() error { return boom }), boom)
	assert.Equal(t, gobreaker.StateOpen, m.Get("binance-trades").State())

	err := m.Execute("binance-trades", func() error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Execute("binance-trades", func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, m.Get("binance-trades").State())
	assert.Equal(t, []string{"binance-trades:open", "binance-trades:half_open", "binance-trades:closed"}, changes)
}

func TestIsSuccessful(t *testing.T) {
	assert.True(t, IsSuccessful(nil))
	assert.True(t, IsSuccessful(context.Canceled))
	assert.False(t, IsSuccessful(errors.New("eof")))
}
