package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("thumbnail")
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	fail := func() (any, error) { return nil, errors.New("sandbox crashed") }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(fail)
		require.Error(t, err)
	}

	require.Equal(t, StateOpen, b.State())
	_, err := b.Execute(fail)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := DefaultConfig("thumbnail")
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxRequests = 1
	b := New(cfg)

	fail := func() (any, error) { return nil, errors.New("sandbox crashed") }
	ok := func() (any, error) { return "done", nil }

	for i := 0; i < 3; i++ {
		b.Execute(fail)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	_, err := b.Execute(ok)
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())
}

func TestManagerSharesBreakerPerFilter(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("filter-a")
	b := m.Get("filter-a")
	require.Same(t, a, b)

	c := m.Get("filter-b")
	require.NotSame(t, a, c)

	stats := m.Stats()
	require.Len(t, stats, 2)
}
