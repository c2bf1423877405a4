package filterexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/circuit"
)

func TestPoolRunDispatchesToRegisteredFilter(t *testing.T) {
	backend := NewLocalBackend()
	backend.Register("grep", func(args []string, input []byte) ([]byte, error) {
		return []byte("matched"), nil
	})

	pool := NewPool(backend, 1, 2)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := pool.Run(ctx, "grep", []string{"pattern"}, []byte("object bytes"))
	require.NoError(t, err)
	require.Equal(t, []byte("matched"), out)
}

func TestPoolTripsBreakerOnRepeatedCrash(t *testing.T) {
	backend := NewLocalBackend()
	backend.Register("flaky", func(args []string, input []byte) ([]byte, error) {
		return nil, errors.New("sandbox crashed")
	})

	pool := NewPool(backend, 1, 2)
	defer pool.Stop()
	pool.breakers = circuit.NewManager(circuit.DefaultConfig(""))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := pool.Run(ctx, "flaky", nil, nil)
		require.Error(t, err)
	}

	_, err := pool.Run(ctx, "flaky", nil, nil)
	require.ErrorIs(t, err, circuit.ErrCircuitOpen)
}

func TestPoolUnaffectedFilterStillRuns(t *testing.T) {
	backend := NewLocalBackend()
	backend.Register("flaky", func(args []string, input []byte) ([]byte, error) {
		return nil, errors.New("sandbox crashed")
	})
	backend.Register("stable", func(args []string, input []byte) ([]byte, error) {
		return []byte("ok"), nil
	})

	pool := NewPool(backend, 1, 2)
	defer pool.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		pool.Run(ctx, "flaky", nil, nil)
	}

	out, err := pool.Run(ctx, "stable", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), out)
}
