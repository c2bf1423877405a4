package iotap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregatorTracksMeanLatencyPerOp(t *testing.T) {
	agg := NewAggregator()
	require.Equal(t, float64(0), agg.MeanLatencyNS(OpRead))

	Record(agg.Sink, 1, OpRead, 10*time.Millisecond, 100)
	Record(agg.Sink, 2, OpRead, 30*time.Millisecond, 100)
	Record(agg.Sink, 3, OpWrite, 5*time.Millisecond, 50)

	require.Equal(t, uint64(2), agg.Count(OpRead))
	require.Equal(t, uint64(1), agg.Count(OpWrite))
	require.InDelta(t, float64(20*time.Millisecond), agg.MeanLatencyNS(OpRead), 1)
	require.InDelta(t, float64(5*time.Millisecond), agg.MeanLatencyNS(OpWrite), 1)
}

func TestReaderMockModeStartIsNoop(t *testing.T) {
	agg := NewAggregator()
	r, err := NewReader(agg.Sink)
	require.NoError(t, err)
	r.Start() // mock mode: logs and returns, does not panic or block
	require.NoError(t, r.Close())
}

func TestOpString(t *testing.T) {
	require.Equal(t, "READ", OpRead.String())
	require.Equal(t, "WRITE", OpWrite.String())
}
