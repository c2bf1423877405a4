package stats

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/filterexec"
	"github.com/dvlop/opendiamond/internal/ocache"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
)

// encodeScore builds a minimal DecodeOutput payload: a big-endian score
// followed by a zero output-attribute count.
func encodeScore(score int32) []byte {
	v := uint32(score)
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v), 0, 0, 0, 0}
}

// TestTickRecordsPerFilterCounters confirms Poller.tick walks the
// evaluator's filter chain and records per-filter eval/hit deltas onto
// Metrics.FilterEval/FilterHit, the same Fcache.Counts() source
// internal/dctl's filter leaves read.
func TestTickRecordsPerFilterCounters(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	backend.Register("f1", func(args []string, input []byte) ([]byte, error) {
		return encodeScore(100), nil
	})

	chain, err := ceval.BuildChain([]ceval.FilterSpec{{
		LibName:   "testlib",
		Name:      "f1",
		Threshold: 0,
		Args:      []string{"a=f1"},
		Reads:     []string{"data"},
	}})
	require.NoError(t, err)

	root := t.TempDir()
	cache, err := ocache.Init(root)
	require.NoError(t, err)
	cache.Start()
	defer cache.Stop(root)

	pool := filterexec.NewPool(backend, 1, 2)
	defer pool.Stop()

	disk := odisk.NewMemDisk([]odisk.OID{1})
	disk.Seed(1, "data", []byte("object one"))

	eval := &ceval.State{Chain: chain, Disk: disk, Cache: cache, Pool: pool}
	obj := &odisk.Object{OID: 1}
	pass, err := eval.Filters2(context.Background(), 1, obj, nil, false, nil, nil)
	require.NoError(t, err)
	require.True(t, pass)

	sctx := search.New("poller-test", disk, eval)
	metrics := NewMetrics()
	poller := NewPoller(sctx, metrics, nil, 0)

	poller.tick(context.Background())

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FilterEval.WithLabelValues("poller-test", "f1")))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.FilterHit.WithLabelValues("poller-test", "f1")))

	// A second lookup against the same object is now a cache hit.
	_, err = eval.Filters2(context.Background(), 1, obj, nil, false, nil, nil)
	require.NoError(t, err)

	poller.tick(context.Background())
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.FilterEval.WithLabelValues("poller-test", "f1")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FilterHit.WithLabelValues("poller-test", "f1")))
}
