package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
)

func newTestContext(t *testing.T) *search.Context {
	t.Helper()
	disk := odisk.NewMemDisk([]odisk.OID{1, 2})
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}
	return search.New("stats-test", disk, eval)
}

func TestCollectReadsLiveCounters(t *testing.T) {
	ctx := newTestContext(t)
	snap := Collect(ctx)
	require.Equal(t, "stats-test", snap.SearchID)
	require.Equal(t, "IDLE", snap.Status)
}

func TestLogSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.log")
	sink, err := NewLogSink(path)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), Snapshot{SearchID: "s1", Status: "ACTIVE", PendCount: 3}))
	require.NoError(t, sink.Write(context.Background(), Snapshot{SearchID: "s1", Status: "DONE", PendCount: 0}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []Snapshot
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		var snap Snapshot
		require.NoError(t, json.Unmarshal(line, &snap))
		lines = append(lines, snap)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "ACTIVE", lines[0].Status)
	require.Equal(t, "DONE", lines[1].Status)
}

func TestDeltaTrackerNeverDoubleCounts(t *testing.T) {
	d := newDeltaTracker()
	require.Equal(t, uint64(5), d.droppedDelta("s1", 5))
	require.Equal(t, uint64(3), d.droppedDelta("s1", 8))
	require.Equal(t, uint64(0), d.droppedDelta("s1", 8))
}
