package ocache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

func testFsig(t *testing.T) sig.Sig128 {
	t.Helper()
	return sig.OfFilter("libtest", "tfilter", []string{"threshold=5"}, nil)
}

// evaluate runs the full wait_lookup/add_start/add_iattr/add_oattr/add_end
// protocol once for (fc, oid) and returns the committed result, simulating
// what ceval does on a cache miss.
func evaluate(t *testing.T, c *OCache, fc *Fcache, oid odisk.OID, snap attr.Snapshot, result int32) LookupResult {
	t.Helper()
	res, err := c.WaitLookup(context.Background(), fc, oid, snap)
	require.NoError(t, err)
	require.Equal(t, Miss, res.Status)

	h, err := c.AddStart(fc, oid)
	require.NoError(t, err)
	for name, s := range snap {
		h.AddIattr(attr.Attr{Name: name, Sig: s})
	}
	h.AddOattr(attr.Attr{Name: "score", Sig: sig.Of([]byte("ok")), Value: []byte("ok")})
	require.NoError(t, c.AddEnd(h, result))
	return res
}

// S1: a cache hit elides re-evaluation — the second WaitLookup for the same
// object under the same attributes returns Hit without the caller doing any
// further work.
func TestScenario_CacheHitElidesEvaluation(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir)
	require.NoError(t, err)
	c.Start()
	fc, err := c.GetOrLoad(testFsig(t))
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("red"))}
	evaluate(t, c, fc, odisk.OID(1), snap, 7)

	c.WaitFinish()

	res, err := c.WaitLookup(context.Background(), fc, odisk.OID(1), snap)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Status)
	require.Equal(t, int32(7), res.Result)
}

// S2: changing an object's attribute invalidates the cached record for it —
// the next lookup under the new snapshot is a PartialHit, not a Hit.
func TestScenario_AttributeChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir)
	require.NoError(t, err)
	c.Start()
	fc, err := c.GetOrLoad(testFsig(t))
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("red"))}
	evaluate(t, c, fc, odisk.OID(2), snap, 3)
	c.WaitFinish()

	changed := attr.Snapshot{"color": sig.Of([]byte("blue"))}
	res, err := c.WaitLookup(context.Background(), fc, odisk.OID(2), changed)
	require.NoError(t, err)
	require.Equal(t, PartialHit, res.Status)
	require.Contains(t, res.ChangedAttrs, "color")
}

// S3: N concurrent WaitLookup calls for the same (fsig, oid) result in
// exactly one evaluation; the rest observe the winner's committed record.
func TestScenario_ConcurrentIdenticalLookups(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir)
	require.NoError(t, err)
	c.Start()
	fc, err := c.GetOrLoad(testFsig(t))
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("red"))}

	const n = 8
	var evaluated int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make([]LookupResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.WaitLookup(context.Background(), fc, odisk.OID(9), snap)
			require.NoError(t, err)
			if res.Status == Miss {
				mu.Lock()
				evaluated++
				mu.Unlock()

				h, err := c.AddStart(fc, odisk.OID(9))
				require.NoError(t, err)
				h.AddIattr(attr.Attr{Name: "color", Sig: snap["color"]})
				require.NoError(t, c.AddEnd(h, 42))

				res, err = c.WaitLookup(context.Background(), fc, odisk.OID(9), snap)
				require.NoError(t, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), evaluated, "exactly one goroutine should have evaluated the filter")
	for _, res := range results {
		require.Equal(t, Hit, res.Status)
		require.Equal(t, int32(42), res.Result)
	}
}

// S6: a crash that truncates the log mid-record is recovered from by
// discarding only the corrupt tail, keeping every fully-written record.
func TestScenario_CrashRecoveryTruncatesPartialRecord(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir)
	require.NoError(t, err)
	c.Start()
	fsig := testFsig(t)
	fc, err := c.GetOrLoad(fsig)
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("red"))}
	evaluate(t, c, fc, odisk.OID(1), snap, 1)
	evaluate(t, c, fc, odisk.OID(2), snap, 2)
	c.WaitFinish()
	require.NoError(t, fc.log.Close())

	// Simulate a crash mid-append: corrupt the final bytes of the log.
	logPath := fc.log.path
	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	truncated := append(b, 0x7f, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff) // bogus partial header
	require.NoError(t, os.WriteFile(logPath, truncated, 0o644))

	table, _, err := reload(filepath.Join(dir, fsig.String()))
	require.NoError(t, err)
	require.Len(t, table[key{OID: odisk.OID(1)}], 1)
	require.Len(t, table[key{OID: odisk.OID(2)}], 1)
}

// TestRoundTrip verifies that records written via AddEnd survive a full
// close-and-reload cycle with their result and attribute signatures intact.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir)
	require.NoError(t, err)
	c.Start()
	fsig := testFsig(t)
	fc, err := c.GetOrLoad(fsig)
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("green"))}
	evaluate(t, c, fc, odisk.OID(55), snap, 9)
	c.WaitFinish()
	require.NoError(t, fc.log.Close())

	c2, err := Init(dir)
	require.NoError(t, err)
	c2.Start()
	fc2, err := c2.GetOrLoad(fsig)
	require.NoError(t, err)

	res, err := c2.WaitLookup(context.Background(), fc2, odisk.OID(55), snap)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Status)
	require.Equal(t, int32(9), res.Result)
}

func TestIdleEvictionPreservesOnDiskData(t *testing.T) {
	dir := t.TempDir()
	c, err := Init(dir, WithIdleTimeout(time.Millisecond))
	require.NoError(t, err)
	c.Start()
	fsig := testFsig(t)
	fc, err := c.GetOrLoad(fsig)
	require.NoError(t, err)

	snap := attr.Snapshot{"color": sig.Of([]byte("red"))}
	evaluate(t, c, fc, odisk.OID(1), snap, 1)
	c.WaitFinish()

	time.Sleep(2 * time.Millisecond)
	c.sweepIdle()

	c.mu.Lock()
	_, loaded := c.caches[fsig]
	c.mu.Unlock()
	require.False(t, loaded, "idle cache should have been evicted from memory")

	fc2, err := c.GetOrLoad(fsig)
	require.NoError(t, err)
	res, err := c.WaitLookup(context.Background(), fc2, odisk.OID(1), snap)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Status, "on-disk record must survive in-memory eviction")
}
