package ceval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/filterexec"
	"github.com/dvlop/opendiamond/internal/ocache"
	"github.com/dvlop/opendiamond/internal/odisk"
)

func newTestState(t *testing.T, chain *FilterChain, backend *filterexec.LocalBackend, disk odisk.Disk) *State {
	t.Helper()
	root := t.TempDir()
	cache, err := ocache.Init(root)
	require.NoError(t, err)
	cache.Start()
	t.Cleanup(func() { cache.Stop(root) })

	pool := filterexec.NewPool(backend, 1, 2)
	t.Cleanup(pool.Stop)

	return &State{Chain: chain, Disk: disk, Cache: cache, Pool: pool}
}

func buildFilter(name string, threshold int32, deps []string, fn filterexec.FilterFunc, backend *filterexec.LocalBackend) FilterSpec {
	backend.Register(name, fn)
	return FilterSpec{
		LibName:   "testlib",
		Name:      name,
		Threshold: threshold,
		Deps:      deps,
		Args:      []string{"a=" + name},
		Reads:     []string{"data"},
	}
}

// TestFilters2ShortCircuitsOnFirstFailure is scenario S4: a chain
// [F1 threshold=50, F2, F3] where F1 scores 10 must skip F2 and F3, and the
// drop callback must fire exactly once.
func TestFilters2ShortCircuitsOnFirstFailure(t *testing.T) {
	backend := filterexec.NewLocalBackend()

	var f2Ran, f3Ran bool
	f1 := buildFilter("f1", 50, nil, func(args []string, input []byte) ([]byte, error) {
		return EncodeScore(t, 10, nil), nil
	}, backend)
	f2 := buildFilter("f2", 0, []string{"f1"}, func(args []string, input []byte) ([]byte, error) {
		f2Ran = true
		return EncodeScore(t, 100, nil), nil
	}, backend)
	f3 := buildFilter("f3", 0, []string{"f2"}, func(args []string, input []byte) ([]byte, error) {
		f3Ran = true
		return EncodeScore(t, 100, nil), nil
	}, backend)

	chain, err := BuildChain([]FilterSpec{f3, f1, f2})
	require.NoError(t, err)
	require.Equal(t, []string{"f1", "f2", "f3"}, chainNames(chain))

	disk := odisk.NewMemDisk([]odisk.OID{9})
	disk.Seed(9, "data", []byte("object nine"))

	s := newTestState(t, chain, backend, disk)

	dropCount := 0
	s.StatsDropFn = func() { dropCount++ }

	obj := &odisk.Object{OID: 9}
	snapshot := attr.Snapshot{}
	pass, err := s.Filters2(context.Background(), 9, obj, snapshot, false, nil, nil)
	require.NoError(t, err)
	require.False(t, pass)
	require.False(t, f2Ran, "f2 must not run once f1 fails threshold")
	require.False(t, f3Ran, "f3 must not run once f1 fails threshold")
	require.Equal(t, 1, dropCount)
}

// TestFilters2RunsFullChainOnAllPasses confirms invariant 4 (declared order
// preserved) by recording the order filters actually executed in.
func TestFilters2RunsFullChainOnAllPasses(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	var order []string

	mk := func(name string, deps []string) FilterSpec {
		return buildFilter(name, 0, deps, func(args []string, input []byte) ([]byte, error) {
			order = append(order, name)
			return EncodeScore(t, 100, nil), nil
		}, backend)
	}

	f1 := mk("f1", nil)
	f2 := mk("f2", []string{"f1"})
	f3 := mk("f3", []string{"f2"})

	chain, err := BuildChain([]FilterSpec{f3, f2, f1})
	require.NoError(t, err)

	disk := odisk.NewMemDisk([]odisk.OID{1})
	disk.Seed(1, "data", []byte("object one"))
	s := newTestState(t, chain, backend, disk)

	processed := 0
	s.StatsProcessFn = func() { processed++ }

	obj := &odisk.Object{OID: 1}
	pass, err := s.Filters2(context.Background(), 1, obj, attr.Snapshot{}, false, nil, nil)
	require.NoError(t, err)
	require.True(t, pass)
	require.Equal(t, []string{"f1", "f2", "f3"}, order)
	require.Equal(t, 1, processed)
}

// TestFilters2CachesFilterErrOnSandboxCrash exercises the FILTER_ERR failure
// path end to end: a crashing filter's result is committed as FilterErr and
// the object is dropped, without propagating the sandbox error itself.
func TestFilters2CachesFilterErrOnSandboxCrash(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	crashes := 0
	f1 := buildFilter("crasher", 0, nil, func(args []string, input []byte) ([]byte, error) {
		crashes++
		return nil, errors.New("sandbox process killed")
	}, backend)

	chain, err := BuildChain([]FilterSpec{f1})
	require.NoError(t, err)

	disk := odisk.NewMemDisk([]odisk.OID{5})
	disk.Seed(5, "data", []byte("object five"))
	s := newTestState(t, chain, backend, disk)

	dropCount := 0
	s.StatsDropFn = func() { dropCount++ }

	obj := &odisk.Object{OID: 5}
	pass, err := s.Filters2(context.Background(), 5, obj, attr.Snapshot{}, false, nil, nil)
	require.NoError(t, err)
	require.False(t, pass)
	require.Equal(t, 1, dropCount)
	require.Equal(t, 1, crashes)

	// Re-running against the same object must not dispatch the filter again:
	// the FilterErr result is now cached.
	pass, err = s.Filters2(context.Background(), 5, obj, attr.Snapshot{}, false, nil, nil)
	require.NoError(t, err)
	require.False(t, pass)
	require.Equal(t, 1, crashes, "cached FilterErr must elide re-evaluation")
}

func TestFilters2HonorsContinueCallback(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	f1 := buildFilter("f1", 0, nil, func(args []string, input []byte) ([]byte, error) {
		return EncodeScore(t, 100, nil), nil
	}, backend)

	chain, err := BuildChain([]FilterSpec{f1})
	require.NoError(t, err)

	disk := odisk.NewMemDisk([]odisk.OID{3})
	disk.Seed(3, "data", []byte("object three"))
	s := newTestState(t, chain, backend, disk)

	obj := &odisk.Object{OID: 3}
	_, err = s.Filters2(context.Background(), 3, obj, attr.Snapshot{}, false, func() bool { return false }, nil)
	require.ErrorIs(t, err, ErrCancelled)
}

// TestFilters1SkipsKnownFailure confirms the pre-fetch pass detects a
// cached below-threshold result and reports skip=true without dispatching
// the filter again.
func TestFilters1SkipsKnownFailure(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	calls := 0
	f1 := FilterSpec{
		LibName:   "testlib",
		Name:      "f1",
		Threshold: 50,
		Args:      []string{"a=f1"},
	}
	backend.Register("f1", func(args []string, input []byte) ([]byte, error) {
		calls++
		return EncodeScore(t, 10, nil), nil
	})

	chain, err := BuildChain([]FilterSpec{f1})
	require.NoError(t, err)

	disk := odisk.NewMemDisk([]odisk.OID{7})
	disk.Seed(7, "data", []byte("object seven"))
	s := newTestState(t, chain, backend, disk)

	obj := &odisk.Object{OID: 7}
	pass, err := s.Filters2(context.Background(), 7, obj, attr.Snapshot{}, false, nil, nil)
	require.NoError(t, err)
	require.False(t, pass)
	require.Equal(t, 1, calls)

	skip, err := s.Filters1(7, nil, nil)
	require.NoError(t, err)
	require.True(t, skip, "cached failing result must let the scheduler skip the read-heavy pass")
	require.Equal(t, 1, calls, "Filters1 must not dispatch the filter")
}

// TestFilters1NeverSkipsOnMiss confirms a cold cache never causes a skip:
// the object remains a candidate until Filters2 actually reads its
// attributes and runs the filter.
func TestFilters1NeverSkipsOnMiss(t *testing.T) {
	backend := filterexec.NewLocalBackend()
	f1 := buildFilter("f1", 50, nil, func(args []string, input []byte) ([]byte, error) {
		return EncodeScore(t, 100, nil), nil
	}, backend)

	chain, err := BuildChain([]FilterSpec{f1})
	require.NoError(t, err)

	disk := odisk.NewMemDisk([]odisk.OID{8})
	s := newTestState(t, chain, backend, disk)

	skip, err := s.Filters1(8, nil, nil)
	require.NoError(t, err)
	require.False(t, skip, "a cold cache must never cause a skip")
}

func TestBuildChainRejectsCycle(t *testing.T) {
	f1 := FilterSpec{Name: "a", Deps: []string{"b"}}
	f2 := FilterSpec{Name: "b", Deps: []string{"a"}}
	_, err := BuildChain([]FilterSpec{f1, f2})
	require.Error(t, err)
}

func chainNames(c *FilterChain) []string {
	out := make([]string, len(c.Filters))
	for i, f := range c.Filters {
		out[i] = f.Name
	}
	return out
}

// EncodeScore is a small test helper building a valid DecodeOutput payload
// carrying just a score and no output attributes.
func EncodeScore(t *testing.T, score int32, _ []attr.Attr) []byte {
	t.Helper()
	var buf [4]byte
	v := uint32(score)
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
	out := append([]byte{}, buf[:]...)
	out = append(out, 0, 0, 0, 0) // zero output attrs
	return out
}
