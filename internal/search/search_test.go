package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/odisk"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

// TestBackpressureSuspendsAndResumesReader is scenario S5: with
// pend_hw=3, pend_lw=2, pushing 5 objects without releasing any blocks the
// reader after the 3rd; releasing 2 lets it resume; all 5 eventually pass
// through.
func TestBackpressureSuspendsAndResumesReader(t *testing.T) {
	oids := []odisk.OID{1, 2, 3, 4, 5}
	disk := odisk.NewMemDisk(oids)

	chain, err := ceval.BuildChain(nil) // empty chain: every object passes trivially
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	ctx := New("s5", disk, eval, WithPendWater(3, 2), WithRingSize(8), WithEvaluators(1))
	require.NoError(t, ctx.Start(context.Background()))
	defer ctx.Term()

	waitFor(t, time.Second, func() bool { return ctx.PendCount() == 3 })
	// Give the reader a moment to actually block rather than just not yet
	// having caught up; pend_count holding steady at the high-water mark
	// across a short window is the signal the gate engaged.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3, ctx.PendCount())

	released := 0
	for released < 2 {
		if _, ok := ctx.NextProc(); ok {
			ctx.ReleaseObj(&odisk.Object{OID: oids[released]})
			released++
		}
	}

	passed := 0
	waitFor(t, time.Second, func() bool {
		for {
			obj, ok := ctx.NextProc()
			if !ok {
				break
			}
			ctx.ReleaseObj(obj)
			passed++
		}
		return passed+released == len(oids)
	})
	require.Equal(t, len(oids), passed+released)
}

func TestLifecycleReachesEmptyOnExhaustion(t *testing.T) {
	disk := odisk.NewMemDisk([]odisk.OID{1, 2})
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	ctx := New("lifecycle", disk, eval, WithPendWater(100, 90), WithRingSize(8))
	require.NoError(t, ctx.Start(context.Background()))
	defer ctx.Term()

	drained := 0
	waitFor(t, time.Second, func() bool {
		for {
			obj, ok := ctx.NextProc()
			if !ok {
				break
			}
			ctx.ReleaseObj(obj)
			drained++
		}
		return ctx.Status() == Empty
	})
	require.Equal(t, 2, drained)
	require.Equal(t, Empty, ctx.Status())
}

func TestSetSearchletRejectedOnceActive(t *testing.T) {
	disk := odisk.NewMemDisk(nil)
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	ctx := New("active-reject", disk, eval)
	require.NoError(t, ctx.Start(context.Background()))
	defer ctx.Term()

	err = ctx.SetSearchlet(nil)
	require.Error(t, err)
}

func TestTermIsTerminal(t *testing.T) {
	disk := odisk.NewMemDisk(nil)
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	ctx := New("term", disk, eval)
	require.NoError(t, ctx.Start(context.Background()))
	require.NoError(t, ctx.Term())
	require.Equal(t, Shutdown, ctx.Status())

	err = ctx.Term()
	require.NoError(t, err) // already Shutdown: transitionLocked no-ops on from==to
}

func TestDeviceHandleVersionIsPerDeviceMonotonic(t *testing.T) {
	disk := odisk.NewMemDisk(nil)
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	ctx := New("dev", disk, eval)
	d1 := ctx.Device("device-a")
	d2 := ctx.Device("device-b")
	require.Equal(t, d1, ctx.Device("device-a"))

	d1.bump()
	d1.bump()
	require.Equal(t, uint64(2), d1.Version())
	require.Equal(t, uint64(0), d2.Version())
}
