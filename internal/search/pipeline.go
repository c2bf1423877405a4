package search

import (
	"context"
	"errors"
	"time"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/ring"
)

// pollInterval is how often a blocked ring operation rechecks its wakeup
// condition. The rings themselves are non-blocking (see internal/ring);
// callers coordinate blocking externally, polling on a short interval
// instead of a dedicated per-ring condition variable since contention here
// is never on the hot path (odisk reads and filter evaluation both
// dominate the loop's cost).
const pollInterval = 2 * time.Millisecond

// admitGate blocks the reader while pend_count >= pend_hw, resuming once it
// has drained to pend_lw (spec.md 4.E backpressure). Returns ErrShutdown if
// the context terminates while waiting.
func (c *Context) admitGate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendCount >= c.pendHW && c.status != Shutdown {
		c.cond.Wait()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if c.status == Shutdown {
		return ErrShutdown
	}
	return nil
}

// markInFlight records that the reader has admitted an object into the
// pipeline; it stays counted in pend_count until ReleaseObj, called by the
// client for a delivered object or by the evaluator for a dropped one.
func (c *Context) markInFlight() {
	c.mu.Lock()
	c.pendCount++
	c.mu.Unlock()
}

// ReleaseObj returns obj to the store and decrements pend_count, waking the
// reader if it had suspended for backpressure. This is the command path's
// release_obj; the evaluator also calls it for objects it drops.
func (c *Context) ReleaseObj(obj *odisk.Object) {
	c.mu.Lock()
	c.pendCount--
	if c.pendCount < 0 {
		c.pendCount = 0
	}
	drained := c.pendCount == 0
	status := c.status
	if c.pendCount <= c.pendLW {
		c.cond.Broadcast()
	}
	c.mu.Unlock()

	if drained && status == Done {
		c.transition(Empty)
	}
	c.Disk.Release(obj)
}

// readerLoop pulls objects from odisk and hands them to the unproc ring,
// respecting the backpressure gate and the generation tag needed to drop
// stale in-flight objects at the proc-ring boundary.
func (c *Context) readerLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if err := c.admitGate(ctx); err != nil {
			return
		}

		obj, err := c.Disk.NextObj(ctx)
		if errors.Is(err, odisk.ErrEndOfDisk) {
			c.onEndOfDisk()
			return
		}
		if err != nil {
			if !c.continueRunning() {
				return
			}
			continue
		}
		c.markInFlight()

		tagged := &taggedObj{obj: obj, gen: c.Generation()}
		for {
			if !c.continueRunning() {
				return
			}
			if err := c.UnprocRing.Enq(tagged); err == nil {
				break
			}
			time.Sleep(pollInterval)
		}
	}
}

// onEndOfDisk transitions Active -> Done, or straight to Empty if the
// pipeline had nothing left in flight at that instant.
func (c *Context) onEndOfDisk() {
	c.mu.Lock()
	empty := c.pendCount == 0 && c.UnprocRing.Len() == 0
	c.mu.Unlock()

	c.transition(Done)
	if empty {
		c.transition(Empty)
	}
}

// evaluatorLoop pulls objects from unproc_ring, runs the filter chain, and
// pushes survivors to proc_ring; objects tagged with a superseded
// generation are dropped without evaluation.
func (c *Context) evaluatorLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		v, err := c.UnprocRing.Deq()
		if errors.Is(err, ring.ErrEmpty) {
			switch c.Status() {
			case Shutdown:
				return
			case Done, Empty:
				if c.UnprocRing.Len() == 0 {
					return
				}
			}
			time.Sleep(pollInterval)
			continue
		}

		tagged := v.(*taggedObj)

		if tagged.gen != c.Generation() {
			c.droppedStaleObj()
			c.ReleaseObj(tagged.obj)
			continue
		}

		var progress ceval.ProgressFunc
		if c.PreviewFn != nil {
			oid := tagged.obj.OID
			progress = func(name string, pass bool, _ time.Duration) {
				c.PreviewFn(oid, name, pass)
			}
		}

		if skip, err := c.Eval.Filters1(tagged.obj.OID, nil, progress); err == nil && skip {
			c.ReleaseObj(tagged.obj)
			continue
		}

		pass, err := c.Eval.Filters2(ctx, tagged.obj.OID, tagged.obj, nil, false, c.continueRunning, progress)
		if err != nil {
			c.ReleaseObj(tagged.obj)
			if !c.continueRunning() {
				return
			}
			continue
		}

		if !pass {
			c.ReleaseObj(tagged.obj)
			continue
		}

		for {
			if err := c.ProcRing.Enq(tagged); err == nil {
				break
			}
			time.Sleep(pollInterval)
		}
	}
}

func (c *Context) droppedStaleObj() {
	c.mu.Lock()
	c.droppedStale++
	c.mu.Unlock()
}

// DroppedStale returns the count of in-flight objects discarded at the
// proc-ring boundary because set_list advanced the generation past them.
func (c *Context) DroppedStale() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedStale
}

// NextProc pops the next fully-evaluated object bound for the client, for
// the transport dispatcher outside the core. It does not block; callers
// poll or drive it from their own goroutine.
func (c *Context) NextProc() (*odisk.Object, bool) {
	v, err := c.ProcRing.Deq()
	if err != nil {
		return nil, false
	}
	return v.(*taggedObj).obj, true
}
