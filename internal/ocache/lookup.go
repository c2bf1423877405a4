package ocache

import (
	"context"
	"time"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// Lookup probes fc for oid against the object's current attribute snapshot
// without regard for any concurrent evaluation in flight. Most callers want
// WaitLookup instead; ceval.Filters1 uses Lookup for its cache-only
// pre-check. Like WaitLookup, it counts the probe as a hit or a miss and
// refreshes the cache's atime on a hit.
func (c *OCache) Lookup(fc *Fcache, oid odisk.OID, snapshot attr.Snapshot) LookupResult {
	return c.lookup(fc, oid, snapshot)
}

func (c *OCache) lookup(fc *Fcache, oid odisk.OID, snapshot attr.Snapshot) LookupResult {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	recs := fc.table[key{OID: oid}]
	if len(recs) == 0 {
		fc.misses++
		return LookupResult{Status: Miss}
	}

	for _, rec := range recs {
		if rec.Iattr.SubsetOf(snapshot) {
			fc.hits++
			fc.atime = time.Now()
			rec.HitCount++
			return LookupResult{
				Status:   Hit,
				Result:   rec.Result,
				Oattr:    oattrView(rec.Oattr),
				IattrSig: rec.IattrSig,
			}
		}
	}

	// Entries exist for this object but none of their recorded iattr sets
	// are still a subset of its current attributes: the object changed
	// since it was last evaluated under this filter.
	fc.misses++
	return LookupResult{
		Status:       PartialHit,
		ChangedAttrs: recs[0].Iattr.Changed(snapshot),
	}
}

func oattrView(a *attr.AttrSet) OattrSetView {
	if a == nil {
		return nil
	}
	view := make(OattrSetView, a.Len())
	for _, e := range a.Entries() {
		view[e.Name] = e.Sig
	}
	return view
}

// WaitLookup implements the cache's at-most-one-concurrent-evaluation rule
// (spec.md invariant 3 / scenario S3): if another goroutine is already
// evaluating this (fsig, oid), WaitLookup blocks until it commits (via
// AddEnd) and then re-checks the table, rather than letting two threads
// evaluate the same filter against the same object concurrently.
//
// On a genuine miss or partial hit, WaitLookup reserves the (fsig, oid) key
// for the calling goroutine before returning, so a subsequent AddStart finds
// the reservation already in place.
func (c *OCache) WaitLookup(ctx context.Context, fc *Fcache, oid odisk.OID, snapshot attr.Snapshot) (LookupResult, error) {
	for {
		fc.pendingMu.Lock()
		if pe, ok := fc.pending[oid]; ok {
			fc.pendingMu.Unlock()
			select {
			case <-pe.done:
				continue // re-check the table; the other evaluation just committed
			case <-ctx.Done():
				return LookupResult{}, ctx.Err()
			}
		}

		// No one else is working on this key: reserve it speculatively,
		// then look up the table without holding pendingMu (lookup takes
		// fc.mu, and AddEnd takes fc.mu before pendingMu — holding both
		// here in the opposite order would deadlock against it).
		fc.pending[oid] = &pendingEntry{done: make(chan struct{})}
		fc.pendingMu.Unlock()

		res := c.lookup(fc, oid, snapshot)
		if res.Status == Hit {
			// Reservation was unnecessary: release it immediately so any
			// goroutine that arrived in the meantime doesn't wait on work
			// that was never going to happen.
			fc.pendingMu.Lock()
			if pe, ok := fc.pending[oid]; ok {
				delete(fc.pending, oid)
				close(pe.done)
			}
			fc.pendingMu.Unlock()
			return res, nil
		}

		// Miss or PartialHit: the reservation stands, caller evaluates the
		// filter and must call AddStart/AddEnd to release it.
		return res, nil
	}
}
