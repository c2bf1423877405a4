package ocache

import (
	"fmt"
	"time"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/odisk"
)

// Handle is the streaming insert protocol for one (fsig, oid) evaluation:
// AddStart -> AddIattr* -> AddOattr* -> AddEnd, mirroring the reference
// implementation's insert_start/insert_iattr/insert_oattr/insert_end calls
// (SPEC_FULL.md §11). Iattr/Oattr accumulate (name, signature) pairs only;
// the raw bytes of output attributes are staged in oattrValues until AddEnd
// hands them to the persistence thread for out-of-line materialization.
type Handle struct {
	fc  *Fcache
	oid odisk.OID

	iattr       *attr.AttrSet
	oattr       *attr.AttrSet
	oattrValues map[string][]byte

	ended bool
}

// AddStart opens an insert for (fc, oid). The caller must already hold the
// evaluation right for this key, normally established by a prior WaitLookup
// that returned Miss or PartialHit.
func (c *OCache) AddStart(fc *Fcache, oid odisk.OID) (*Handle, error) {
	fc.pendingMu.Lock()
	if _, ok := fc.pending[oid]; !ok {
		// Defensive: allow direct use (e.g. tests) without a prior
		// WaitLookup by reserving the key here.
		fc.pending[oid] = &pendingEntry{done: make(chan struct{})}
	}
	fc.pendingMu.Unlock()

	return &Handle{
		fc:          fc,
		oid:         oid,
		iattr:       attr.NewSet(),
		oattr:       attr.NewSet(),
		oattrValues: make(map[string][]byte),
	}, nil
}

// AddIattr records one input attribute consumed by the filter during this
// evaluation. The iattr set accumulated here becomes the record's cache key
// component (IattrSig) and governs future subset-hit checks.
func (h *Handle) AddIattr(a attr.Attr) {
	h.iattr.Add(a.Name, a.Sig)
}

// AddOattr records one output attribute produced by the filter. If value is
// non-nil it is staged for the persistence thread, which materializes it
// through the Fcache's OAttrStore only when it is at least InlineThreshold
// bytes; smaller values are not stored by the cache.
func (h *Handle) AddOattr(a attr.Attr) {
	h.oattr.Add(a.Name, a.Sig)
	if a.Value != nil {
		h.oattrValues[a.Name] = a.Value
	}
}

// AddEnd commits the evaluation: publishes a new ObjectRecord into the
// in-memory table, hands it to the persistence thread, and releases the
// (fsig, oid) reservation so any blocked WaitLookup callers can proceed.
func (c *OCache) AddEnd(h *Handle, result int32) error {
	if h.ended {
		return fmt.Errorf("ocache: AddEnd called twice for oid %d", h.oid)
	}
	h.ended = true

	rec := &ObjectRecord{
		OID:       h.oid,
		IattrSig:  h.iattr.Digest(),
		Result:    result,
		Iattr:     h.iattr,
		Oattr:     h.oattr,
		EvalCount: 1,
	}

	h.fc.mu.Lock()
	k := key{OID: h.oid}
	h.fc.table[k] = append(h.fc.table[k], rec)
	h.fc.mtime = time.Now()
	h.fc.mu.Unlock()

	c.enqueuePersist(h.fc, rec, h.oattrValues)

	h.fc.pendingMu.Lock()
	if pe, ok := h.fc.pending[h.oid]; ok {
		pe.rec = rec
		delete(h.fc.pending, h.oid)
		close(pe.done)
	}
	h.fc.pendingMu.Unlock()

	return nil
}

// Abort releases the (fsig, oid) reservation without publishing a record.
// Nothing in this module calls it.
func (h *Handle) Abort(c *OCache) {
	if h.ended {
		return
	}
	h.ended = true
	h.fc.pendingMu.Lock()
	if pe, ok := h.fc.pending[h.oid]; ok {
		delete(h.fc.pending, h.oid)
		close(pe.done)
	}
	h.fc.pendingMu.Unlock()
}
