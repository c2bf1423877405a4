package odisk

import (
	"context"
	"sync"

	"github.com/dvlop/opendiamond/internal/sig"
)

// MemDisk is a trivial in-memory Disk used by tests and the cmd/adiskd
// "-fixture" standalone mode. It is not part of the core's public contract.
type MemDisk struct {
	mu      sync.Mutex
	objs    []OID
	pos     int
	attrs   map[OID]map[string][]byte
	attrSig map[OID]map[string]sig.Sig128
}

// NewMemDisk builds a MemDisk that will iterate the given object ids in
// order.
func NewMemDisk(oids []OID) *MemDisk {
	return &MemDisk{
		objs:    append([]OID(nil), oids...),
		attrs:   make(map[OID]map[string][]byte),
		attrSig: make(map[OID]map[string]sig.Sig128),
	}
}

// Seed pre-populates an attribute on an object before iteration begins.
func (d *MemDisk) Seed(oid OID, name string, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(oid)
	d.attrs[oid][name] = value
	d.attrSig[oid][name] = sig.Of(value)
}

func (d *MemDisk) ensure(oid OID) {
	if d.attrs[oid] == nil {
		d.attrs[oid] = make(map[string][]byte)
		d.attrSig[oid] = make(map[string]sig.Sig128)
	}
}

func (d *MemDisk) NextObj(ctx context.Context) (*Object, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.objs) {
		return nil, ErrEndOfDisk
	}
	oid := d.objs[d.pos]
	d.pos++
	return &Object{OID: oid}, nil
}

func (d *MemDisk) GetAttr(obj *Object, name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.attrs[obj.OID]
	if m == nil {
		return nil, ErrAttrMissing
	}
	v, ok := m[name]
	if !ok {
		return nil, ErrAttrMissing
	}
	return v, nil
}

func (d *MemDisk) SetAttr(obj *Object, name string, digest sig.Sig128, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(obj.OID)
	d.attrs[obj.OID][name] = value
	d.attrSig[obj.OID][name] = digest
	return nil
}

func (d *MemDisk) Release(obj *Object) {}

// Snapshot returns the current attribute-name -> sig map for obj, used by
// ceval to evaluate the subset-hit rule.
func (d *MemDisk) Snapshot(obj *Object) map[string]sig.Sig128 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]sig.Sig128, len(d.attrSig[obj.OID]))
	for k, v := range d.attrSig[obj.OID] {
		out[k] = v
	}
	return out
}
