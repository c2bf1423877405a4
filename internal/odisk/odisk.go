// Package odisk defines the contract the core consumes from the external
// object store. The object store itself (the real adiskd on-disk object
// iterator, keyed by 64-bit object id) is out of scope for this repository;
// only the interface the evaluator and cache depend on lives here, plus a
// reference in-memory implementation used by tests and the fixture mode of
// cmd/adiskd.
package odisk

import (
	"context"
	"errors"

	"github.com/dvlop/opendiamond/internal/sig"
)

// ErrEndOfDisk is returned by NextObj when the iterator is exhausted.
var ErrEndOfDisk = errors.New("odisk: end of disk")

// ErrAttrMissing is returned by GetAttr when an object has no value stored
// under the requested name. This is not a core error — ceval.Filters2
// surfaces it to the filter as "missing", per spec.md §7.
var ErrAttrMissing = errors.New("odisk: attribute missing")

// OID identifies an object within a device's corpus.
type OID uint64

// Object is an opaque handle the core passes between odisk, ceval, and the
// proc ring. The core never inspects its fields directly; it calls back
// into Disk for attribute access.
type Object struct {
	OID OID
}

// Disk is the contract consumed by the evaluator: a random-access,
// named-attribute iterator over a device's corpus.
type Disk interface {
	// NextObj returns the next object in iteration order, or ErrEndOfDisk.
	NextObj(ctx context.Context) (*Object, error)

	// GetAttr returns the named attribute's current value, or
	// ErrAttrMissing.
	GetAttr(obj *Object, name string) ([]byte, error)

	// SetAttr materializes a computed attribute back onto the object.
	SetAttr(obj *Object, name string, digest sig.Sig128, value []byte) error

	// Release returns the object to the store, ending the core's
	// exclusive ownership of its in-flight ring slot.
	Release(obj *Object)
}
