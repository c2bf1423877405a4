package ocache

import (
	"context"

	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// InlineThreshold is the payload size at or above which an output
// attribute's value is materialized out-of-line via an OAttrStore
// (spec.md §4.C: "oattr/<hex_oid>/<attrname> — materialized attribute
// payloads (when large)"). Smaller values are not stored by the cache: a
// cache.log record carries only each output attribute's name and signature.
const InlineThreshold = 4096

// OAttrStore persists materialized output-attribute payloads, addressed by
// their content signature so the store is safe to share across devices or
// processes (SPEC_FULL.md §4.C). Exactly one implementation backs a given
// Fcache.
type OAttrStore interface {
	Put(ctx context.Context, fsig sig.Sig128, oid odisk.OID, name string, digest sig.Sig128, value []byte) error
	Get(ctx context.Context, fsig sig.Sig128, oid odisk.OID, name string, digest sig.Sig128) ([]byte, bool, error)
}
