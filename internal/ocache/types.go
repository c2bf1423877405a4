package ocache

import (
	"sync"
	"time"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// Result codes. By convention, a result >= the filter's threshold is a pass;
// FilterErr is reserved for unrecoverable filter runtime failures.
const (
	FilterErr int32 = -1
)

// ObjectRecord is one cache entry: the outcome of evaluating a single
// filter against a single object under a specific input-attribute context.
// Multiple records exist per (fsig, oid) when the object has been evaluated
// under different iattr contexts. Created by the evaluator thread that ran
// the filter; immutable once published via AddEnd.
type ObjectRecord struct {
	OID       odisk.OID
	IattrSig  sig.Sig128 // digest of Iattr, sorted canonically
	Result    int32
	Iattr     *attr.AttrSet
	Oattr     *attr.AttrSet
	EvalCount uint64
	HitCount  uint64
}

// CacheInitRecord is the initial, pre-filter-chain attribute snapshot for an
// object, shared across all filters in the chain. Nothing in this module
// constructs one: ceval.Filters1 takes its snapshot as an attr.Snapshot.
type CacheInitRecord struct {
	OID  odisk.OID
	Attr *attr.AttrSet
}

// key identifies a cache bucket: one object may have many records under one
// (fsig, oid) key, distinguished by IattrSig.
type key struct {
	OID odisk.OID
}

// Fcache is the in-memory table for a single filter signature: a hash map
// from object id to the (possibly several) records recorded for it, an
// append-only on-disk log mirroring the table, and the bookkeeping needed
// for LRU eviction from memory (on-disk data is never evicted).
type Fcache struct {
	FSig sig.Sig128

	mu    sync.RWMutex
	table map[key][]*ObjectRecord

	mtime time.Time // last modification
	atime time.Time // last hit, used for LRU eviction

	running bool

	log   *cacheLog
	store OAttrStore

	// pending tracks (fsig, oid) pairs currently being evaluated so that
	// WaitLookup enforces at-most-one concurrent evaluation per key.
	pendingMu sync.Mutex
	pending   map[odisk.OID]*pendingEntry

	hits   uint64
	misses uint64
}

type pendingEntry struct {
	done chan struct{}
	rec  *ObjectRecord // set once the evaluating thread commits
}

func newFcache(fsig sig.Sig128, log *cacheLog, store OAttrStore) *Fcache {
	now := time.Now()
	return &Fcache{
		FSig:    fsig,
		table:   make(map[key][]*ObjectRecord),
		mtime:   now,
		atime:   now,
		log:     log,
		store:   store,
		pending: make(map[odisk.OID]*pendingEntry),
	}
}

// Idle reports whether the cache has seen no hits for longer than d.
func (f *Fcache) Idle(d time.Duration) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return time.Since(f.atime) > d
}

// Counts returns the raw hit/miss totals backing HitRate, for dctl's
// per-filter eval/hit leaves (filter/<name>/eval_count, .../hit_count).
func (f *Fcache) Counts() (hits, misses uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hits, f.misses
}

// HitRate returns the fraction of lookups that were hits, for the dctl
// cache.hit_rate leaf.
func (f *Fcache) HitRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	total := f.hits + f.misses
	if total == 0 {
		return 0
	}
	return float64(f.hits) / float64(total)
}
