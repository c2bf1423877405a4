// Package ocache implements the object evaluation cache: a content-addressed
// store mapping (filter signature, object id, input-attribute signature) to
// (result, output attributes), backed by an append-only on-disk log per
// filter signature (spec.md §4.C).
package ocache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dvlop/opendiamond/internal/ring"
	"github.com/dvlop/opendiamond/internal/sig"
)

// Status is the outcome of a cache Lookup.
type Status int

const (
	// Miss: no record exists yet for this (fsig, oid).
	Miss Status = iota
	// Hit: a record exists whose recorded iattr set is a subset of the
	// object's current attributes, with matching signatures throughout.
	Hit
	// PartialHit: a record exists for (fsig, oid) but at least one input
	// attribute has changed; the evaluator must re-run the filter.
	PartialHit
)

// LookupResult is returned by Lookup/WaitLookup.
type LookupResult struct {
	Status       Status
	Result       int32
	Oattr        OattrSetView
	IattrSig     sig.Sig128
	ChangedAttrs []string // only set on PartialHit
}

// OattrSetView is the minimal read surface ceval needs from a hit record's
// output attribute set (name -> signature); defined here rather than
// re-exporting *attr.AttrSet to keep the lookup result serializable.
type OattrSetView map[string]sig.Sig128

// StoreFactory builds the OAttrStore used for a newly-created Fcache. The
// default factory returns a LocalOAttrStore rooted at the cache's on-disk
// directory.
type StoreFactory func(root string, fsig sig.Sig128) OAttrStore

// OCache is the top-level object cache: one per device process, holding one
// Fcache per filter signature currently referenced by an active searchlet.
type OCache struct {
	root     string
	storeFor StoreFactory
	logger   *slog.Logger

	mu     sync.Mutex
	caches map[sig.Sig128]*Fcache

	persistRing *ring.Ring
	signal      chan struct{}
	inflight    sync.WaitGroup
	stopCh      chan struct{}
	started     bool

	idleTimeout   time.Duration
	evictInterval time.Duration
}

type commitEvent struct {
	fc     *Fcache
	rec    *ObjectRecord
	values map[string][]byte
}

// Option configures OCache at construction time.
type Option func(*OCache)

// WithStoreFactory overrides the default local-filesystem OAttrStore, e.g.
// to back large attribute payloads with Redis or Supabase Storage.
func WithStoreFactory(f StoreFactory) Option {
	return func(c *OCache) { c.storeFor = f }
}

// WithIdleTimeout sets how long a filter cache may go without a hit before
// it becomes eligible for LRU eviction from memory (on-disk data persists).
func WithIdleTimeout(d time.Duration) Option {
	return func(c *OCache) { c.idleTimeout = d }
}

// WithEvictInterval sets how often the eviction sweeper runs.
func WithEvictInterval(d time.Duration) Option {
	return func(c *OCache) { c.evictInterval = d }
}

// Init binds the cache to an on-disk directory, per spec.md §4.C. Control
// tree and logging registration are the caller's responsibility (see
// internal/dctl and internal/stats), this layer only creates the directory.
func Init(path string, opts ...Option) (*OCache, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("ocache: init: %w", err)
	}
	c := &OCache{
		root:          path,
		caches:        make(map[sig.Sig128]*Fcache),
		persistRing:   ring.New(4096),
		signal:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		logger:        slog.Default().With("component", "ocache"),
		idleTimeout:   5 * time.Minute,
		evictInterval: 30 * time.Second,
	}
	c.storeFor = func(root string, fsig sig.Sig128) OAttrStore {
		return NewLocalOAttrStore(root)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Start spawns the background persistence thread and the LRU eviction
// sweeper.
func (c *OCache) Start() {
	go c.persistLoop()
	go c.evictLoop()
}

// Stop flushes and persists every pending insert, then blocks until
// drained — spec.md invariant 6: every add_end that preceded Stop is
// present in cache.log and reloadable once Stop returns.
func (c *OCache) Stop(path string) error {
	close(c.stopCh)
	c.inflight.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fc := range c.caches {
		if err := fc.log.Close(); err != nil {
			return fmt.Errorf("ocache: stop: %w", err)
		}
	}
	return nil
}

// StopSearch finalizes any pending writes for one filter cache, without
// tearing down the whole OCache. Nothing in this module calls it.
func (c *OCache) StopSearch(fsig sig.Sig128) error {
	c.mu.Lock()
	fc, ok := c.caches[fsig]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.inflight.Wait() // conservative: one shared persistence queue
	fc.mu.Lock()
	fc.running = false
	fc.mu.Unlock()
	return nil
}

// WaitFinish blocks until every persistence queue is empty.
func (c *OCache) WaitFinish() {
	c.inflight.Wait()
}

// GetOrLoad returns the Fcache for fsig, creating and reloading it from disk
// on first reference, per spec.md §3 "Filter caches are created on first
// reference to fsig, loaded from disk if present".
func (c *OCache) GetOrLoad(fsig sig.Sig128) (*Fcache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fc, ok := c.caches[fsig]; ok {
		return fc, nil
	}

	dir := filepath.Join(c.root, fsig.String())
	table, _, err := reload(dir)
	if err != nil {
		return nil, fmt.Errorf("ocache: reload %s: %w", fsig, err)
	}
	log, err := openCacheLog(dir)
	if err != nil {
		return nil, err
	}
	fc := newFcache(fsig, log, c.storeFor(c.root, fsig))
	fc.table = table
	fc.running = true
	c.caches[fsig] = fc
	c.logger.Info("filter cache loaded", "fsig", fsig.String(), "records", len(table))
	return fc, nil
}

// enqueuePersist pushes a commit event onto the shared persistence ring.
// Producers never block on I/O: the ring accepts the event immediately
// unless genuinely full, in which case (spec.md §7, "transient I/O") the
// caller retries locally rather than failing the evaluation.
func (c *OCache) enqueuePersist(fc *Fcache, rec *ObjectRecord, values map[string][]byte) {
	c.inflight.Add(1)
	ev := &commitEvent{fc: fc, rec: rec, values: values}
	for {
		if err := c.persistRing.Enq(ev); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *OCache) persistLoop() {
	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			c.drainPersist(ctx)
			return
		case <-c.signal:
			c.drainPersist(ctx)
		}
	}
}

func (c *OCache) drainPersist(ctx context.Context) {
	for {
		v, err := c.persistRing.Deq()
		if err != nil {
			return
		}
		ev := v.(*commitEvent)
		c.writeRecord(ctx, ev)
		c.inflight.Done()
	}
}

func (c *OCache) writeRecord(ctx context.Context, ev *commitEvent) {
	if err := ev.fc.log.Append(ev.rec); err != nil {
		c.logger.Error("cache log append failed", "fsig", ev.fc.FSig.String(), "oid", ev.rec.OID, "err", err)
		return
	}
	for name, val := range ev.values {
		if len(val) < InlineThreshold {
			continue
		}
		digest, ok := ev.rec.Oattr.Lookup(name)
		if !ok {
			continue
		}
		if err := ev.fc.store.Put(ctx, ev.fc.FSig, ev.rec.OID, name, digest, val); err != nil {
			c.logger.Warn("oattr materialization failed", "name", name, "err", err)
		}
	}
}

func (c *OCache) evictLoop() {
	t := time.NewTicker(c.evictInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.sweepIdle()
		}
	}
}

// Sweep runs one idle-eviction pass immediately, outside evictLoop's own
// ticker. internal/fleet uses this to let a Cloud Tasks-scheduled HTTP hit
// (or any other external scheduler) drive the same eviction evictLoop
// would otherwise run on its own interval.
func (c *OCache) Sweep() {
	c.sweepIdle()
}

// sweepIdle evicts filter caches idle beyond idleTimeout from memory. Any
// pending inserts are persisted first (they already were, via the shared
// persistence thread — eviction only drops the in-memory table+pending map,
// the on-disk log is untouched and will be reloaded on next reference).
func (c *OCache) sweepIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fsig, fc := range c.caches {
		if !fc.Idle(c.idleTimeout) {
			continue
		}
		fc.pendingMu.Lock()
		busy := len(fc.pending) > 0
		fc.pendingMu.Unlock()
		if busy {
			continue
		}
		if err := fc.log.Close(); err != nil {
			c.logger.Warn("evict: close log failed", "fsig", fsig.String(), "err", err)
			continue
		}
		delete(c.caches, fsig)
		c.logger.Info("filter cache evicted (idle)", "fsig", fsig.String())
	}
}

// HitRate aggregates hit rate across all currently-loaded filter caches, for
// the dctl "cache.hit_rate" leaf.
func (c *OCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.caches) == 0 {
		return 0
	}
	var sum float64
	for _, fc := range c.caches {
		sum += fc.HitRate()
	}
	return sum / float64(len(c.caches))
}
