// Package search implements the per-search pipeline and lifecycle state
// machine: the unprocessed/processed ring pair between the object-store
// reader and the filter evaluators, the background-ops command queue that
// serializes all transport-driven state transitions, and the high/low-water
// backpressure gate that keeps a slow client from letting the pipeline run
// away with memory.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/ring"
)

// Status is one of the context lifecycle states (spec.md's state diagram).
type Status int32

const (
	Idle Status = iota
	Active
	Done
	Empty
	Shutdown
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Done:
		return "DONE"
	case Empty:
		return "EMPTY"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

var validTransitions = map[Status][]Status{
	Idle:     {Active, Shutdown},
	Active:   {Done, Shutdown},
	Done:     {Empty, Shutdown},
	Empty:    {Idle, Shutdown},
	Shutdown: {},
}

// Default tunables (spec.md 4.E).
const (
	DefaultRingSize = 1024
	DefaultPendHW   = 60
	DefaultPendLW   = 55
)

// ErrStaleGeneration is returned by commands carrying a generation number
// older than the context's current one.
var ErrStaleGeneration = errors.New("search: stale generation")

// ErrShutdown is returned by anything that would otherwise block once the
// context has transitioned to SHUTDOWN.
var ErrShutdown = errors.New("search: context shut down")

// ErrInvalidTransition reports an attempted state change the state machine
// does not allow.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("search: invalid transition %s -> %s", e.From, e.To)
}

// DeviceHandle is per-device connection state: a monotonic version number
// reset at the start of each search, bumped by SetList.
type DeviceHandle struct {
	ID string

	mu      sync.Mutex
	version uint64
}

// Version returns the device's current generation.
func (d *DeviceHandle) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *DeviceHandle) bump() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version++
	return d.version
}

// taggedObj carries an object through unproc_ring/proc_ring tagged with the
// generation it was read under, so a set_list issued mid-flight can drop
// stale objects at the proc-ring boundary instead of delivering them.
type taggedObj struct {
	obj *odisk.Object
	gen uint64
}

// Context is one search's full pipeline plus lifecycle state: the rings,
// the backpressure gate, the command queue, and the evaluator pool.
type Context struct {
	SearchID string

	Eval *ceval.State // filter chain, disk, cache, sandbox pool
	Disk odisk.Disk

	NumEvaluators int

	UnprocRing *ring.Ring
	ProcRing   *ring.Ring
	BgOpsRing  *ring.Ring
	LogRing    *ring.Ring

	mu     sync.Mutex
	cond   *sync.Cond
	status Status

	devices map[string]*DeviceHandle

	generation uint64

	pendCount int
	pendHW    int
	pendLW    int

	droppedStale uint64

	// PreviewFn, if set, is invoked from the evaluator after every filter
	// step so a transport-side preview channel can stream an object's
	// in-progress evaluation state to a client before it reaches proc_ring
	// (spec.md 6.2's partial-vs-complete distinction).
	PreviewFn func(oid odisk.OID, filterName string, pass bool)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithPendWater overrides the default high/low-water marks.
func WithPendWater(hw, lw int) Option {
	return func(c *Context) {
		c.pendHW = hw
		c.pendLW = lw
	}
}

// WithRingSize overrides the default ring capacity for all four rings.
func WithRingSize(n int) Option {
	return func(c *Context) {
		c.UnprocRing = ring.New(n)
		c.ProcRing = ring.New(n)
		c.BgOpsRing = ring.New(n)
		c.LogRing = ring.New(n)
	}
}

// WithEvaluators sets the number of concurrent evaluator goroutines.
func WithEvaluators(n int) Option {
	return func(c *Context) { c.NumEvaluators = n }
}

// New builds an IDLE context over disk/eval, ready for Start.
func New(searchID string, disk odisk.Disk, eval *ceval.State, opts ...Option) *Context {
	c := &Context{
		SearchID:      searchID,
		Eval:          eval,
		Disk:          disk,
		NumEvaluators: 1,
		UnprocRing:    ring.New(DefaultRingSize),
		ProcRing:      ring.New(DefaultRingSize),
		BgOpsRing:     ring.New(DefaultRingSize),
		LogRing:       ring.New(DefaultRingSize),
		status:        Idle,
		devices:       make(map[string]*DeviceHandle),
		pendHW:        DefaultPendHW,
		pendLW:        DefaultPendLW,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Status returns the current lifecycle state.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Generation returns the context's current generation number.
func (c *Context) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PendCount returns the number of objects currently in flight between core
// and client (admitted by the reader, not yet released).
func (c *Context) PendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendCount
}

// transition applies from -> to under the lock, validating against
// validTransitions, and wakes anyone waiting on the condition variable
// (status changes can unblock the reader's admission gate and the
// evaluators' continue check).
func (c *Context) transition(to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Context) transitionLocked(to Status) error {
	from := c.status
	if from == to {
		return nil
	}
	allowed := validTransitions[from]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return &ErrInvalidTransition{From: from, To: to}
	}
	c.status = to
	c.cond.Broadcast()
	return nil
}

// Device registers (or returns) the DeviceHandle for a connecting device,
// modeling new_conn's app_cookie allocation.
func (c *Context) Device(id string) *DeviceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		d = &DeviceHandle{ID: id}
		c.devices[id] = d
	}
	return d
}

// Start transitions IDLE -> ACTIVE and spawns the reader and evaluator
// threads. It is idempotent against a context already running.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if err := c.transitionLocked(Active); err != nil {
		c.mu.Unlock()
		return err
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readerLoop(ctx)
	for i := 0; i < c.NumEvaluators; i++ {
		c.wg.Add(1)
		go c.evaluatorLoop(ctx)
	}
	return nil
}

// Stop transitions toward IDLE once the current pass has drained
// (DONE -> EMPTY -> IDLE), per the state diagram's "stop" edge.
func (c *Context) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Empty {
		return c.transitionLocked(Idle)
	}
	return nil
}

// Term shuts the context down permanently: no further transitions are
// possible afterward. Threads observe this via continue checks and the
// backpressure gate and exit without leaking any in-flight object.
func (c *Context) Term() error {
	if err := c.transition(Shutdown); err != nil {
		return err
	}
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		close(c.stopCh)
		c.wg.Wait()
	}
	return nil
}

// Wait blocks until the reader and all evaluators have exited (DONE/EMPTY
// reached naturally, or Term was called).
func (c *Context) Wait() {
	c.wg.Wait()
}

// continueRunning reports whether evaluator/reader loops should keep going;
// polled between filters and between reads (spec.md's cancellation model).
func (c *Context) continueRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status != Shutdown
}
