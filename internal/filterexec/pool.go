// Package filterexec runs filter code in an isolated, recyclable sandbox:
// each evaluation executes inside a pre-warmed container rather than
// in-process, so an untrusted or misbehaving filter binary cannot corrupt
// the device process or read another searchlet's objects (the "Filter
// execution sandbox" design note in spec.md §4.D). A per-filter circuit
// breaker stops dispatching a filter whose sandbox keeps crashing.
package filterexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dvlop/opendiamond/internal/circuit"
)

// Sandbox is one recyclable execution slot.
type Sandbox struct {
	ID       string
	LastUsed time.Time
}

// Backend creates, runs inside, and destroys sandboxes. DockerBackend is the
// production implementation; LocalBackend runs filters in-process for
// fixture/test environments without a container runtime available.
type Backend interface {
	Create(ctx context.Context) (*Sandbox, error)
	Scrub(ctx context.Context, s *Sandbox) error
	Destroy(ctx context.Context, s *Sandbox) error
	Run(ctx context.Context, s *Sandbox, filterName string, args []string, input []byte) (output []byte, err error)
}

// Pool manages a fixed-capacity set of sandboxes and dispatches filter runs
// through a per-filter circuit breaker, mirroring the teacher's
// Pre-warm -> Acquire -> Scrub -> Release container pool lifecycle.
type Pool struct {
	backend Backend

	mu          sync.Mutex
	available   chan *Sandbox
	active      map[string]*Sandbox
	minIdle     int
	maxCapacity int

	breakers *circuit.Manager

	stopCh chan struct{}
}

// NewPool creates a pool of at most maxCapacity sandboxes, pre-warming
// minIdle of them immediately and maintaining that floor in the background.
func NewPool(backend Backend, minIdle, maxCapacity int) *Pool {
	p := &Pool{
		backend:     backend,
		available:   make(chan *Sandbox, maxCapacity),
		active:      make(map[string]*Sandbox),
		minIdle:     minIdle,
		maxCapacity: maxCapacity,
		breakers:    circuit.NewManager(nil),
		stopCh:      make(chan struct{}),
	}
	p.topUp()
	go p.maintain()
	return p
}

// Stop halts the background maintainer. Sandboxes already checked out are
// returned by Run's deferred release; idle ones are destroyed.
func (p *Pool) Stop() {
	close(p.stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case s := <-p.available:
			p.backend.Destroy(ctx, s)
		default:
			return
		}
	}
}

func (p *Pool) maintain() {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.topUp()
		}
	}
}

func (p *Pool) topUp() {
	p.mu.Lock()
	activeCount := len(p.active)
	p.mu.Unlock()

	availableCount := len(p.available)
	total := activeCount + availableCount
	if availableCount >= p.minIdle || total >= p.maxCapacity {
		return
	}
	deficit := p.minIdle - availableCount
	for i := 0; i < deficit && total+i < p.maxCapacity; i++ {
		go p.createOne()
	}
}

func (p *Pool) createOne() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := p.backend.Create(ctx)
	if err != nil {
		slog.Warn("filterexec: sandbox create failed", "err", err)
		return
	}
	p.available <- s
}

// acquire retrieves a pre-warmed sandbox or blocks until one is ready or
// ctx is canceled.
func (p *Pool) acquire(ctx context.Context) (*Sandbox, error) {
	select {
	case s := <-p.available:
		p.mu.Lock()
		p.active[s.ID] = s
		p.mu.Unlock()
		s.LastUsed = time.Now()
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release scrubs the sandbox and returns it to the pool, destroying it
// instead if scrubbing fails (a sandbox left in an unknown state must never
// be reused for another object).
func (p *Pool) release(s *Sandbox) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := p.backend.Scrub(ctx, s); err != nil {
			slog.Warn("filterexec: scrub failed, destroying sandbox", "sandbox", s.ID, "err", err)
			p.backend.Destroy(ctx, s)
			p.mu.Lock()
			delete(p.active, s.ID)
			p.mu.Unlock()
			return
		}

		p.mu.Lock()
		delete(p.active, s.ID)
		p.mu.Unlock()
		p.available <- s
	}()
}

// Run executes one filter invocation through the sandbox pool, gated by
// that filter's circuit breaker, and returns the filter's raw output bytes
// (internal/ceval decodes the score and output attributes from them). If
// the breaker is open, Run returns immediately with circuit.ErrCircuitOpen
// and no sandbox is touched; the caller treats this the same as any other
// filter runtime failure (verdict drop, result cached as FilterErr).
func (p *Pool) Run(ctx context.Context, filterName string, args []string, input []byte) ([]byte, error) {
	breaker := p.breakers.Get(filterName)

	v, err := breaker.ExecuteContext(ctx, func(ctx context.Context) (any, error) {
		s, err := p.acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("filterexec: acquire sandbox: %w", err)
		}
		defer p.release(s)

		return p.backend.Run(ctx, s, filterName, args, input)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats reports pool occupancy alongside every filter's breaker state. No
// dctl leaf reads it.
func (p *Pool) Stats() map[string]any {
	p.mu.Lock()
	activeCount := len(p.active)
	p.mu.Unlock()

	return map[string]any{
		"active_sandboxes": activeCount,
		"idle_sandboxes":   len(p.available),
		"total_capacity":   p.maxCapacity,
		"min_idle":         p.minIdle,
		"breakers":         p.breakers.Stats(),
	}
}
