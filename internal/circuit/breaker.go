// Package circuit implements the circuit breaker pattern guarding the
// filter execution sandbox pool against crash loops: a filter that keeps
// crashing the sandbox (not a normal FILTER_ERR result, but the process
// itself dying) trips its breaker and stops being dispatched for a cooldown
// period instead of being retried indefinitely.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation, requests pass through
	StateOpen                  // failure threshold exceeded, requests blocked
	StateHalfOpen              // probing whether the sandbox recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit: breaker is open")
	ErrTooManyRequests = errors.New("circuit: too many requests in half-open state")
)

// Config configures one breaker.
type Config struct {
	Name string

	// MaxRequests caps concurrent probes allowed while half-open.
	MaxRequests uint32

	// Interval is the period in closed state after which counts reset.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ReadyToTrip decides, from a snapshot of Counts, whether to open.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange is called on every transition; defaults to a slog line.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig trips after 3 consecutive sandbox crashes for this filter,
// cools down for 30s, then allows a single probing execution.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to State) {
			slog.Warn("filter breaker state change", "filter", name, "from", from, "to", to)
		},
	}
}

// Counts holds request/response tallies for the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

func (c *Counts) clear() {
	*c = Counts{}
}

func (c *Counts) onSuccess() {
	c.Requests++
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.Requests++
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker guards one filter's sandbox invocations.
type Breaker struct {
	cfg *Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a breaker; a nil cfg uses DefaultConfig("").
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

func (b *Breaker) Name() string { return b.cfg.Name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow reports whether a sandbox invocation may proceed right now, without
// running anything. filterexec.Pool.Run does not call it; the pool goes
// through ExecuteContext instead.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	if state == StateOpen {
		return ErrCircuitOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests {
		return ErrTooManyRequests
	}
	return nil
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	gen, err := b.before()
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			b.after(gen, false)
			panic(r)
		}
	}()
	result, err := fn()
	b.after(gen, err == nil)
	return result, err
}

// ExecuteContext is Execute with a context-aware callback, used by the
// sandbox pool's per-invocation run call.
func (b *Breaker) ExecuteContext(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	gen, err := b.before()
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			b.after(gen, false)
			panic(r)
		}
	}()
	result, err := fn(ctx)
	b.after(gen, err == nil)
	return result, err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	state, gen := b.currentState(now)
	if state == StateOpen {
		return gen, ErrCircuitOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests {
		return gen, ErrTooManyRequests
	}
	b.counts.Requests++
	return gen, nil
}

func (b *Breaker) after(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	state, gen := b.currentState(now)
	if generation != gen {
		return // result belongs to a generation that has since rolled over
	}
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onSuccess()
	case StateHalfOpen:
		b.counts.onSuccess()
		if b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onFailure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.toNewGeneration(now)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, prev, state)
	}
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts.clear()

	var expiry time.Time
	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 {
			expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		expiry = now.Add(b.cfg.Timeout)
	}
	b.expiry = expiry
}

func (b *Breaker) String() string {
	state := b.State()
	counts := b.Counts()
	return fmt.Sprintf("Breaker[%s: state=%s, requests=%d, failures=%d]",
		b.cfg.Name, state, counts.Requests, counts.TotalFailures)
}

// Manager hands out one Breaker per filter name, creating it with
// DefaultConfig on first reference.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      *Config
}

// NewManager creates a manager; a nil defaultCfg uses DefaultConfig("").
func NewManager(defaultCfg *Config) *Manager {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig("")
	}
	return &Manager{breakers: make(map[string]*Breaker), cfg: defaultCfg}
}

// Get returns the breaker for name, creating it from the manager's default
// config if this is the first reference.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	cfg := *m.cfg
	cfg.Name = name
	b = New(&cfg)
	m.breakers[name] = b
	return b
}

// Stats returns a snapshot of every breaker's state, as reported by
// filterexec.Pool.Stats.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = Stats{Name: name, State: b.State(), Counts: b.Counts()}
	}
	return out
}

// Stats is a named breaker's point-in-time state.
type Stats struct {
	Name   string
	State  State
	Counts Counts
}
