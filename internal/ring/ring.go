// Package ring implements the bounded FIFOs used to move objects and cache
// insert events between threads: a single-slot form (Enq/Deq), which the
// cache persistence queue and the search pipeline's rings use, and a
// double-slot form (TwoEnq/TwoDeq) for (primary, aux) word pairs.
//
// Rings are non-blocking; callers coordinate blocking behavior externally
// (internal/search polls them on a short interval), matching the teacher's channel-free ringbuf idiom rather
// than Go's buffered channels, because the ring also needs to expose enq
// failure (Full) and a running dequeue-rate estimate that a plain channel
// cannot.
package ring

import (
	"errors"
	"sync"
	"time"
)

// ErrFull is returned by Enq when the ring has no free slot.
var ErrFull = errors.New("ring: full")

// ErrEmpty is returned by Deq when the ring has no entry to return.
var ErrEmpty = errors.New("ring: empty")

// Entry is a single ring element.
type Entry struct {
	Primary any
	Aux     any
}

// Ring is a bounded, lock-protected FIFO of Entry values.
type Ring struct {
	mu   sync.Mutex
	buf  []Entry
	head int
	tail int
	n    int

	rate rateMeter
}

// New creates a ring with the given capacity (must be > 0).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Entry, capacity), rate: newRateMeter(10 * time.Second)}
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Len returns the number of entries currently queued.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Enq pushes a single-word entry. Returns ErrFull if the ring has no room.
func (r *Ring) Enq(e any) error {
	return r.TwoEnq(e, nil)
}

// TwoEnq pushes a (primary, aux) pair atomically. Returns ErrFull if the
// ring has no room.
func (r *Ring) TwoEnq(primary, aux any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		return ErrFull
	}
	r.buf[r.tail] = Entry{Primary: primary, Aux: aux}
	r.tail = (r.tail + 1) % len(r.buf)
	r.n++
	return nil
}

// Deq pops the oldest entry's primary word. Returns ErrEmpty if the ring is
// empty.
func (r *Ring) Deq() (any, error) {
	p, _, err := r.TwoDeq()
	return p, err
}

// TwoDeq pops the oldest (primary, aux) pair. Returns ErrEmpty if the ring
// is empty.
func (r *Ring) TwoDeq() (any, any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return nil, nil, ErrEmpty
	}
	e := r.buf[r.head]
	r.buf[r.head] = Entry{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	r.rate.tick()
	return e.Primary, e.Aux, nil
}

// Drate returns the smoothed dequeue rate (entries/second) over the ring's
// sliding measurement window — out-of-band instrumentation read by the dctl
// "pipeline/drate" leaf, internal/stats and the transport's GetStats, per
// the Design Notes.
func (r *Ring) Drate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate.rate()
}

// rateMeter is a simple decaying-bucket estimator: each Deq increments the
// current bucket; rate() reports the total over the window divided by the
// window length, discarding buckets that have aged out.
type rateMeter struct {
	window  time.Duration
	buckets []int
	bucketW time.Duration
	start   time.Time
	cur     int
}

func newRateMeter(window time.Duration) rateMeter {
	const nBuckets = 10
	return rateMeter{
		window:  window,
		buckets: make([]int, nBuckets),
		bucketW: window / nBuckets,
		start:   time.Now(),
	}
}

func (m *rateMeter) tick() {
	m.rotate()
	m.buckets[m.cur]++
}

func (m *rateMeter) rotate() {
	if m.bucketW <= 0 {
		return
	}
	elapsed := time.Since(m.start)
	idx := int(elapsed/m.bucketW) % len(m.buckets)
	if idx == m.cur {
		return
	}
	// Clear every bucket strictly between the last observed index and the
	// new one (mod len) so buckets that aged out don't linger in the sum.
	for i := (m.cur + 1) % len(m.buckets); ; i = (i + 1) % len(m.buckets) {
		m.buckets[i] = 0
		if i == idx {
			break
		}
	}
	m.cur = idx
}

func (m *rateMeter) rate() float64 {
	m.rotate()
	total := 0
	for _, b := range m.buckets {
		total += b
	}
	return float64(total) / m.window.Seconds()
}
