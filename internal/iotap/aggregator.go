package iotap

import "sync"

// Aggregator is a minimal in-process Sink: it keeps a running count and
// total latency per Op, enough to back a dctl leaf or a log line without
// pulling in a histogram library for what is, at bottom, two counters.
type Aggregator struct {
	mu     sync.Mutex
	count  [2]uint64
	totalN [2]uint64 // total latency, nanoseconds
}

// NewAggregator builds an empty aggregator; its Sink method is what gets
// passed to NewReader/Record.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Sink satisfies the Sink type; pass a.Sink to NewReader or Record.
func (a *Aggregator) Sink(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count[ev.Op]++
	a.totalN[ev.Op] += uint64(ev.LatencyNS)
}

// MeanLatencyNS returns the running mean latency for op, or 0 if no
// samples have been recorded yet.
func (a *Aggregator) MeanLatencyNS(op Op) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count[op] == 0 {
		return 0
	}
	return float64(a.totalN[op]) / float64(a.count[op])
}

// Count returns the number of samples recorded for op.
func (a *Aggregator) Count(op Op) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count[op]
}
