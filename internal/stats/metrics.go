package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus projections of the device's control-tree
// counters, one set of label values per search_id so a multi-search
// device (or a dashboard scraping several devices) can distinguish them.
type Metrics struct {
	PendCount  *prometheus.GaugeVec
	Drate      *prometheus.GaugeVec
	HitRate    *prometheus.GaugeVec
	DroppedObj *prometheus.CounterVec
	FilterEval *prometheus.CounterVec
	FilterHit  *prometheus.CounterVec
}

// NewMetrics registers the Prometheus collectors. Call once per process;
// promauto panics on double-registration against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		PendCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "diamond_pipeline_pend_count",
				Help: "Objects currently in flight between core and client",
			},
			[]string{"search_id"},
		),
		Drate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "diamond_pipeline_drate",
				Help: "Processed-ring dequeue rate, objects per second",
			},
			[]string{"search_id"},
		),
		HitRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "diamond_cache_hit_rate",
				Help: "Fraction of object-cache lookups that were hits",
			},
			[]string{"search_id"},
		),
		DroppedObj: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diamond_pipeline_dropped_stale_total",
				Help: "In-flight objects discarded for a superseded generation",
			},
			[]string{"search_id"},
		),
		FilterEval: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diamond_filter_eval_total",
				Help: "Filter evaluations run, including both cache hits and misses",
			},
			[]string{"search_id", "filter"},
		),
		FilterHit: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diamond_filter_hit_total",
				Help: "Filter evaluations served from the object cache",
			},
			[]string{"search_id", "filter"},
		),
	}
}

// observeGauges updates the gauges from snap. Counter-shaped values
// (DroppedObj, per-filter eval/hit) are monotonic sources read from the
// core, so they are set via Add of a delta rather than a raw Set;
// Poller.tick computes those deltas with a deltaTracker.
func (m *Metrics) observeGauges(snap Snapshot) {
	m.PendCount.WithLabelValues(snap.SearchID).Set(float64(snap.PendCount))
	m.Drate.WithLabelValues(snap.SearchID).Set(snap.Drate)
	m.HitRate.WithLabelValues(snap.SearchID).Set(snap.HitRate)
}

// deltaTracker remembers the last monotonic counter value seen per
// search_id (and, for per-filter counters, per search_id+filter) so
// Poller.tick can convert the core's cumulative counters into Prometheus Add() deltas
// without double-counting across polls.
type deltaTracker struct {
	lastDropped    map[string]uint64
	lastFilterEval map[string]uint64
	lastFilterHit  map[string]uint64
}

func newDeltaTracker() *deltaTracker {
	return &deltaTracker{
		lastDropped:    make(map[string]uint64),
		lastFilterEval: make(map[string]uint64),
		lastFilterHit:  make(map[string]uint64),
	}
}

func (d *deltaTracker) droppedDelta(searchID string, total uint64) uint64 {
	prev := d.lastDropped[searchID]
	d.lastDropped[searchID] = total
	if total < prev {
		return total // generation/process reset; report the new total as-is
	}
	return total - prev
}

func (d *deltaTracker) filterEvalDelta(searchID, filter string, total uint64) uint64 {
	key := searchID + "/" + filter
	prev := d.lastFilterEval[key]
	d.lastFilterEval[key] = total
	if total < prev {
		return total
	}
	return total - prev
}

func (d *deltaTracker) filterHitDelta(searchID, filter string, total uint64) uint64 {
	key := searchID + "/" + filter
	prev := d.lastFilterHit[key]
	d.lastFilterHit[key] = total
	if total < prev {
		return total
	}
	return total - prev
}
