package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/dvlop/opendiamond/internal/search"
)

// Poller periodically collects a Snapshot from a search.Context, pushes it
// onto the Prometheus gauges, and hands it to a StatSink for durable
// storage.
type Poller struct {
	ctx      *search.Context
	metrics  *Metrics
	sink     StatSink
	interval time.Duration
	deltas   *deltaTracker
}

// NewPoller builds a poller over ctx. metrics may be nil to skip the
// Prometheus projection; sink may be nil to skip durable storage.
func NewPoller(ctx *search.Context, metrics *Metrics, sink StatSink, interval time.Duration) *Poller {
	return &Poller{ctx: ctx, metrics: metrics, sink: sink, interval: interval, deltas: newDeltaTracker()}
}

// Run polls until ctx is cancelled, logging (but not aborting on) sink
// errors so a flaky durable store never stops the in-process metrics.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	snap := Collect(p.ctx)

	if p.metrics != nil {
		p.metrics.observeGauges(snap)
		p.metrics.DroppedObj.WithLabelValues(snap.SearchID).Add(float64(p.deltas.droppedDelta(snap.SearchID, snap.DroppedObj)))
		p.recordFilterCounters(snap.SearchID)
	}

	if p.sink != nil {
		if err := p.sink.Write(ctx, snap); err != nil {
			slog.Warn("stats: sink write failed", "search_id", snap.SearchID, "error", err)
		}
	}
}

// recordFilterCounters walks the evaluator's filter chain and records
// per-filter eval/hit deltas onto Metrics.FilterEval/FilterHit, the same
// Fcache.Counts() source internal/dctl's filter/<name>/eval_count and
// hit_count leaves read.
func (p *Poller) recordFilterCounters(searchID string) {
	if p.ctx.Eval == nil || p.ctx.Eval.Chain == nil || p.ctx.Eval.Cache == nil {
		return
	}
	for _, f := range p.ctx.Eval.Chain.Filters {
		fc, err := p.ctx.Eval.Cache.GetOrLoad(f.Sig)
		if err != nil {
			continue
		}
		hits, misses := fc.Counts()
		p.metrics.FilterEval.WithLabelValues(searchID, f.Name).Add(float64(p.deltas.filterEvalDelta(searchID, f.Name, hits+misses)))
		p.metrics.FilterHit.WithLabelValues(searchID, f.Name).Add(float64(p.deltas.filterHitDelta(searchID, f.Name, hits)))
	}
}
