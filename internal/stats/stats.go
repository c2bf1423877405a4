// Package stats projects the core's counters onto two surfaces beyond
// internal/dctl's device-local control tree: a Prometheus /metrics
// endpoint for fleet-wide scraping, and a StatSink that periodically
// flushes a snapshot to a durable store (a flat log by default, or
// Postgres/Spanner for a centralized dashboard).
package stats

import (
	"time"

	"github.com/dvlop/opendiamond/internal/search"
)

// Snapshot is one point-in-time reading of the counters this package
// mirrors, the same set internal/dctl exposes as leaves.
type Snapshot struct {
	SearchID   string
	Status     string
	PendCount  int
	Drate      float64
	HitRate    float64
	DroppedObj uint64
	Timestamp  time.Time
}

// Collect takes a snapshot of ctx's counters.
func Collect(ctx *search.Context) Snapshot {
	snap := Snapshot{
		SearchID:   ctx.SearchID,
		Status:     ctx.Status().String(),
		PendCount:  ctx.PendCount(),
		Drate:      ctx.ProcRing.Drate(),
		DroppedObj: ctx.DroppedStale(),
	}
	if ctx.Eval.Cache != nil {
		snap.HitRate = ctx.Eval.Cache.HitRate()
	}
	return snap
}
