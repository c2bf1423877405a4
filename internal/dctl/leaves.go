package dctl

import (
	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/iotap"
	"github.com/dvlop/opendiamond/internal/ocache"
	"github.com/dvlop/opendiamond/internal/search"
)

// RegisterSearch wires the standard core leaves onto tree for one running
// search: search.status, cache.hit_rate, pipeline.pend_count, and
// pipeline.drate (spec.md 6.4's named leaf list).
func RegisterSearch(tree *Tree, ctx *search.Context) error {
	if err := tree.RegisterLeaf("search/status", TypeString, func() ([]byte, error) {
		return EncodeString(ctx.Status().String()), nil
	}, nil); err != nil {
		return err
	}

	if err := tree.RegisterLeaf("pipeline/pend_count", TypeUint32, func() ([]byte, error) {
		return EncodeUint32(uint32(ctx.PendCount())), nil
	}, nil); err != nil {
		return err
	}

	if err := tree.RegisterLeaf("pipeline/drate", TypeFloat64, func() ([]byte, error) {
		return EncodeFloat64(ctx.ProcRing.Drate()), nil
	}, nil); err != nil {
		return err
	}

	if err := tree.RegisterLeaf("pipeline/dropped_stale", TypeUint64, func() ([]byte, error) {
		return EncodeUint64(ctx.DroppedStale()), nil
	}, nil); err != nil {
		return err
	}

	if cache := ctx.Eval.Cache; cache != nil {
		if err := tree.RegisterLeaf("cache/hit_rate", TypeFloat64, func() ([]byte, error) {
			return EncodeFloat64(cache.HitRate()), nil
		}, nil); err != nil {
			return err
		}
		if err := registerFilterCounters(tree, cache, ctx.Eval.Chain); err != nil {
			return err
		}
	}

	return nil
}

// RegisterIOTap wires the optional I/O latency tap's running counters onto
// the control tree, under io/read_latency_ns and io/write_latency_ns.
func RegisterIOTap(tree *Tree, agg *iotap.Aggregator) error {
	if err := tree.RegisterLeaf("io/read_latency_ns", TypeFloat64, func() ([]byte, error) {
		return EncodeFloat64(agg.MeanLatencyNS(iotap.OpRead)), nil
	}, nil); err != nil {
		return err
	}
	return tree.RegisterLeaf("io/write_latency_ns", TypeFloat64, func() ([]byte, error) {
		return EncodeFloat64(agg.MeanLatencyNS(iotap.OpWrite)), nil
	}, nil)
}

// registerFilterCounters adds filter/<name>/eval_count and
// filter/<name>/hit_count leaves for every filter in chain, backed by the
// Fcache the evaluator already loaded via ocache.GetOrLoad.
func registerFilterCounters(tree *Tree, cache *ocache.OCache, chain *ceval.FilterChain) error {
	if chain == nil {
		return nil
	}
	for _, f := range chain.Filters {
		fsig := f.Sig
		name := f.Name

		if err := tree.RegisterLeaf("filter/"+name+"/eval_count", TypeUint64, func() ([]byte, error) {
			fc, err := cache.GetOrLoad(fsig)
			if err != nil {
				return nil, err
			}
			hits, misses := fc.Counts()
			return EncodeUint64(hits + misses), nil
		}, nil); err != nil {
			return err
		}

		if err := tree.RegisterLeaf("filter/"+name+"/hit_count", TypeUint64, func() ([]byte, error) {
			fc, err := cache.GetOrLoad(fsig)
			if err != nil {
				return nil, err
			}
			hits, _ := fc.Counts()
			return EncodeUint64(hits), nil
		}, nil); err != nil {
			return err
		}
	}
	return nil
}
