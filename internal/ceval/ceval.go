// Package ceval is the filter evaluator: for each object it walks the
// declared filter chain in dependency order, consults the object cache,
// dispatches uncached filters through the sandbox pool, commits results,
// and enforces the short-circuit/threshold rules (spec.md §4.D).
package ceval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/filterexec"
	"github.com/dvlop/opendiamond/internal/ocache"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// ErrCancelled is returned by Filters2 when continueCb reports the search
// has been cancelled mid-chain.
var ErrCancelled = errors.New("ceval: search cancelled")

// FilterSpec is one filter's static definition, compiled from a searchlet.
type FilterSpec struct {
	LibName   string
	Name      string
	Sig       sig.Sig128
	Threshold int32
	Deps      []string // names of filters that must run before this one
	Args      []string
	Blob      []byte
	Reads     []string // attribute names this filter declares it reads
}

// FilterChain is a topologically-sorted, dependency-ordered filter list —
// spec.md §4.D: "Filters are executed in the declared order (topologically
// sorted by deps beforehand)".
type FilterChain struct {
	Filters []FilterSpec
}

// BuildChain computes each filter's signature (if not already set) and
// returns the chain sorted so that every filter appears after its deps.
func BuildChain(specs []FilterSpec) (*FilterChain, error) {
	out := make([]FilterSpec, len(specs))
	copy(out, specs)
	for i := range out {
		if out[i].Sig == (sig.Sig128{}) {
			out[i].Sig = sig.OfFilter(out[i].LibName, out[i].Name, out[i].Args, out[i].Blob)
		}
	}

	sorted, err := topoSort(out)
	if err != nil {
		return nil, err
	}
	return &FilterChain{Filters: sorted}, nil
}

func topoSort(specs []FilterSpec) ([]FilterSpec, error) {
	byName := make(map[string]FilterSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	var out []FilterSpec
	visited := make(map[string]int) // 0=unvisited, 1=visiting, 2=done

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("ceval: dependency cycle at filter %q", name)
		}
		f, ok := byName[name]
		if !ok {
			return fmt.Errorf("ceval: unknown dependency %q", name)
		}
		visited[name] = 1
		for _, dep := range f.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[name] = 2
		out = append(out, f)
		return nil
	}

	for _, s := range specs {
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ProgressFunc is invoked once per filter, in order, reporting whether the
// object passed and how long the step took.
type ProgressFunc func(name string, pass bool, elapsed time.Duration)

// ContinueFunc is polled between filters; returning false aborts the walk
// (e.g. the search transitioned to SHUTDOWN).
type ContinueFunc func() bool

// State holds everything one evaluator thread needs to walk a filter chain
// against objects from one object disk.
type State struct {
	Chain *FilterChain
	Disk  odisk.Disk
	Cache *ocache.OCache
	Pool  *filterexec.Pool

	StatsDropFn    func()
	StatsProcessFn func()
}

// Filters1 is the pre-fetch pass: for each filter, probe the cache using
// only the attributes already known in snapshot, without issuing any of
// the declared-attribute reads Filters2 performs to run a filter for
// real. It reports skip=true as soon as a filter is a cache Hit below
// threshold, meaning the chain is already known to fail and the caller
// can drop the object without paying for Filters2's attribute reads and
// sandbox dispatch. A Miss or PartialHit never causes a skip: the filter
// might still pass once its declared attributes are actually read, so
// the object remains a candidate for the full pass.
func (s *State) Filters1(oid odisk.OID, snapshot attr.Snapshot, cb ProgressFunc) (skip bool, err error) {
	for _, f := range s.Chain.Filters {
		start := time.Now()

		fc, err := s.Cache.GetOrLoad(f.Sig)
		if err != nil {
			return false, fmt.Errorf("ceval: filters1: load cache for %q: %w", f.Name, err)
		}

		res := s.Cache.Lookup(fc, oid, snapshot)
		pass := true
		if res.Status == ocache.Hit {
			pass = res.Result >= f.Threshold
		}

		if cb != nil {
			cb(f.Name, pass, time.Since(start))
		}

		if res.Status == ocache.Hit && !pass {
			if s.StatsDropFn != nil {
				s.StatsDropFn()
			}
			return true, nil
		}
	}
	return false, nil
}

// Filters2 is the full evaluation pass over one object: walks the chain in
// order, consulting and populating the cache, short-circuiting on the
// first filter whose result falls below threshold.
func (s *State) Filters2(ctx context.Context, oid odisk.OID, obj *odisk.Object, snapshot attr.Snapshot, force bool, continueCb ContinueFunc, cb ProgressFunc) (pass bool, err error) {
	for _, f := range s.Chain.Filters {
		if continueCb != nil && !continueCb() {
			return false, ErrCancelled
		}

		start := time.Now()

		fc, err := s.Cache.GetOrLoad(f.Sig)
		if err != nil {
			return false, fmt.Errorf("ceval: filters2: load cache for %q: %w", f.Name, err)
		}

		inputs, iattrSnap, err := s.readDeclaredAttrs(obj, f.Reads, snapshot)
		if err != nil {
			return false, fmt.Errorf("ceval: filters2: read attrs for %q: %w", f.Name, err)
		}

		res, err := s.Cache.WaitLookup(ctx, fc, oid, iattrSnap)
		if err != nil {
			return false, fmt.Errorf("ceval: filters2: wait_lookup %q: %w", f.Name, err)
		}

		var result int32
		switch {
		case res.Status == ocache.Hit && !force:
			result = res.Result
		default:
			result, err = s.runFilter(ctx, fc, oid, f, inputs, obj)
			if err != nil {
				return false, err
			}
		}

		elapsed := time.Since(start)
		objPass := result >= f.Threshold
		if cb != nil {
			cb(f.Name, objPass, elapsed)
		}
		if !objPass {
			if s.StatsDropFn != nil {
				s.StatsDropFn()
			}
			return false, nil
		}
	}

	if s.StatsProcessFn != nil {
		s.StatsProcessFn()
	}
	return true, nil
}

// readDeclaredAttrs fetches (or reuses, from snapshot) the raw value and
// signature of every attribute name a filter declares it reads.
func (s *State) readDeclaredAttrs(obj *odisk.Object, names []string, snapshot attr.Snapshot) ([]attr.Attr, attr.Snapshot, error) {
	inputs := make([]attr.Attr, 0, len(names))
	iattrSnap := make(attr.Snapshot, len(names))

	for _, name := range names {
		val, err := s.Disk.GetAttr(obj, name)
		if errors.Is(err, odisk.ErrAttrMissing) {
			val = nil
		} else if err != nil {
			return nil, nil, err
		}
		a := attr.New(name, val)
		inputs = append(inputs, a)
		iattrSnap[name] = a.Sig
		if snapshot != nil {
			snapshot[name] = a.Sig
		}
	}
	return inputs, iattrSnap, nil
}

// runFilter dispatches a cache miss (or forced re-evaluation) through the
// sandbox pool, commits the result, and materializes output attributes
// back onto the object.
func (s *State) runFilter(ctx context.Context, fc *ocache.Fcache, oid odisk.OID, f FilterSpec, inputs []attr.Attr, obj *odisk.Object) (int32, error) {
	h, err := s.Cache.AddStart(fc, oid)
	if err != nil {
		return 0, fmt.Errorf("add_start: %w", err)
	}
	for _, in := range inputs {
		h.AddIattr(in)
	}

	encoded := EncodeInput(f.Args, inputs, f.Blob)
	out, runErr := s.Pool.Run(ctx, f.Name, f.Args, encoded)
	if runErr != nil {
		// Filter runtime failure: cache FilterErr so repeated evaluation is
		// avoided while this filter's binary (and thus its signature) is
		// unchanged (spec.md §7).
		if err := s.Cache.AddEnd(h, ocache.FilterErr); err != nil {
			return 0, err
		}
		return ocache.FilterErr, nil
	}

	score, oattrs, decErr := DecodeOutput(out)
	if decErr != nil {
		if err := s.Cache.AddEnd(h, ocache.FilterErr); err != nil {
			return 0, err
		}
		return ocache.FilterErr, nil
	}

	for _, oa := range oattrs {
		h.AddOattr(oa)
		if err := s.Disk.SetAttr(obj, oa.Name, oa.Sig, oa.Value); err != nil {
			return 0, fmt.Errorf("set_attr %q: %w", oa.Name, err)
		}
	}

	if err := s.Cache.AddEnd(h, score); err != nil {
		return 0, err
	}
	return score, nil
}
