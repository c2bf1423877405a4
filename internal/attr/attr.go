// Package attr implements named, signature-addressed binary attributes on
// objects, and the sets of attributes that filters declare as inputs and
// outputs.
package attr

import (
	"sort"

	"github.com/dvlop/opendiamond/internal/sig"
)

// Attr is a named binary attribute. Sig is the digest of Value and is
// authoritative for identity comparisons; Value may be absent when only the
// signature is known (e.g. an entry loaded from the cache log before its
// out-of-line payload has been fetched).
type Attr struct {
	Name  string
	Sig   sig.Sig128
	Value []byte
}

// New builds an Attr, computing Sig from value.
func New(name string, value []byte) Attr {
	return Attr{Name: name, Sig: sig.Of(value), Value: value}
}

// Entry is the (name, sig) pair recorded in an AttrSet — the value itself is
// not part of set identity.
type Entry struct {
	Name string
	Sig  sig.Sig128
}

// AttrSet is an unordered set of (name, sig) entries: the set of attributes
// a filter read (its input set) or wrote (its output set). Set equality is
// by the multiset of entries, not by insertion order.
type AttrSet struct {
	entries []Entry
}

// NewSet builds an AttrSet from a slice of Attr, keeping only (name, sig).
func NewSet(attrs ...Attr) *AttrSet {
	s := &AttrSet{}
	for _, a := range attrs {
		s.Add(a.Name, a.Sig)
	}
	return s
}

// Add inserts (or overwrites, if name already present) an entry.
func (s *AttrSet) Add(name string, digest sig.Sig128) {
	for i := range s.entries {
		if s.entries[i].Name == name {
			s.entries[i].Sig = digest
			return
		}
	}
	s.entries = append(s.entries, Entry{Name: name, Sig: digest})
}

// Entries returns the set's entries in canonical (sorted-by-name) order.
func (s *AttrSet) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Sig.Less(out[j].Sig)
	})
	return out
}

// Len returns the number of entries.
func (s *AttrSet) Len() int { return len(s.entries) }

// Lookup returns the signature recorded for name, if present.
func (s *AttrSet) Lookup(name string) (sig.Sig128, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e.Sig, true
		}
	}
	return sig.Sig128{}, false
}

// Equal reports whether s and o contain the same multiset of entries.
func (s *AttrSet) Equal(o *AttrSet) bool {
	if s.Len() != o.Len() {
		return false
	}
	a, b := s.Entries(), o.Entries()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Digest computes the canonical Sig128 of the set's entries, used as
// ObjectRecord.IattrSig.
func (s *AttrSet) Digest() sig.Sig128 {
	entries := s.Entries()
	ns := make([]sig.NamedSig, len(entries))
	for i, e := range entries {
		ns[i] = sig.NamedSig{Name: e.Name, Sig: e.Sig}
	}
	return sig.CanonicalDigest(ns)
}

// Snapshot is the current set of named attributes on an object at the time
// a filter is about to consult them — used to check the subset-hit rule.
type Snapshot map[string]sig.Sig128

// SubsetOf reports whether every entry in s has a matching signature in
// snapshot. This implements the cache "subset hit rule": a recorded iattr
// set is a hit iff it is a subset of the object's current attributes and
// every shared attribute's signature matches.
func (s *AttrSet) SubsetOf(snapshot Snapshot) bool {
	for _, e := range s.entries {
		cur, ok := snapshot[e.Name]
		if !ok || cur != e.Sig {
			return false
		}
	}
	return true
}

// Changed returns the names in s whose signature differs from (or is
// missing from) snapshot — used to narrow wait_lookup's changed_attrs hint.
func (s *AttrSet) Changed(snapshot Snapshot) []string {
	var out []string
	for _, e := range s.entries {
		if cur, ok := snapshot[e.Name]; !ok || cur != e.Sig {
			out = append(out, e.Name)
		}
	}
	return out
}
