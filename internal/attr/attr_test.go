package attr

import (
	"testing"

	"github.com/dvlop/opendiamond/internal/sig"
)

func TestSetEqualityIgnoresOrder(t *testing.T) {
	a := NewSet(New("color", []byte("red")), New("shape", []byte("sq")))
	b := NewSet(New("shape", []byte("sq")), New("color", []byte("red")))
	if !a.Equal(b) {
		t.Fatalf("sets with same entries in different order should be equal")
	}
}

func TestSubsetOfRule(t *testing.T) {
	s := NewSet(New("color", []byte("red")))
	snap := Snapshot{"color": sig.Of([]byte("red")), "shape": sig.Of([]byte("sq"))}
	if !s.SubsetOf(snap) {
		t.Fatalf("expected subset hit")
	}
	snap["color"] = sig.Of([]byte("blue"))
	if s.SubsetOf(snap) {
		t.Fatalf("expected miss after attribute changed")
	}
}

func TestSubsetOfMissingAttr(t *testing.T) {
	s := NewSet(New("color", []byte("red")))
	snap := Snapshot{}
	if s.SubsetOf(snap) {
		t.Fatalf("missing attribute must not be a hit")
	}
}

func TestChanged(t *testing.T) {
	s := NewSet(New("color", []byte("red")), New("shape", []byte("sq")))
	snap := Snapshot{"color": sig.Of([]byte("blue")), "shape": sig.Of([]byte("sq"))}
	changed := s.Changed(snap)
	if len(changed) != 1 || changed[0] != "color" {
		t.Fatalf("expected only color to be reported changed, got %v", changed)
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := NewSet(New("color", []byte("red")), New("shape", []byte("sq")))
	b := NewSet(New("shape", []byte("sq")), New("color", []byte("red")))
	if a.Digest() != b.Digest() {
		t.Fatalf("digest should not depend on insertion order")
	}
}
