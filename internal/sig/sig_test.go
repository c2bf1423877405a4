package sig

import "testing"

func TestOfDeterministic(t *testing.T) {
	a := Of([]byte("color=red"))
	b := Of([]byte("color=red"))
	if a != b {
		t.Fatalf("Of not deterministic: %v != %v", a, b)
	}
}

func TestOfDistinguishesBytes(t *testing.T) {
	a := Of([]byte("color=red"))
	b := Of([]byte("color=blue"))
	if a == b {
		t.Fatalf("distinct buffers collided")
	}
}

func TestOfFilterIncludesBlob(t *testing.T) {
	a := OfFilter("libfil", "skin", []string{"threshold=10"}, []byte{0x01, 0x02})
	b := OfFilter("libfil", "skin", []string{"threshold=10"}, []byte{0x01, 0x03})
	if a == b {
		t.Fatalf("filter signature ignored blob contents")
	}
}

func TestCanonicalDigestOrderIndependent(t *testing.T) {
	e1 := []NamedSig{{Name: "color", Sig: Of([]byte("red"))}, {Name: "shape", Sig: Of([]byte("square"))}}
	e2 := []NamedSig{{Name: "shape", Sig: Of([]byte("square"))}, {Name: "color", Sig: Of([]byte("red"))}}
	if CanonicalDigest(e1) != CanonicalDigest(e2) {
		t.Fatalf("canonical digest depends on input order")
	}
}

func TestZero(t *testing.T) {
	var s Sig128
	if !s.Zero() {
		t.Fatalf("zero-value Sig128 should report Zero()")
	}
	if Of([]byte("x")).Zero() {
		t.Fatalf("non-zero digest reported Zero()")
	}
}
