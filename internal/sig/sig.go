// Package sig implements the 128-bit content signatures used throughout the
// core to identify filters, attribute values, and input-attribute contexts.
package sig

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a signature.
const Size = 16

// Sig128 is an opaque 128-bit content digest. Two signatures are equal iff
// their bytes are equal; there is no other notion of identity for a filter
// or an attribute value.
type Sig128 [Size]byte

// Zero reports whether s is the all-zero signature (used as a sentinel for
// "no signature computed yet").
func (s Sig128) Zero() bool {
	return s == Sig128{}
}

// String renders the signature as lowercase hex, matching the on-disk
// directory naming convention hex(fsig)/hex(oid).
func (s Sig128) String() string {
	return hex.EncodeToString(s[:])
}

// Less gives signatures a total order so they can be used as sorted map
// keys (e.g. when canonicalizing an AttrSet before hashing it).
func (s Sig128) Less(o Sig128) bool {
	for i := range s {
		if s[i] != o[i] {
			return s[i] < o[i]
		}
	}
	return false
}

// Of digests an arbitrary byte buffer.
func Of(buf []byte) Sig128 {
	return digest(buf)
}

// OfFilter digests the (library name, filter name, ordered argument list,
// optional blob) tuple that identifies a filter. Because the blob (the
// filter's own binary) is included, two filters with the same name and args
// but different code never collide.
func OfFilter(libName, filterName string, args []string, blob []byte) Sig128 {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic(err) // Size <= 64, New never errors for a valid size
	}
	writeLenPrefixed(h, []byte(libName))
	writeLenPrefixed(h, []byte(filterName))
	var nargs [4]byte
	binary.BigEndian.PutUint32(nargs[:], uint32(len(args)))
	h.Write(nargs[:])
	for _, a := range args {
		writeLenPrefixed(h, []byte(a))
	}
	writeLenPrefixed(h, blob)
	var out Sig128
	copy(out[:], h.Sum(nil))
	return out
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func digest(buf []byte) Sig128 {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic(err)
	}
	h.Write(buf)
	var out Sig128
	copy(out[:], h.Sum(nil))
	return out
}

// NamedSig pairs an attribute name with its signature; canonical sorting of
// a list of NamedSigs is what makes an iattr_sig reproducible regardless of
// the order attributes were read in.
type NamedSig struct {
	Name string
	Sig  Sig128
}

// CanonicalDigest computes the signature of a sorted (by name, then sig
// bytes) sequence of (name, sig) pairs — used for ObjectRecord.IattrSig.
func CanonicalDigest(entries []NamedSig) Sig128 {
	sorted := make([]NamedSig, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Sig.Less(sorted[j].Sig)
	})
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic(err)
	}
	for _, e := range sorted {
		writeLenPrefixed(h, []byte(e.Name))
		h.Write(e.Sig[:])
	}
	var out Sig128
	copy(out[:], h.Sum(nil))
	return out
}
