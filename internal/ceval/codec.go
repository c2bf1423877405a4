package ceval

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dvlop/opendiamond/internal/attr"
)

// EncodeInput builds the bytes written to a filter's stdin: its declared
// arguments, the input attributes it asked to read (name, signature, raw
// value), and its opaque blob. This is the wire format internal/filterexec
// backends deliver to the filter-runner entrypoint.
func EncodeInput(args []string, inputs []attr.Attr, blob []byte) []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(args)))
	for _, a := range args {
		writeString(&buf, a)
	}
	writeU32(&buf, uint32(len(inputs)))
	for _, in := range inputs {
		writeString(&buf, in.Name)
		buf.Write(in.Sig[:])
		writeU32(&buf, uint32(len(in.Value)))
		buf.Write(in.Value)
	}
	writeU32(&buf, uint32(len(blob)))
	buf.Write(blob)
	return buf.Bytes()
}

// DecodeOutput parses a filter's stdout: a signed score followed by the
// output attributes it produced. Attribute signatures are recomputed from
// the raw value on decode, matching how a real filter binary would only
// ever emit values, never signatures, on the wire.
func DecodeOutput(b []byte) (score int32, oattrs []attr.Attr, err error) {
	r := bytes.NewReader(b)

	var rawScore [4]byte
	if _, err := io.ReadFull(r, rawScore[:]); err != nil {
		return 0, nil, fmt.Errorf("ceval: decode score: %w", err)
	}
	score = int32(binary.BigEndian.Uint32(rawScore[:]))

	count, err := readU32(r)
	if err != nil {
		return 0, nil, fmt.Errorf("ceval: decode oattr count: %w", err)
	}
	oattrs = make([]attr.Attr, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return 0, nil, fmt.Errorf("ceval: decode oattr name: %w", err)
		}
		n, err := readU32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("ceval: decode oattr value length: %w", err)
		}
		val := make([]byte, n)
		if _, err := io.ReadFull(r, val); err != nil {
			return 0, nil, fmt.Errorf("ceval: decode oattr value: %w", err)
		}
		oattrs = append(oattrs, attr.New(name, val))
	}
	return score, oattrs, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
