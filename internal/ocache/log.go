package ocache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvlop/opendiamond/internal/attr"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/sig"
)

// cacheLog is the append-only on-disk mirror of one Fcache's table:
// length-prefixed records "[u32 len][payload][u32 crc]" under
// <root>/<hex(fsig)>/cache.log, per spec.md §6.3. Each record is MAC'd by a
// running checksum (crc32 IEEE over the payload); a checksum mismatch on
// reload truncates the tail rather than erroring.
type cacheLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openCacheLog(dir string) (*cacheLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ocache: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "cache.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ocache: open %s: %w", path, err)
	}
	return &cacheLog{path: path, f: f}, nil
}

// Append writes one record and fsyncs so that, once Append returns, the
// record survives a crash (spec.md invariant 6, durability).
func (l *cacheLog) Append(rec *ObjectRecord) error {
	payload := encodeRecord(rec)
	crc := crc32.ChecksumIEEE(payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := l.f.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := l.f.Write(payload); err != nil {
		return err
	}
	var tail [4]byte
	binary.BigEndian.PutUint32(tail[:], crc)
	if _, err := l.f.Write(tail[:]); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *cacheLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// reload scans the log from the start, rebuilding the hash table. A
// truncated or corrupt trailing record is discarded; everything before it
// is kept, and reload never returns an error for that reason (spec.md §7,
// "cache corruption").
func reload(dir string) (map[key][]*ObjectRecord, int64, error) {
	path := filepath.Join(dir, "cache.log")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return make(map[key][]*ObjectRecord), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	table := make(map[key][]*ObjectRecord)
	r := bufio.NewReader(f)
	var offset int64

	for {
		var hdr [4]byte
		n, err := io.ReadFull(r, hdr[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			break // partial header: truncate here
		}
		length := binary.BigEndian.Uint32(hdr[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // truncated payload: discard
		}
		var tail [4]byte
		if _, err := io.ReadFull(r, tail[:]); err != nil {
			break
		}
		wantCRC := binary.BigEndian.Uint32(tail[:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // checksum mismatch: stop here, discard this record
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			break
		}
		offset += int64(4 + len(payload) + 4)
		k := key{OID: rec.OID}
		table[k] = append(table[k], rec)
	}
	return table, offset, nil
}

func encodeRecord(rec *ObjectRecord) []byte {
	var buf bytes.Buffer
	writeU64(&buf, uint64(rec.OID))
	buf.Write(rec.IattrSig[:])
	writeI32(&buf, rec.Result)
	writeAttrSet(&buf, rec.Iattr)
	writeAttrSet(&buf, rec.Oattr)
	writeU64(&buf, rec.EvalCount)
	writeU64(&buf, rec.HitCount)
	return buf.Bytes()
}

func decodeRecord(b []byte) (*ObjectRecord, error) {
	r := bytes.NewReader(b)
	oid, err := readU64(r)
	if err != nil {
		return nil, err
	}
	var iattrSig sig.Sig128
	if _, err := io.ReadFull(r, iattrSig[:]); err != nil {
		return nil, err
	}
	result, err := readI32(r)
	if err != nil {
		return nil, err
	}
	iattr, err := readAttrSet(r)
	if err != nil {
		return nil, err
	}
	oattr, err := readAttrSet(r)
	if err != nil {
		return nil, err
	}
	evalCount, err := readU64(r)
	if err != nil {
		return nil, err
	}
	hitCount, err := readU64(r)
	if err != nil {
		return nil, err
	}
	return &ObjectRecord{
		OID:       odisk.OID(oid),
		IattrSig:  iattrSig,
		Result:    result,
		Iattr:     iattr,
		Oattr:     oattr,
		EvalCount: evalCount,
		HitCount:  hitCount,
	}, nil
}

func writeAttrSet(buf *bytes.Buffer, s *attr.AttrSet) {
	entries := s.Entries()
	writeU32(buf, uint32(len(entries)))
	for _, e := range entries {
		writeString(buf, e.Name)
		buf.Write(e.Sig[:])
	}
}

func readAttrSet(r *bytes.Reader) (*attr.AttrSet, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	s := &attr.AttrSet{}
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var digest sig.Sig128
		if _, err := io.ReadFull(r, digest[:]); err != nil {
			return nil, err
		}
		s.Add(name, digest)
	}
	return s, nil
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

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func readI32(r *bytes.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}
