// Package iotap is an optional I/O-latency tap on the persistence thread:
// a kernel-side eBPF ring buffer consumer when compiled with real BPF
// objects, plus a direct in-process Record call (this environment cannot
// compile BPF, so Reader always runs in mock mode here — see NewReader).
// Nothing in internal/ocache calls Record, so in mock mode the tap
// produces no samples.
package iotap

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// Op identifies which persistence-thread operation an Event measures.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "WRITE"
	}
	return "READ"
}

// Event is one latency sample, matching the layout a kernel-side probe
// would emit: u32 oid_hash, u32 op, u32 latency_ns, u32 len.
type Event struct {
	OIDHash   uint32
	Op        Op
	LatencyNS uint32
	Len       uint32
}

// Sink receives latency samples, from either the real ring-buffer consumer
// or a direct in-process Record call.
type Sink func(Event)

// Reader wraps a cilium/ebpf ring buffer reader bound to the persistence
// thread's latency map. When ring is nil (this build never loads a real
// BPF object) Start only logs that it is running in mock mode, and sink
// receives only the samples callers pass to Record directly.
type Reader struct {
	ring *ringbuf.Reader
	sink Sink
}

// NewReader prepares a Reader bound to sink. RemoveMemlock is still
// required even in mock mode since it is the first thing any real
// attach path would need and this keeps the two paths' preconditions
// identical.
func NewReader(sink Sink) (*Reader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("iotap: remove memlock: %w", err)
	}

	// A real build loads the compiled BPF object here (bpf2go-generated
	// loader) and opens its ring buffer map. This environment cannot
	// compile BPF, so Reader.ring stays nil and Start runs in mock mode.
	return &Reader{sink: sink}, nil
}

// Start runs the ring-buffer consume loop in its own goroutine. In mock
// mode (no BPF object attached) it logs and returns immediately; sink then
// receives only samples passed to Record directly.
func (r *Reader) Start() {
	if r.ring == nil {
		slog.Info("iotap: no BPF ring buffer attached, running in mock mode")
		return
	}

	go func() {
		for {
			record, err := r.ring.Read()
			if err != nil {
				if err == ringbuf.ErrClosed {
					return
				}
				slog.Warn("iotap: ring buffer read error", "error", err)
				continue
			}
			if len(record.RawSample) < 16 {
				continue
			}

			ev := Event{
				OIDHash:   binary.LittleEndian.Uint32(record.RawSample[0:4]),
				Op:        Op(binary.LittleEndian.Uint32(record.RawSample[4:8])),
				LatencyNS: binary.LittleEndian.Uint32(record.RawSample[8:12]),
				Len:       binary.LittleEndian.Uint32(record.RawSample[12:16]),
			}
			r.sink(ev)
		}
	}()
}

// Close releases the underlying ring buffer, if one was ever attached.
func (r *Reader) Close() error {
	if r.ring == nil {
		return nil
	}
	return r.ring.Close()
}

// Record lets a caller report a latency sample to sink directly, without
// the kernel tap. Nothing in internal/ocache calls it; the dctl tests do.
// oidHash is a caller-chosen stable hash of the object
// id (FNV-1a of its decimal form is fine; iotap does not care how it was
// derived).
func Record(sink Sink, oidHash uint32, op Op, dur time.Duration, length int) {
	sink(Event{OIDHash: oidHash, Op: op, LatencyNS: uint32(dur.Nanoseconds()), Len: uint32(length)})
}
