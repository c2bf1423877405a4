// Package diamondpb holds the wire message types and service interfaces for
// the core's gRPC command/data channel. These are placeholder types until
// protobuf is compiled: a real deployment replaces this package with
// protoc-gen-go/protoc-gen-go-grpc output from a .proto tracking the same
// field shapes, at which point callers in internal/transport do not change.
package diamondpb

// ConnRequest opens a connection on behalf of a device, mirroring
// new_conn(cookie). SpiffeID is the caller-presented SPIFFE ID for this
// device, checked against the cookie when the server runs with a SPIFFE
// verifier; callers that don't participate in the mesh leave it empty.
type ConnRequest struct {
	Cookie   string
	SpiffeID string
}

// ConnReply carries the app_cookie the core allocated for the connection.
type ConnReply struct {
	AppCookie string
}

// GenRequest is the shape shared by start/stop/term/set_list: an
// app_cookie plus the generation the caller believes is current.
type GenRequest struct {
	AppCookie string
	Gen       uint64
}

// Ack is the empty success response for commands that return nothing.
type Ack struct{}

// SearchletRequest carries a compiled filter chain and its originating
// spec, for set_searchlet.
type SearchletRequest struct {
	AppCookie  string
	Gen        uint64
	FilterBlob []byte
	SpecBlob   []byte
}

// ReleaseObjRequest names the object being returned to the store.
type ReleaseObjRequest struct {
	AppCookie string
	Oid       uint64
}

// StatsRequest asks for the current pipeline counters for one search.
type StatsRequest struct {
	AppCookie string
	Gen       uint64
}

// StatsReply mirrors the dctl pipeline leaves relevant to one search.
type StatsReply struct {
	PendCount int64
	HitRate   float64
	Drate     float64
}

// CharRequest asks for device characteristics (get_char).
type CharRequest struct {
	AppCookie string
	Gen       uint64
}

// CharReply is a free-form device characteristic bag.
type CharReply struct {
	Attrs map[string]string
}

// ObjectChunk is one object delivered on the server-streamed data channel:
// either a fully evaluated object (Complete) or a partial preview streamed
// mid-evaluation, distinguished the same way spec.md's proc/partial rings
// are.
type ObjectChunk struct {
	Oid      uint64
	Attrs    map[string][]byte
	Complete bool
	Ver      uint64
}
