package diamondpb

import (
	"context"

	"google.golang.org/grpc"
)

// DiamondCoreServer is the command/data channel the transport exposes on
// behalf of one device's core: the commands of spec.md section 6.1 plus
// the server-streamed object delivery of section 6.2.
type DiamondCoreServer interface {
	NewConn(context.Context, *ConnRequest) (*ConnReply, error)
	CloseConn(context.Context, *ConnReply) (*Ack, error)
	Start(context.Context, *GenRequest) (*Ack, error)
	Stop(context.Context, *GenRequest) (*Ack, error)
	Term(context.Context, *GenRequest) (*Ack, error)
	SetSearchlet(context.Context, *SearchletRequest) (*Ack, error)
	SetList(context.Context, *GenRequest) (*Ack, error)
	ReleaseObj(context.Context, *ReleaseObjRequest) (*Ack, error)
	GetStats(context.Context, *StatsRequest) (*StatsReply, error)
	GetChar(context.Context, *CharRequest) (*CharReply, error)
	StreamObjects(*GenRequest, DiamondCore_StreamObjectsServer) error
}

// DiamondCore_StreamObjectsServer is the server side of the object delivery
// stream: one ObjectChunk per send_obj/flush_objs event.
type DiamondCore_StreamObjectsServer interface {
	Send(*ObjectChunk) error
	grpc.ServerStream
}

// UnimplementedDiamondCoreServer can be embedded to satisfy
// DiamondCoreServer while only overriding the methods a given core cares
// about, matching grpc-go's generated "forward compatibility" shim.
type UnimplementedDiamondCoreServer struct{}

func (UnimplementedDiamondCoreServer) NewConn(context.Context, *ConnRequest) (*ConnReply, error) {
	return nil, errUnimplemented("NewConn")
}
func (UnimplementedDiamondCoreServer) CloseConn(context.Context, *ConnReply) (*Ack, error) {
	return nil, errUnimplemented("CloseConn")
}
func (UnimplementedDiamondCoreServer) Start(context.Context, *GenRequest) (*Ack, error) {
	return nil, errUnimplemented("Start")
}
func (UnimplementedDiamondCoreServer) Stop(context.Context, *GenRequest) (*Ack, error) {
	return nil, errUnimplemented("Stop")
}
func (UnimplementedDiamondCoreServer) Term(context.Context, *GenRequest) (*Ack, error) {
	return nil, errUnimplemented("Term")
}
func (UnimplementedDiamondCoreServer) SetSearchlet(context.Context, *SearchletRequest) (*Ack, error) {
	return nil, errUnimplemented("SetSearchlet")
}
func (UnimplementedDiamondCoreServer) SetList(context.Context, *GenRequest) (*Ack, error) {
	return nil, errUnimplemented("SetList")
}
func (UnimplementedDiamondCoreServer) ReleaseObj(context.Context, *ReleaseObjRequest) (*Ack, error) {
	return nil, errUnimplemented("ReleaseObj")
}
func (UnimplementedDiamondCoreServer) GetStats(context.Context, *StatsRequest) (*StatsReply, error) {
	return nil, errUnimplemented("GetStats")
}
func (UnimplementedDiamondCoreServer) GetChar(context.Context, *CharRequest) (*CharReply, error) {
	return nil, errUnimplemented("GetChar")
}
func (UnimplementedDiamondCoreServer) StreamObjects(*GenRequest, DiamondCore_StreamObjectsServer) error {
	return errUnimplemented("StreamObjects")
}

func errUnimplemented(method string) error {
	return &unimplementedError{method: method}
}

type unimplementedError struct{ method string }

func (e *unimplementedError) Error() string {
	return "diamondpb: method " + e.method + " not implemented"
}

// DiamondCoreClient is the client side of the same channel.
type DiamondCoreClient interface {
	NewConn(ctx context.Context, in *ConnRequest, opts ...grpc.CallOption) (*ConnReply, error)
	CloseConn(ctx context.Context, in *ConnReply, opts ...grpc.CallOption) (*Ack, error)
	Start(ctx context.Context, in *GenRequest, opts ...grpc.CallOption) (*Ack, error)
	Stop(ctx context.Context, in *GenRequest, opts ...grpc.CallOption) (*Ack, error)
	Term(ctx context.Context, in *GenRequest, opts ...grpc.CallOption) (*Ack, error)
	SetSearchlet(ctx context.Context, in *SearchletRequest, opts ...grpc.CallOption) (*Ack, error)
	SetList(ctx context.Context, in *GenRequest, opts ...grpc.CallOption) (*Ack, error)
	ReleaseObj(ctx context.Context, in *ReleaseObjRequest, opts ...grpc.CallOption) (*Ack, error)
	GetStats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsReply, error)
	GetChar(ctx context.Context, in *CharRequest, opts ...grpc.CallOption) (*CharReply, error)
	StreamObjects(ctx context.Context, in *GenRequest, opts ...grpc.CallOption) (DiamondCore_StreamObjectsClient, error)
}

// DiamondCore_StreamObjectsClient is the client side of the object stream.
type DiamondCore_StreamObjectsClient interface {
	Recv() (*ObjectChunk, error)
	grpc.ClientStream
}

// NewDiamondCoreClient returns nil: this placeholder package has no
// generated client stub. Callers in this module call internal/transport's
// CoreServer methods directly in the same process.
func NewDiamondCoreClient(conn *grpc.ClientConn) DiamondCoreClient {
	return nil
}
