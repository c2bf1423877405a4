// Package transport exposes a search.Context over the network: a gRPC
// command/data channel for the transport API of spec.md section 6.1/6.2,
// and a websocket channel (preview_hub.go) for streaming in-progress
// partial evaluation previews to a dashboard-style client.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/dvlop/opendiamond/internal/identity"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
	"github.com/dvlop/opendiamond/internal/transport/diamondpb"
)

// CoreServer adapts one search.Context to the diamondpb.DiamondCoreServer
// contract: every RPC either validates the caller's generation against the
// context's current one or mutates/reads the context directly.
type CoreServer struct {
	diamondpb.UnimplementedDiamondCoreServer

	searchCtx *search.Context
	identity  *identity.SPIFFEVerifier

	mu      sync.RWMutex
	devices map[string]*search.DeviceHandle // app_cookie -> device
}

// NewCoreServer wraps ctx for a single device's connections. One CoreServer
// per search, matching cmd/adiskd's one-search-at-a-time device daemon
// model. identityVerifier is optional; when set, NewConn rejects a device
// whose presented SPIFFE ID doesn't name the cookie it connected under.
func NewCoreServer(ctx *search.Context, identityVerifier *identity.SPIFFEVerifier) *CoreServer {
	return &CoreServer{searchCtx: ctx, identity: identityVerifier, devices: make(map[string]*search.DeviceHandle)}
}

func (s *CoreServer) checkGen(gen uint64) error {
	if gen != s.searchCtx.Generation() {
		return status.Errorf(codes.FailedPrecondition, "%v: have %d, context is at %d", search.ErrStaleGeneration, gen, s.searchCtx.Generation())
	}
	return nil
}

func (s *CoreServer) NewConn(_ context.Context, req *diamondpb.ConnRequest) (*diamondpb.ConnReply, error) {
	if s.identity != nil && req.SpiffeID != "" {
		hash, err := s.identity.VerifySVID(req.Cookie, req.SpiffeID)
		if err != nil {
			return nil, status.Errorf(codes.PermissionDenied, "new_conn: %v", err)
		}
		slog.Info("transport: device identity verified", "cookie", req.Cookie, "svid_hash", hash)
	}

	appCookie := uuid.NewString()
	dev := s.searchCtx.Device(req.Cookie)

	s.mu.Lock()
	s.devices[appCookie] = dev
	s.mu.Unlock()

	return &diamondpb.ConnReply{AppCookie: appCookie}, nil
}

func (s *CoreServer) CloseConn(_ context.Context, req *diamondpb.ConnReply) (*diamondpb.Ack, error) {
	s.mu.Lock()
	delete(s.devices, req.AppCookie)
	s.mu.Unlock()
	return &diamondpb.Ack{}, nil
}

func (s *CoreServer) Start(ctx context.Context, req *diamondpb.GenRequest) (*diamondpb.Ack, error) {
	if err := s.searchCtx.Start(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "start: %v", err)
	}
	return &diamondpb.Ack{}, nil
}

func (s *CoreServer) Stop(_ context.Context, req *diamondpb.GenRequest) (*diamondpb.Ack, error) {
	if err := s.checkGen(req.Gen); err != nil {
		return nil, err
	}
	if err := s.searchCtx.Stop(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "stop: %v", err)
	}
	return &diamondpb.Ack{}, nil
}

func (s *CoreServer) Term(_ context.Context, req *diamondpb.GenRequest) (*diamondpb.Ack, error) {
	if err := s.searchCtx.Term(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "term: %v", err)
	}
	return &diamondpb.Ack{}, nil
}

// SetSearchlet has no searchlet compiler behind it: decoding
// FilterBlob/SpecBlob into []ceval.FilterSpec requires a parser this
// package does not build. It always returns codes.Unimplemented and leaves
// the context's state unchanged.
func (s *CoreServer) SetSearchlet(_ context.Context, req *diamondpb.SearchletRequest) (*diamondpb.Ack, error) {
	return nil, status.Error(codes.Unimplemented, "set_searchlet: no searchlet compiler wired yet")
}

func (s *CoreServer) SetList(_ context.Context, req *diamondpb.GenRequest) (*diamondpb.Ack, error) {
	if err := s.searchCtx.SetList(); err != nil {
		return nil, status.Errorf(codes.Internal, "set_list: %v", err)
	}
	return &diamondpb.Ack{}, nil
}

func (s *CoreServer) ReleaseObj(_ context.Context, req *diamondpb.ReleaseObjRequest) (*diamondpb.Ack, error) {
	s.searchCtx.ReleaseObj(&odisk.Object{OID: odisk.OID(req.Oid)})
	return &diamondpb.Ack{}, nil
}

func (s *CoreServer) GetStats(_ context.Context, req *diamondpb.StatsRequest) (*diamondpb.StatsReply, error) {
	reply := &diamondpb.StatsReply{
		PendCount: int64(s.searchCtx.PendCount()),
		Drate:     s.searchCtx.ProcRing.Drate(),
	}
	if cache := s.searchCtx.Eval.Cache; cache != nil {
		reply.HitRate = cache.HitRate()
	}
	return reply, nil
}

func (s *CoreServer) GetChar(_ context.Context, req *diamondpb.CharRequest) (*diamondpb.CharReply, error) {
	return &diamondpb.CharReply{Attrs: map[string]string{
		"status":     s.searchCtx.Status().String(),
		"generation": fmt.Sprintf("%d", s.searchCtx.Generation()),
	}}, nil
}

// streamPollInterval governs how often StreamObjects checks proc_ring when
// it finds nothing waiting; this is the data-channel analogue of
// internal/search's pollInterval.
const streamPollInterval = 5 * time.Millisecond

func (s *CoreServer) StreamObjects(req *diamondpb.GenRequest, stream diamondpb.DiamondCore_StreamObjectsServer) error {
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		default:
		}

		obj, ok := s.searchCtx.NextProc()
		if !ok {
			if s.searchCtx.Status() == search.Shutdown {
				return nil
			}
			time.Sleep(streamPollInterval)
			continue
		}

		chunk := &diamondpb.ObjectChunk{Oid: uint64(obj.OID), Complete: true, Ver: s.searchCtx.Generation()}
		if err := stream.Send(chunk); err != nil {
			return status.Errorf(codes.Unavailable, "stream send: %v", err)
		}
	}
}

// Serve starts a gRPC listener on addr. identityVerifier is optional; when
// present its mTLS config (SPIFFE-backed connection identity) secures the
// listener instead of plaintext.
func Serve(addr string, core *CoreServer, identityVerifier *identity.SPIFFEVerifier) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	var opts []grpc.ServerOption
	if identityVerifier != nil {
		tlsConf, err := identityVerifier.GetTLSConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("transport: spiffe tls config: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConf)))
	}

	srv := grpc.NewServer(opts...)
	// The DiamondCore service is not registered on srv (diamondpb has no
	// generated RegisterDiamondCoreServer), so core's methods are reachable
	// only by in-process callers.
	_ = core

	slog.Info("transport: gRPC listener ready", "addr", addr)
	go func() {
		if err := srv.Serve(lis); err != nil {
			slog.Warn("transport: gRPC server stopped", "error", err)
		}
	}()

	return srv, lis, nil
}
