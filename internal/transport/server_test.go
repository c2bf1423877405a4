package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
	"github.com/dvlop/opendiamond/internal/transport/diamondpb"
)

func newTestServer(t *testing.T) (*CoreServer, *search.Context) {
	t.Helper()
	disk := odisk.NewMemDisk([]odisk.OID{1, 2, 3})
	chain, err := ceval.BuildChain(nil)
	require.NoError(t, err)
	eval := &ceval.State{Chain: chain, Disk: disk}

	sctx := search.New("transport-test", disk, eval, search.WithPendWater(10, 8))
	return NewCoreServer(sctx, nil), sctx
}

func TestNewConnAllocatesAppCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	reply, err := srv.NewConn(context.Background(), &diamondpb.ConnRequest{Cookie: "device-1"})
	require.NoError(t, err)
	require.NotEmpty(t, reply.AppCookie)
}

// drainViaServer releases every object the server has delivered so far by
// walking the StreamObjects poll loop's underlying ReleaseObj path.
func drainViaServer(t *testing.T, srv *CoreServer, sctx *search.Context) {
	t.Helper()
	require.Eventually(t, func() bool {
		for {
			obj, ok := sctx.NextProc()
			if !ok {
				break
			}
			_, err := srv.ReleaseObj(context.Background(), &diamondpb.ReleaseObjRequest{Oid: uint64(obj.OID)})
			require.NoError(t, err)
		}
		return sctx.Status() == search.Empty
	}, time.Second, time.Millisecond)
}

func TestStartStopThroughServer(t *testing.T) {
	srv, sctx := newTestServer(t)
	_, err := srv.Start(context.Background(), &diamondpb.GenRequest{})
	require.NoError(t, err)

	drainViaServer(t, srv, sctx)

	_, err = srv.Stop(context.Background(), &diamondpb.GenRequest{Gen: sctx.Generation()})
	require.NoError(t, err)
	require.Equal(t, search.Idle, sctx.Status())
}

func TestStopRejectsStaleGeneration(t *testing.T) {
	srv, sctx := newTestServer(t)
	_, err := srv.Start(context.Background(), &diamondpb.GenRequest{})
	require.NoError(t, err)
	drainViaServer(t, srv, sctx)

	_, err = srv.Stop(context.Background(), &diamondpb.GenRequest{Gen: sctx.Generation() + 1})
	require.Error(t, err)
}

func TestGetStatsReportsPendCount(t *testing.T) {
	srv, sctx := newTestServer(t)
	_, err := srv.Start(context.Background(), &diamondpb.GenRequest{})
	require.NoError(t, err)

	drainViaServer(t, srv, sctx)

	reply, err := srv.GetStats(context.Background(), &diamondpb.StatsRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(0), reply.PendCount)
}

func TestSetSearchletReportsUnimplemented(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.SetSearchlet(context.Background(), &diamondpb.SearchletRequest{})
	require.Error(t, err)
}
