package dctl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvlop/opendiamond/internal/iotap"
)

func TestTreeReadWriteRoundTrip(t *testing.T) {
	tree := NewTree()
	var stored uint32

	err := tree.RegisterLeaf("pipeline/pend_count", TypeUint32,
		func() ([]byte, error) { return EncodeUint32(stored), nil },
		func(b []byte) error {
			v, err := DecodeUint32(b)
			if err != nil {
				return err
			}
			stored = v
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, tree.WriteLeaf("pipeline/pend_count", EncodeUint32(42)))

	typ, val, err := tree.ReadLeaf("pipeline/pend_count")
	require.NoError(t, err)
	require.Equal(t, TypeUint32, typ)
	got, err := DecodeUint32(val)
	require.NoError(t, err)
	require.Equal(t, uint32(42), got)
}

func TestTreeReadOnlyLeafRejectsWrite(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.RegisterLeaf("search/status", TypeString, func() ([]byte, error) {
		return EncodeString("IDLE"), nil
	}, nil))

	err := tree.WriteLeaf("search/status", EncodeString("ACTIVE"))
	require.Error(t, err)
}

func TestTreeListNodesAndLeafs(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.RegisterLeaf("filter/face/eval_count", TypeUint64, func() ([]byte, error) {
		return EncodeUint64(0), nil
	}, nil))
	require.NoError(t, tree.RegisterLeaf("filter/face/hit_count", TypeUint64, func() ([]byte, error) {
		return EncodeUint64(0), nil
	}, nil))
	require.NoError(t, tree.RegisterLeaf("filter/color/eval_count", TypeUint64, func() ([]byte, error) {
		return EncodeUint64(0), nil
	}, nil))

	nodes, err := tree.ListNodes("filter")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	leafs, err := tree.ListLeafs("filter/face")
	require.NoError(t, err)
	require.Len(t, leafs, 2)
}

func TestServerRoundTripOverSocket(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.RegisterLeaf("cache/hit_rate", TypeFloat64, func() ([]byte, error) {
		return EncodeFloat64(0.75), nil
	}, nil))

	sock := filepath.Join(t.TempDir(), "dctl.sock")
	srv, err := Listen(sock, tree)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	typ, val, err := client.ReadLeaf("cache/hit_rate")
	require.NoError(t, err)
	require.Equal(t, TypeFloat64, typ)
	got, err := DecodeFloat64(val)
	require.NoError(t, err)
	require.InDelta(t, 0.75, got, 0.0001)
}

func TestRegisterIOTapExposesMeanLatency(t *testing.T) {
	tree := NewTree()
	agg := iotap.NewAggregator()
	iotap.Record(agg.Sink, 1, iotap.OpRead, 10*time.Millisecond, 4096)
	iotap.Record(agg.Sink, 1, iotap.OpRead, 20*time.Millisecond, 4096)

	require.NoError(t, RegisterIOTap(tree, agg))

	_, val, err := tree.ReadLeaf("io/read_latency_ns")
	require.NoError(t, err)
	got, err := DecodeFloat64(val)
	require.NoError(t, err)
	require.InDelta(t, float64(15*time.Millisecond), got, 1)
}

func TestClientReadLeafNoSuchPath(t *testing.T) {
	tree := NewTree()
	sock := filepath.Join(t.TempDir(), "dctl.sock")
	srv, err := Listen(sock, tree)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	_, _, err = client.ReadLeaf("no/such/leaf")
	require.Error(t, err)
}
