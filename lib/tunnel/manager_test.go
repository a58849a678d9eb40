package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundTunnelDelivers(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(5, testTunnelConfig())
	creator, hops, target := nodes[0], nodes[1:4], nodes[4]

	tun, err := creator.mgr.Build(context.Background(), publics(hops...), Outbound, Client)
	require.NoError(t, err)
	assert.Equal(t, Active, tun.State())
	assert.Equal(t, []common.Hash{hops[0].hash(), hops[1].hash(), hops[2].hash()}, tun.Hops())
	for _, h := range hops {
		assert.Equal(t, 1, h.part.Len())
	}

	require.NoError(t, creator.mgr.Send(context.Background(), tun.ID(), layer.ToRouter(target.hash()), []byte("to target")))
	got := target.wait(t)
	assert.Equal(t, []byte("to target"), got.payload)
	assert.Zero(t, got.tunnel)

	require.NoError(t, creator.mgr.Send(context.Background(), tun.ID(), layer.Local, []byte("to endpoint")))
	got = hops[2].wait(t)
	assert.Equal(t, []byte("to endpoint"), got.payload)

	for _, h := range hops {
		assert.EqualValues(t, 2, h.part.Processed())
	}
	st, ok := creator.mgr.Status(tun.ID())
	require.True(t, ok)
	assert.EqualValues(t, 2, st.Messages)
}

func TestInboundTunnelDelivers(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(5, testTunnelConfig())
	creator, hops, sender := nodes[0], nodes[1:4], nodes[4]

	tun, err := creator.mgr.Build(context.Background(), publics(hops...), Inbound, Exploratory)
	require.NoError(t, err)
	assert.Equal(t, Inbound, tun.Direction())

	gateway := hops[0]
	out, err := sender.mgr.Build(context.Background(), nil, Outbound, Client)
	require.NoError(t, err)
	require.NoError(t, sender.mgr.Send(context.Background(), out.ID(),
		layer.ToTunnel(gateway.hash(), tun.hops[0].ReceiveID), []byte("hello creator")))

	got := creator.wait(t)
	assert.Equal(t, []byte("hello creator"), got.payload)
	assert.Equal(t, uint32(tun.ID()), got.tunnel)
	for _, h := range hops {
		assert.EqualValues(t, 1, h.part.Processed())
	}
}

func TestOutboundToInboundAcrossRouters(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(6, testTunnelConfig())
	alice, bob := nodes[0], nodes[1]

	in, err := bob.mgr.Build(context.Background(), publics(nodes[2], nodes[3]), Inbound, Client)
	require.NoError(t, err)
	out, err := alice.mgr.Build(context.Background(), publics(nodes[4], nodes[5]), Outbound, Client)
	require.NoError(t, err)

	d, err := bob.mgr.ReplyDelivery(in.ID())
	require.NoError(t, err)
	assert.Equal(t, layer.ToTunnel(nodes[2].hash(), in.hops[0].ReceiveID), d)
	_, err = alice.mgr.ReplyDelivery(out.ID())
	assert.ErrorIs(t, err, ErrDirection)
	for i := range 5 {
		require.NoError(t, alice.mgr.Send(context.Background(), out.ID(), d, []byte{byte(i)}))
	}
	seen := map[byte]bool{}
	for range 5 {
		got := bob.wait(t)
		seen[got.payload[0]] = true
	}
	assert.Len(t, seen, 5)
}

func TestBuildRejectedByMiddleHop(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(4, testTunnelConfig())
	creator, hops := nodes[0], nodes[1:4]
	hops[1].part.SetAccepting(false)

	tun, err := creator.mgr.Build(context.Background(), publics(hops...), Outbound, Client)
	require.Error(t, err)
	assert.Nil(t, tun)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.True(t, errors.Is(err, failure.CapacityRejected))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, hops[1].hash(), RejectingHops(err)[0])
	assert.Len(t, RejectingHops(err), 1)

	assert.Empty(t, creator.mgr.Tunnels())
	assert.Zero(t, hops[1].part.Len())
	assert.EqualValues(t, 1, hops[1].part.Rejected())
	for _, h := range hops {
		assert.Zero(t, h.part.Processed())
	}
}

func TestBuildTimesOut(t *testing.T) {
	n := newTestNet(t)
	cfg := testTunnelConfig()
	cfg.BuildTimeout = 100 * time.Millisecond
	nodes := n.addN(3, cfg)
	nodes[2].blackhole = true

	start := time.Now()
	_, err := nodes[0].mgr.Build(context.Background(), publics(nodes[1], nodes[2]), Outbound, Client)
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.ErrorIs(t, err, failure.Timeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, nodes[0].mgr.Tunnels())
	nodes[0].mgr.mu.Lock()
	assert.Empty(t, nodes[0].mgr.pending)
	nodes[0].mgr.mu.Unlock()
}

func TestBuildAbandonedWhenFirstHopCloses(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(2, testTunnelConfig())
	nodes[1].blackhole = true
	creator, first := nodes[0], nodes[1]

	done := make(chan error, 1)
	go func() {
		_, err := creator.mgr.Build(context.Background(), publics(first), Inbound, Client)
		done <- err
	}()
	require.Eventually(t, func() bool {
		creator.mgr.mu.Lock()
		defer creator.mgr.mu.Unlock()
		return len(creator.mgr.pending) == 1
	}, time.Second, time.Millisecond)
	creator.mgr.PeerClosed(first.hash())

	err := <-done
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.True(t, errors.Is(err, failure.TransportClosed))
}

func TestBuildCancelled(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(2, testTunnelConfig())
	nodes[1].blackhole = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := nodes[0].mgr.Build(ctx, publics(nodes[1]), Outbound, Client)
	assert.ErrorIs(t, err, failure.Cancelled)
}

func TestZeroHopTunnels(t *testing.T) {
	n := newTestNet(t)
	node := n.add(testTunnelConfig(), nil)

	out, err := node.mgr.Build(context.Background(), nil, Outbound, Client)
	require.NoError(t, err)
	require.NoError(t, node.mgr.Send(context.Background(), out.ID(), layer.Local, []byte("loop")))
	assert.Equal(t, []byte("loop"), node.wait(t).payload)

	in, err := node.mgr.Build(context.Background(), nil, Inbound, Client)
	require.NoError(t, err)
	d, err := node.mgr.ReplyDelivery(in.ID())
	require.NoError(t, err)
	assert.Equal(t, node.hash(), d.To)
	assert.Equal(t, uint32(in.ID()), d.Tunnel)
	handled, err := node.mgr.HandleGateway(uint32(in.ID()), []byte("in"))
	require.NoError(t, err)
	assert.True(t, handled)
	got := node.wait(t)
	assert.Equal(t, uint32(in.ID()), got.tunnel)
}

func TestSendErrors(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(2, testTunnelConfig())

	err := nodes[0].mgr.Send(context.Background(), 12345, layer.Local, nil)
	assert.ErrorIs(t, err, ErrUnknownTunnel)

	in, err := nodes[0].mgr.Build(context.Background(), publics(nodes[1]), Inbound, Client)
	require.NoError(t, err)
	err = nodes[0].mgr.Send(context.Background(), in.ID(), layer.Local, nil)
	assert.ErrorIs(t, err, ErrDirection)

	out, err := nodes[0].mgr.Build(context.Background(), publics(nodes[1]), Outbound, Client)
	require.NoError(t, err)
	err = nodes[0].mgr.Send(context.Background(), out.ID(), layer.Local, make([]byte, layer.MaxPayload))
	assert.ErrorIs(t, err, layer.ErrPayloadTooLarge)

	require.NoError(t, nodes[0].mgr.Close(out.ID()))
	assert.Equal(t, Closed, out.State())
	err = nodes[0].mgr.Send(context.Background(), out.ID(), layer.Local, nil)
	assert.ErrorIs(t, err, ErrUnknownTunnel)
}

func TestMaintainExpiresTunnels(t *testing.T) {
	n := newTestNet(t)
	clk := newFakeClock()
	cfg := testTunnelConfig()
	creator := n.add(cfg, clk)
	hop := n.add(cfg, clk)

	tun, err := creator.mgr.Build(context.Background(), publics(hop), Outbound, Client)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(cfg.Lifetime), tun.Expires())

	clk.Advance(cfg.Lifetime - cfg.ReplaceBeforeExpiration)
	assert.Zero(t, creator.mgr.Maintain(clk.Now()))
	assert.Equal(t, Expiring, tun.State())
	require.NoError(t, creator.mgr.Send(context.Background(), tun.ID(), layer.Local, []byte("still works")))
	assert.Equal(t, []byte("still works"), hop.wait(t).payload)

	clk.Advance(cfg.ReplaceBeforeExpiration)
	assert.Equal(t, 1, creator.mgr.Maintain(clk.Now()))
	assert.Equal(t, Closed, tun.State())
	assert.True(t, keysZero(tun.keys))
	_, ok := creator.mgr.Get(tun.ID())
	assert.False(t, ok)

	assert.Equal(t, 1, hop.part.Expire(clk.Now()))
	assert.Zero(t, hop.part.Len())
}

func TestStopClosesTunnels(t *testing.T) {
	n := newTestNet(t)
	nodes := n.addN(2, testTunnelConfig())
	tun, err := nodes[0].mgr.Build(context.Background(), publics(nodes[1]), Outbound, Client)
	require.NoError(t, err)

	nodes[0].mgr.Stop()
	assert.Equal(t, Closed, tun.State())
	assert.Empty(t, nodes[0].mgr.Tunnels())
}
