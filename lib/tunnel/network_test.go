package tunnel

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type arrival struct {
	tunnel  uint32
	payload []byte
}

// testNet connects routers in memory. Every message is handled on its own
// goroutine, like a session receive loop would.
type testNet struct {
	t     *testing.T
	mu    sync.Mutex
	nodes map[common.Hash]*testNode
	db    *netdb.MemoryPeerDB
	wg    sync.WaitGroup
}

type testNode struct {
	net  *testNet
	id   *identity.Identity
	mgr  *Manager
	part *Participant
	got  chan arrival
	// blackhole drops everything sent to this node
	blackhole bool
}

func testTunnelConfig() config.TunnelDefaults {
	cfg := config.Defaults().Tunnel
	cfg.BuildTimeout = 2 * time.Second
	cfg.MaintenanceInterval = time.Hour
	return cfg
}

func newTestNet(t *testing.T) *testNet {
	n := &testNet{t: t, nodes: make(map[common.Hash]*testNode), db: netdb.NewMemoryPeerDB()}
	t.Cleanup(func() {
		n.mu.Lock()
		nodes := make([]*testNode, 0, len(n.nodes))
		for _, node := range n.nodes {
			nodes = append(nodes, node)
		}
		n.mu.Unlock()
		for _, node := range nodes {
			node.mgr.Stop()
			node.part.Stop()
		}
		n.wg.Wait()
	})
	return n
}

// add creates a router in its own /16.
func (n *testNet) add(cfg config.TunnelDefaults, clk *fakeClock) *testNode {
	n.t.Helper()
	id, err := identity.Generate()
	require.NoError(n.t, err)
	node := &testNode{net: n, id: id, got: make(chan arrival, 64)}
	var c clock.Clock = clock.System{}
	if clk != nil {
		c = clk
	}
	node.mgr = NewManager(cfg, id, node, c)
	node.part = NewParticipant(cfg, id, node, c)
	node.mgr.OnMessage(node.local)
	node.part.OnLocal(node.local)

	n.mu.Lock()
	idx := len(n.nodes) + 1
	n.nodes[id.Hash()] = node
	n.mu.Unlock()

	addr := netip.MustParseAddrPort(fmt.Sprintf("10.%d.0.1:9000", idx))
	require.NoError(n.t, n.db.Store(netdb.NewPeerRecord(id.Public(), addr, addr, netdb.CapReachable, time.Now())))
	return node
}

func (n *testNet) addN(count int, cfg config.TunnelDefaults) []*testNode {
	out := make([]*testNode, count)
	for i := range out {
		out[i] = n.add(cfg, nil)
	}
	return out
}

func (n *testNet) node(h common.Hash) *testNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[h]
}

func (node *testNode) hash() common.Hash { return node.id.Hash() }

func (node *testNode) local(tunnel uint32, payload []byte) {
	node.got <- arrival{tunnel: tunnel, payload: append([]byte(nil), payload...)}
}

func (node *testNode) SendMessage(_ context.Context, to common.Hash, msg i2np.Message) error {
	dst := node.net.node(to)
	if dst == nil {
		return fmt.Errorf("no route to %x", to[:4])
	}
	if dst.blackhole {
		return nil
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	from := node.hash()
	node.net.wg.Add(1)
	go func() {
		defer node.net.wg.Done()
		dst.dispatch(from, msg)
	}()
	return nil
}

// dispatch routes a message the way the router does.
func (node *testNode) dispatch(from common.Hash, msg i2np.Message) {
	ctx := context.Background()
	switch msg.Type {
	case i2np.TypeTunnelBuild:
		if node.mgr.HandleReply(msg.ID, msg.Payload) {
			return
		}
		node.part.HandleBuild(ctx, from, msg)
	case i2np.TypeTunnelBuildReply:
		node.mgr.HandleReply(msg.ID, msg.Payload)
	case i2np.TypeTunnelData:
		m, ok := layer.ParseMessage(msg.Payload)
		if !ok {
			return
		}
		if handled, _ := node.part.HandleData(ctx, m); !handled {
			node.mgr.HandleData(m)
		}
	case i2np.TypeTunnelGateway:
		id, data, err := i2np.ParseTunnelGateway(msg.Payload)
		if err != nil {
			return
		}
		if handled, _ := node.part.HandleGateway(ctx, id, data); !handled {
			node.mgr.HandleGateway(id, data)
		}
	case i2np.TypeData:
		node.local(0, msg.Payload)
	}
}

func (node *testNode) wait(t *testing.T) arrival {
	t.Helper()
	select {
	case a := <-node.got:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no message arrived")
		return arrival{}
	}
}

func publics(nodes ...*testNode) []identity.Public {
	out := make([]identity.Public, len(nodes))
	for i, n := range nodes {
		out[i] = n.id.Public()
	}
	return out
}

func keysZero(keys layer.Keys) bool {
	for _, k := range keys {
		if k.Layer != (session_key.SessionKey{}) || k.IV != (session_key.SessionKey{}) {
			return false
		}
	}
	return true
}
