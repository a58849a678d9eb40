package datagram

import (
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
)

// memNetwork is an in-memory packet network with seeded loss.
type memNetwork struct {
	mu      sync.Mutex
	rng     *rand.Rand
	loss    float64
	maxSize int
	nodes   map[netip.AddrPort]*memChannel
	// filter may rewrite or drop (by returning nil) a packet in flight.
	filter func(from, to netip.AddrPort, pkt []byte) []byte
}

func newMemNetwork(seed uint64, loss float64) *memNetwork {
	return &memNetwork{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		loss:  loss,
		nodes: make(map[netip.AddrPort]*memChannel),
	}
}

type memChannel struct {
	net    *memNetwork
	addr   netip.AddrPort
	in     chan packetIn
	closed chan struct{}
	once   sync.Once
}

func (n *memNetwork) listen(addr string) *memChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &memChannel{
		net:    n,
		addr:   netip.MustParseAddrPort(addr),
		in:     make(chan packetIn, 4096),
		closed: make(chan struct{}),
	}
	n.nodes[c.addr] = c
	return c
}

// move rebinds c to a new address, as after a NAT rebinding.
func (n *memNetwork) move(c *memChannel, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, c.addr)
	c.addr = netip.MustParseAddrPort(addr)
	n.nodes[c.addr] = c
}

// inject delivers pkt to to as if sent from from, bypassing loss.
func (n *memNetwork) inject(from, to netip.AddrPort, pkt []byte) {
	n.mu.Lock()
	dst := n.nodes[to]
	n.mu.Unlock()
	if dst != nil {
		dst.in <- packetIn{from: from, data: append([]byte(nil), pkt...)}
	}
}

func (c *memChannel) SendTo(to netip.AddrPort, b []byte) error {
	n := c.net
	n.mu.Lock()
	from := c.addr
	pkt := append([]byte(nil), b...)
	if n.filter != nil {
		pkt = n.filter(from, to, pkt)
	}
	drop := pkt == nil || n.rng.Float64() < n.loss || (n.maxSize > 0 && len(pkt) > n.maxSize)
	dst := n.nodes[to]
	n.mu.Unlock()
	if drop || dst == nil {
		return nil
	}
	select {
	case dst.in <- packetIn{from: from, data: pkt}:
	default:
	}
	return nil
}

func (c *memChannel) RecvFrom() (netip.AddrPort, []byte, error) {
	select {
	case p := <-c.in:
		return p.from, p.data, nil
	case <-c.closed:
		return netip.AddrPort{}, nil, net.ErrClosed
	}
}

func (c *memChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memChannel) Addr() netip.AddrPort {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.addr
}
