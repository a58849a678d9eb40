package router

import (
	"context"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
)

// BuildTunnel builds a tunnel through hops, in order. Each hop is resolved
// in the peer database first.
func (r *Router) BuildTunnel(ctx context.Context, hops []common.Hash, dir tunnel.Direction, role tunnel.Role) (tunnel.Status, error) {
	if !r.isRunning() {
		return tunnel.Status{}, ErrNotRunning
	}
	peers := make([]identity.Public, len(hops))
	for i, h := range hops {
		rec, ok := r.db.Resolve(h)
		if !ok {
			return tunnel.Status{}, failure.Wrapf(ErrUnknownPeer, "hop %d %s", i+1, identity.Short(h))
		}
		peers[i] = rec.Identity()
	}
	t, err := r.tunnels.Build(ctx, peers, dir, role)
	if err != nil {
		return tunnel.Status{}, err
	}
	return t.Status(), nil
}

// SendThroughTunnel sends payload through outbound tunnel id. The outbound
// endpoint delivers it as d says.
func (r *Router) SendThroughTunnel(ctx context.Context, id tunnel.ID, d layer.Delivery, payload []byte) error {
	return r.tunnels.Send(ctx, id, d, payload)
}

// ReplyDelivery returns the delivery instructions other routers use to
// reach our inbound tunnel id.
func (r *Router) ReplyDelivery(id tunnel.ID) (layer.Delivery, error) {
	return r.tunnels.ReplyDelivery(id)
}

// OnTunnelMessage sets the handler for locally delivered messages.
func (r *Router) OnTunnelMessage(h TunnelMessageHandler) {
	r.handlerMu.Lock()
	r.handler = h
	r.handlerMu.Unlock()
}

// CloseTunnel closes one of our tunnels.
func (r *Router) CloseTunnel(id tunnel.ID) error {
	return r.tunnels.Close(id)
}

// Tunnels lists the tunnels this router created.
func (r *Router) Tunnels() []tunnel.Status {
	return r.tunnels.Tunnels()
}

// TunnelStatus returns the status of tunnel id.
func (r *Router) TunnelStatus(id tunnel.ID) (tunnel.Status, bool) {
	return r.tunnels.Status(id)
}

// ParticipatingHops lists the hops this router serves for others.
func (r *Router) ParticipatingHops() []tunnel.HopInfo {
	return r.participant.Hops()
}

// NewPool returns a pool that keeps tunnels of dir and role, with hops
// chosen from the peer database. The caller starts and stops it.
func (r *Router) NewPool(dir tunnel.Direction, role tunnel.Role) *tunnel.Pool {
	return tunnel.NewPool(r.tunnels, r.selector, tunnel.PoolConfigFrom(r.cfg.Tunnel, dir, role))
}
