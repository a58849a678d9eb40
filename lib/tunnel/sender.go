package tunnel

import (
	"context"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/logger"
)

// Sender hands an I2NP message to a peer over whatever session reaches it.
type Sender interface {
	SendMessage(ctx context.Context, to common.Hash, msg i2np.Message) error
}

// LocalHandler receives payloads that end at this router. tunnel is the
// tunnel they arrived through, zero for direct delivery.
type LocalHandler func(tunnel uint32, payload []byte)

// deliver carries out delivery instructions at the end of an outbound
// tunnel.
func deliver(ctx context.Context, send Sender, now time.Time, d layer.Delivery, payload []byte, local LocalHandler, tunnel uint32) error {
	switch d.Type {
	case layer.DeliveryLocal:
		if local != nil {
			local(tunnel, payload)
		}
		return nil
	case layer.DeliveryRouter:
		return send.SendMessage(ctx, d.To, i2np.New(i2np.TypeData, payload, now))
	case layer.DeliveryTunnel:
		gw := i2np.NewTunnelGateway(d.Tunnel, payload)
		return send.SendMessage(ctx, d.To, i2np.New(i2np.TypeTunnelGateway, gw, now))
	}
	log.WithFields(logger.Fields{
		"at":        "deliver",
		"tunnel_id": tunnel,
		"type":      d.Type,
	}).Warn("unknown delivery type")
	return layer.ErrDelivery
}
