package router

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/logger"
)

// dispatch hands a message from peer to the tunnel subsystem. A build
// request can be the reply to one of our inbound builds, so the manager
// sees it before the participant.
func (r *Router) dispatch(from common.Hash, msg i2np.Message) {
	var err error
	switch msg.Type {
	case i2np.TypeTunnelBuild:
		if r.tunnels.HandleReply(msg.ID, msg.Payload) {
			return
		}
		err = r.participant.HandleBuild(r.ctx, from, msg)
	case i2np.TypeTunnelBuildReply:
		if !r.tunnels.HandleReply(msg.ID, msg.Payload) {
			log.WithFields(logger.Fields{
				"at":         "(Router) dispatch",
				"from":       identity.Short(from),
				"message_id": msg.ID,
			}).Debug("build reply for no pending build")
		}
	case i2np.TypeTunnelData:
		m, ok := layer.ParseMessage(msg.Payload)
		if !ok {
			return
		}
		var handled bool
		if handled, err = r.participant.HandleData(r.ctx, m); !handled {
			handled, err = r.tunnels.HandleData(m)
		}
		if !handled {
			log.WithFields(logger.Fields{
				"at":        "(Router) dispatch",
				"from":      identity.Short(from),
				"tunnel_id": layer.TunnelID(m),
			}).Debug("tunnel data for unknown tunnel")
		}
	case i2np.TypeTunnelGateway:
		var id uint32
		var data []byte
		if id, data, err = i2np.ParseTunnelGateway(msg.Payload); err != nil {
			break
		}
		var handled bool
		if handled, err = r.participant.HandleGateway(r.ctx, id, data); !handled {
			_, err = r.tunnels.HandleGateway(id, data)
		}
	case i2np.TypeData:
		r.deliverLocal(0, msg.Payload)
	}
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Router) dispatch",
			"from": identity.Short(from),
			"type": msg.Type.String(),
		}).WithError(err).Debug("message dropped")
	}
}

func (r *Router) deliverLocal(id uint32, payload []byte) {
	r.handlerMu.RLock()
	h := r.handler
	r.handlerMu.RUnlock()
	if h != nil {
		h(tunnel.ID(id), payload)
	}
}
