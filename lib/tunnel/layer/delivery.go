package layer

import (
	"encoding/binary"
	"fmt"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
)

/*
Delivery instructions, first bytes of an end-to-end payload:

+----+----+----+----+----+----+----+----+
|type|  To Hash (router, tunnel)         ~
+----+----+----+----+----+----+----+----+
~    | Tunnel ID (tunnel) |   message   ~
+----+----+----+----+----+----+----+----+

type ::
       1 byte
       0x00 = LOCAL, deliver to the receiving router
       0x01 = ROUTER, forward to the router named by To Hash
       0x02 = TUNNEL, forward to tunnel ID at gateway To Hash

To Hash ::
       32 bytes, present for ROUTER and TUNNEL

Tunnel ID ::
       4 bytes, present for TUNNEL
*/

// DeliveryType says where the endpoint sends a message.
type DeliveryType byte

const (
	DeliveryLocal  DeliveryType = 0
	DeliveryRouter DeliveryType = 1
	DeliveryTunnel DeliveryType = 2
)

func (t DeliveryType) String() string {
	switch t {
	case DeliveryLocal:
		return "local"
	case DeliveryRouter:
		return "router"
	case DeliveryTunnel:
		return "tunnel"
	}
	return fmt.Sprintf("delivery(%d)", byte(t))
}

// Delivery are the instructions for the endpoint.
type Delivery struct {
	Type   DeliveryType
	To     common.Hash
	Tunnel uint32
}

// Local is the delivery for the receiving router itself.
var Local = Delivery{Type: DeliveryLocal}

// ToRouter forwards to router.
func ToRouter(router common.Hash) Delivery {
	return Delivery{Type: DeliveryRouter, To: router}
}

// ToTunnel forwards to tunnel at gateway.
func ToTunnel(gateway common.Hash, tunnel uint32) Delivery {
	return Delivery{Type: DeliveryTunnel, To: gateway, Tunnel: tunnel}
}

// Size returns the encoded length.
func (d Delivery) Size() int {
	switch d.Type {
	case DeliveryRouter:
		return 1 + 32
	case DeliveryTunnel:
		return 1 + 32 + 4
	}
	return 1
}

// Append encodes d followed by msg.
func (d Delivery) Append(msg []byte) []byte {
	out := make([]byte, d.Size(), d.Size()+len(msg))
	out[0] = byte(d.Type)
	if d.Type == DeliveryRouter || d.Type == DeliveryTunnel {
		copy(out[1:33], d.To[:])
	}
	if d.Type == DeliveryTunnel {
		binary.BigEndian.PutUint32(out[33:37], d.Tunnel)
	}
	return append(out, msg...)
}

// ParseDelivery splits a payload into instructions and message.
func ParseDelivery(payload []byte) (Delivery, []byte, error) {
	if len(payload) < 1 {
		return Delivery{}, nil, failure.Wrapf(ErrDelivery, "empty payload")
	}
	d := Delivery{Type: DeliveryType(payload[0])}
	if d.Type > DeliveryTunnel {
		return Delivery{}, nil, failure.Wrapf(ErrDelivery, "type %d", payload[0])
	}
	if len(payload) < d.Size() {
		return Delivery{}, nil, failure.Wrapf(ErrDelivery, "%s instructions truncated", d.Type)
	}
	if d.Type != DeliveryLocal {
		copy(d.To[:], payload[1:33])
	}
	if d.Type == DeliveryTunnel {
		d.Tunnel = binary.BigEndian.Uint32(payload[33:37])
	}
	return d, payload[d.Size():], nil
}
