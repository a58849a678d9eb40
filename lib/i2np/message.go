package i2np

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

// HeaderSize is the short header length.
const HeaderSize = 9

// DefaultLifetime is the expiration given to new messages.
const DefaultLifetime = 60 * time.Second

// Type is an I2NP message type.
type Type byte

const (
	TypeTunnelData       Type = 18
	TypeTunnelGateway    Type = 19
	TypeData             Type = 20
	TypeTunnelBuild      Type = 21
	TypeTunnelBuildReply Type = 22
)

var typeNames = map[Type]string{
	TypeTunnelData:       "TunnelData",
	TypeTunnelGateway:    "TunnelGateway",
	TypeData:             "Data",
	TypeTunnelBuild:      "TunnelBuild",
	TypeTunnelBuildReply: "TunnelBuildReply",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Message is one enveloped message.
type Message struct {
	Type       Type
	ID         uint32
	Expiration time.Time
	Payload    []byte
}

// New builds a message with a random ID that expires DefaultLifetime from
// now.
func New(t Type, payload []byte, now time.Time) Message {
	return Message{Type: t, ID: RandomID(), Expiration: now.Add(DefaultLifetime), Payload: payload}
}

// RandomID returns a non-zero message ID.
func RandomID() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("i2np: random source failed: %v", err))
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return id
		}
	}
}

// Bytes serializes the message.
func (m Message) Bytes() []byte {
	out := make([]byte, HeaderSize+len(m.Payload))
	out[0] = byte(m.Type)
	binary.BigEndian.PutUint32(out[1:5], m.ID)
	binary.BigEndian.PutUint32(out[5:9], clock.Unix32(m.Expiration))
	copy(out[HeaderSize:], m.Payload)
	return out
}

// Parse decodes a message. The payload aliases b.
func Parse(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, failure.Wrapf(ErrShortMessage, "%d bytes", len(b))
	}
	m := Message{
		Type:       Type(b[0]),
		ID:         binary.BigEndian.Uint32(b[1:5]),
		Expiration: clock.FromUnix32(binary.BigEndian.Uint32(b[5:9])),
		Payload:    b[HeaderSize:],
	}
	if _, known := typeNames[m.Type]; !known {
		return Message{}, failure.Wrapf(ErrUnknownType, "type %d", b[0])
	}
	return m, nil
}

// Check rejects a message that expired more than skew before now.
func (m Message) Check(now time.Time, skew time.Duration) error {
	if now.Sub(m.Expiration) > skew {
		log.WithFields(logger.Fields{
			"at":         "(Message) Check",
			"type":       m.Type.String(),
			"expiration": m.Expiration,
		}).Debug("dropping expired message")
		return failure.Wrapf(ErrExpired, "%s %d expired at %s", m.Type, m.ID, m.Expiration.UTC().Format(time.RFC3339))
	}
	return nil
}

// TunnelGatewayHeaderSize is the tunnel ID prefix of a TunnelGateway payload.
const TunnelGatewayHeaderSize = 4

// NewTunnelGateway builds the payload that asks an inbound gateway to send
// data into tunnel.
func NewTunnelGateway(tunnel uint32, data []byte) []byte {
	out := make([]byte, TunnelGatewayHeaderSize+len(data))
	binary.BigEndian.PutUint32(out, tunnel)
	copy(out[TunnelGatewayHeaderSize:], data)
	return out
}

// ParseTunnelGateway splits a TunnelGateway payload.
func ParseTunnelGateway(payload []byte) (uint32, []byte, error) {
	if len(payload) < TunnelGatewayHeaderSize {
		return 0, nil, failure.Wrapf(ErrShortMessage, "tunnel gateway payload of %d bytes", len(payload))
	}
	return binary.BigEndian.Uint32(payload), payload[TunnelGatewayHeaderSize:], nil
}
