package layer

import (
	"encoding/binary"

	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// Message is one 1028 byte tunnel message: tunnel ID (4), IV (16) and
// data (1008).
type Message = crypto.TunnelData

// MessageSize is the tunnel message length.
const MessageSize = crypto.TunnelMessageSize

// Key is one hop's layer and IV keys.
type Key struct {
	Layer session_key.SessionKey
	IV    session_key.SessionKey
}

// Zero wipes the key.
func (k *Key) Zero() {
	crypto.Zero(k.Layer[:])
	crypto.Zero(k.IV[:])
}

// Keys are a tunnel's hop keys in hop order.
type Keys []Key

// Zero wipes every key.
func (ks Keys) Zero() {
	for i := range ks {
		ks[i].Zero()
	}
}

func (k Key) cipher() (*crypto.TunnelLayer, error) {
	return crypto.NewTunnelLayer(k.Layer, k.IV)
}

// NewMessage frames data for tunnel with a random IV.
func NewMessage(tunnel uint32, data *[crypto.TunnelDataSize]byte) (*Message, error) {
	msg := new(Message)
	binary.BigEndian.PutUint32(msg[:crypto.TunnelIVOffset], tunnel)
	if _, err := rand.Read(msg[crypto.TunnelIVOffset:crypto.TunnelDataOffset]); err != nil {
		return nil, err
	}
	copy(msg[crypto.TunnelDataOffset:], data[:])
	return msg, nil
}

// ParseMessage copies a received tunnel message.
func ParseMessage(b []byte) (*Message, bool) {
	if len(b) != MessageSize {
		return nil, false
	}
	msg := new(Message)
	copy(msg[:], b)
	return msg, true
}

// TunnelID returns the tunnel the message is addressed to.
func TunnelID(msg *Message) uint32 {
	return binary.BigEndian.Uint32(msg[:crypto.TunnelIVOffset])
}

// SetTunnelID readdresses msg for the next hop.
func SetTunnelID(msg *Message, id uint32) {
	binary.BigEndian.PutUint32(msg[:crypto.TunnelIVOffset], id)
}

// Data returns the data block of msg.
func Data(msg *Message) []byte {
	return msg[crypto.TunnelDataOffset:]
}

// TransformAtHop applies exactly one layer.
func TransformAtHop(k Key, msg *Message) error {
	c, err := k.cipher()
	if err != nil {
		return err
	}
	c.Encrypt(msg)
	return nil
}

// EncryptOutbound applies every hop's layer in hop order.
func EncryptOutbound(keys Keys, msg *Message) error {
	for _, k := range keys {
		if err := TransformAtHop(k, msg); err != nil {
			return err
		}
	}
	return nil
}

// DecryptInbound removes every layer, last hop first.
func DecryptInbound(keys Keys, msg *Message) error {
	for i := len(keys) - 1; i >= 0; i-- {
		c, err := keys[i].cipher()
		if err != nil {
			return err
		}
		c.Decrypt(msg)
	}
	return nil
}

// PrepareOutbound computes the pre-image the creator sends into an
// outbound tunnel so that after every hop's TransformAtHop the endpoint
// holds msg as given.
func PrepareOutbound(keys Keys, msg *Message) error {
	return DecryptInbound(keys, msg)
}
