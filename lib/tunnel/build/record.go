package build

import (
	"encoding/binary"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// Flags mark the hop's position.
type Flags byte

const (
	// FlagInboundGateway marks the first hop of an inbound tunnel.
	FlagInboundGateway Flags = 0x80
	// FlagOutboundEndpoint marks the last hop of an outbound tunnel.
	FlagOutboundEndpoint Flags = 0x40
)

// Record is the cleartext instruction for one hop.
type Record struct {
	ReceiveID     uint32
	NextID        uint32
	NextHop       common.Hash
	LayerKey      session_key.SessionKey
	IVKey         session_key.SessionKey
	ReplyKey      session_key.SessionKey
	ReplyIV       [16]byte
	EndpointKey   [32]byte
	Flags         Flags
	RequestTime   time.Time
	Expiration    time.Duration
	SendMessageID uint32
}

// IsInboundGateway reports the inbound gateway flag.
func (r *Record) IsInboundGateway() bool { return r.Flags&FlagInboundGateway != 0 }

// IsOutboundEndpoint reports the outbound endpoint flag.
func (r *Record) IsOutboundEndpoint() bool { return r.Flags&FlagOutboundEndpoint != 0 }

// Zero wipes the keys.
func (r *Record) Zero() {
	crypto.Zero(r.LayerKey[:])
	crypto.Zero(r.IVKey[:])
	crypto.Zero(r.ReplyKey[:])
	crypto.Zero(r.ReplyIV[:])
	crypto.Zero(r.EndpointKey[:])
}

// cleartext field offsets
const (
	offReceiveID   = 0
	offNextID      = 4
	offNextHop     = 8
	offLayerKey    = 40
	offIVKey       = 72
	offReplyKey    = 104
	offReplyIV     = 136
	offEndpointKey = 152
	offFlags       = 184
	offRequestTime = 185
	offExpiration  = 189
	offSendMsgID   = 193
	fieldsEnd      = 197
)

func (r *Record) marshal() ([]byte, error) {
	b := make([]byte, cleartextSize)
	binary.BigEndian.PutUint32(b[offReceiveID:], r.ReceiveID)
	binary.BigEndian.PutUint32(b[offNextID:], r.NextID)
	copy(b[offNextHop:], r.NextHop[:])
	copy(b[offLayerKey:], r.LayerKey[:])
	copy(b[offIVKey:], r.IVKey[:])
	copy(b[offReplyKey:], r.ReplyKey[:])
	copy(b[offReplyIV:], r.ReplyIV[:])
	copy(b[offEndpointKey:], r.EndpointKey[:])
	b[offFlags] = byte(r.Flags)
	binary.BigEndian.PutUint32(b[offRequestTime:], clock.Unix32(r.RequestTime))
	binary.BigEndian.PutUint32(b[offExpiration:], uint32(r.Expiration/time.Second))
	binary.BigEndian.PutUint32(b[offSendMsgID:], r.SendMessageID)
	if _, err := rand.Read(b[fieldsEnd:]); err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalRecord(b []byte) *Record {
	r := &Record{
		ReceiveID:     binary.BigEndian.Uint32(b[offReceiveID:]),
		NextID:        binary.BigEndian.Uint32(b[offNextID:]),
		Flags:         Flags(b[offFlags]),
		RequestTime:   clock.FromUnix32(binary.BigEndian.Uint32(b[offRequestTime:])),
		Expiration:    time.Duration(binary.BigEndian.Uint32(b[offExpiration:])) * time.Second,
		SendMessageID: binary.BigEndian.Uint32(b[offSendMsgID:]),
	}
	copy(r.NextHop[:], b[offNextHop:offLayerKey])
	copy(r.LayerKey[:], b[offLayerKey:offIVKey])
	copy(r.IVKey[:], b[offIVKey:offReplyKey])
	copy(r.ReplyKey[:], b[offReplyKey:offReplyIV])
	copy(r.ReplyIV[:], b[offReplyIV:offEndpointKey])
	copy(r.EndpointKey[:], b[offEndpointKey:offFlags])
	return r
}

// recordKey derives the record AEAD key from the DH result.
func recordKey(shared [32]byte, toPeer, ephemeral []byte) [32]byte {
	salt := make([]byte, 0, ToPeerSize+32)
	salt = append(salt, toPeer...)
	salt = append(salt, ephemeral...)
	return crypto.DeriveKey32(shared[:], salt, "tunnel build record")
}
