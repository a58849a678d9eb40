package block

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// Type identifies a block.
type Type byte

const (
	TypeDateTime       Type = 0
	TypeOptions        Type = 1
	TypeMessage        Type = 3
	TypeTermination    Type = 4
	TypeConfirm        Type = 5
	TypeFragment       Type = 6
	TypeAck            Type = 7
	TypePeerTest       Type = 8
	TypePeerTestResult Type = 9
	TypePathChallenge  Type = 10
	TypePathResponse   Type = 11
	TypeProbe          Type = 12
	TypeProbeAck       Type = 13
	TypePadding        Type = 254
)

var typeNames = map[Type]string{
	TypeDateTime:       "DateTime",
	TypeOptions:        "Options",
	TypeMessage:        "Message",
	TypeTermination:    "Termination",
	TypeConfirm:        "Confirm",
	TypeFragment:       "Fragment",
	TypeAck:            "Ack",
	TypePeerTest:       "PeerTest",
	TypePeerTestResult: "PeerTestResult",
	TypePathChallenge:  "PathChallenge",
	TypePathResponse:   "PathResponse",
	TypeProbe:          "Probe",
	TypeProbeAck:       "ProbeAck",
	TypePadding:        "Padding",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// HeaderSize is the type and size prefix of every block.
const HeaderSize = 3

// MaxDataSize is the largest block body the size field can describe.
const MaxDataSize = 0xFFFF

// Block is one parsed block.
type Block struct {
	Type Type
	Data []byte
}

// Len is the encoded size including the header.
func (b Block) Len() int { return HeaderSize + len(b.Data) }

// Parse splits a decrypted payload into blocks. Unknown types are returned
// with their raw data so the caller decides how to treat them.
func Parse(payload []byte) ([]Block, error) {
	var blocks []Block
	offset := 0
	for offset < len(payload) {
		if offset+HeaderSize > len(payload) {
			return blocks, failure.Wrapf(ErrTruncated, "header at offset %d, %d bytes left", offset, len(payload)-offset)
		}
		t := Type(payload[offset])
		size := int(binary.BigEndian.Uint16(payload[offset+1 : offset+3]))
		offset += HeaderSize
		if offset+size > len(payload) {
			return blocks, failure.Wrapf(ErrTruncated, "%s block declares %d bytes, %d available", t, size, len(payload)-offset)
		}
		data := make([]byte, size)
		copy(data, payload[offset:offset+size])
		blocks = append(blocks, Block{Type: t, Data: data})
		offset += size
	}
	return blocks, nil
}

// Serialize concatenates blocks into one payload.
func Serialize(blocks ...Block) []byte {
	total := 0
	for _, b := range blocks {
		total += b.Len()
	}
	payload := make([]byte, total)
	offset := 0
	for _, b := range blocks {
		payload[offset] = byte(b.Type)
		binary.BigEndian.PutUint16(payload[offset+1:offset+3], uint16(len(b.Data)))
		copy(payload[offset+HeaderSize:], b.Data)
		offset += b.Len()
	}
	return payload
}

// NewDateTime returns a DateTime block for t.
func NewDateTime(t time.Time) Block {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, clock.Unix32(t))
	return Block{Type: TypeDateTime, Data: data}
}

// ParseDateTime decodes a DateTime block body.
func ParseDateTime(data []byte) (time.Time, error) {
	if len(data) != 4 {
		return time.Time{}, failure.Wrapf(ErrBadSize, "DateTime block is %d bytes", len(data))
	}
	return clock.FromUnix32(binary.BigEndian.Uint32(data)), nil
}

// NewMessage wraps an application message.
func NewMessage(msg []byte) Block {
	return Block{Type: TypeMessage, Data: msg}
}

// NewPadding returns a padding block of n random bytes. Receivers ignore
// its content.
func NewPadding(n int) Block {
	data := make([]byte, n)
	if n > 0 {
		if _, err := rand.Read(data); err != nil {
			log.WithError(err).Warn("padding randomness unavailable, sending zeros")
		}
	}
	return Block{Type: TypePadding, Data: data}
}

// NewConfirm carries the final handshake hash as datagram message 4.
func NewConfirm(hash [32]byte) Block {
	return Block{Type: TypeConfirm, Data: append([]byte(nil), hash[:]...)}
}

// NewToken builds an 8 byte token block such as PathChallenge or PeerTest.
func NewToken(t Type, token [8]byte) Block {
	return Block{Type: t, Data: append([]byte(nil), token[:]...)}
}

// ParseToken decodes an 8 byte token block body.
func ParseToken(data []byte) ([8]byte, error) {
	var tok [8]byte
	if len(data) != 8 {
		return tok, failure.Wrapf(ErrBadSize, "token block is %d bytes", len(data))
	}
	copy(tok[:], data)
	return tok, nil
}
