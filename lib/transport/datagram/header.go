package datagram

import (
	"encoding/binary"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
)

// Header sizes.
const (
	ConnIDSize      = 8
	LongHeaderSize  = 24
	ShortHeaderSize = 16

	// minPacketMTU is the smallest MTU a session accepts.
	minPacketMTU = 576
)

// ConnID names one direction of a session. Each side picks the ID its
// peer addresses packets to.
type ConnID [ConnIDSize]byte

func randomConnID() (ConnID, error) {
	var id ConnID
	_, err := rand.Read(id[:])
	return id, err
}

type packetType byte

const (
	typeSessionRequest   packetType = 0
	typeSessionCreated   packetType = 1
	typeSessionConfirmed packetType = 2
	typeData             packetType = 6
)

func (t packetType) handshake() bool {
	return t <= typeSessionConfirmed
}

type header struct {
	DestID    ConnID
	Number    uint32
	Type      packetType
	Version   byte
	NetworkID byte
	Flags     byte
	SourceID  ConnID
}

func (h header) long() bool { return h.Type.handshake() }

func (h header) size() int {
	if h.long() {
		return LongHeaderSize
	}
	return ShortHeaderSize
}

func (h header) encode() []byte {
	b := make([]byte, h.size())
	copy(b[0:8], h.DestID[:])
	binary.BigEndian.PutUint32(b[8:12], h.Number)
	b[12] = byte(h.Type)
	if h.long() {
		b[13] = h.Version
		b[14] = h.NetworkID
		b[15] = h.Flags
		copy(b[16:24], h.SourceID[:])
	}
	return b
}

func parseHeader(b []byte) (header, bool) {
	if len(b) < ShortHeaderSize {
		return header{}, false
	}
	var h header
	copy(h.DestID[:], b[0:8])
	h.Number = binary.BigEndian.Uint32(b[8:12])
	h.Type = packetType(b[12])
	if !h.long() {
		return h, h.Type == typeData
	}
	if len(b) < LongHeaderSize {
		return header{}, false
	}
	h.Version = b[13]
	h.NetworkID = b[14]
	h.Flags = b[15]
	copy(h.SourceID[:], b[16:24])
	return h, true
}

// IntroKey derives a router's header protection key from its static key.
func IntroKey(static [32]byte) [32]byte {
	return crypto.Hash([]byte("datagram intro key"), static[:])
}

// maskHeader XORs the first hdrLen bytes of packet with the keystreams of
// k1 and k2. It is its own inverse.
func maskHeader(packet []byte, hdrLen int, k1, k2 [32]byte) error {
	if len(packet) < hdrLen+crypto.MaskNonceSize {
		return failure.Wrapf(ErrPacket, "packet of %d bytes too short to mask", len(packet))
	}
	nonce := packet[len(packet)-crypto.MaskNonceSize:]
	if err := crypto.HeaderMask(k1[:], nonce, packet[:ConnIDSize]); err != nil {
		return err
	}
	return crypto.HeaderMask(k2[:], nonce, packet[ConnIDSize:hdrLen])
}

// peekDestID unmasks only the destination connection ID.
func peekDestID(packet []byte, k1 [32]byte) (ConnID, bool) {
	var id ConnID
	if len(packet) < ShortHeaderSize+crypto.MaskNonceSize {
		return id, false
	}
	copy(id[:], packet[:ConnIDSize])
	nonce := packet[len(packet)-crypto.MaskNonceSize:]
	if err := crypto.HeaderMask(k1[:], nonce, id[:]); err != nil {
		return id, false
	}
	return id, true
}

// openHeader unmasks a copy of packet with k2 and returns the header and
// the clear packet when the result is a well formed header of the
// expected kind.
func openHeader(packet []byte, k1, k2 [32]byte, long bool) (header, []byte, bool) {
	hdrLen := ShortHeaderSize
	if long {
		hdrLen = LongHeaderSize
	}
	if len(packet) < hdrLen+crypto.MaskNonceSize {
		return header{}, nil, false
	}
	clear := append([]byte(nil), packet...)
	if err := maskHeader(clear, hdrLen, k1, k2); err != nil {
		return header{}, nil, false
	}
	h, ok := parseHeader(clear)
	if !ok || h.long() != long {
		return header{}, nil, false
	}
	return h, clear, true
}

// handshakeHeader describes a handshake packet.
func handshakeHeader(t packetType, dest, source ConnID, networkID byte) header {
	return header{
		DestID:    dest,
		Type:      t,
		Version:   noise.ProtocolVersion,
		NetworkID: networkID,
		SourceID:  source,
	}
}

// sealHandshake frames a handshake message and masks the header.
func sealHandshake(h header, msg []byte, intro [32]byte) ([]byte, error) {
	pkt := append(h.encode(), msg...)
	if err := maskHeader(pkt, LongHeaderSize, intro, intro); err != nil {
		return nil, err
	}
	return pkt, nil
}
