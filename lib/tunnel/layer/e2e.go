package layer

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
	"golang.zx2c4.com/wireguard/replay"
)

const (
	seqSize    = 8
	lengthSize = 2
	// sealedSize is the plaintext sealed into every block: the length
	// prefix, the payload and zero fill up to the block size.
	sealedSize = crypto.TunnelDataSize - seqSize - crypto.TagSize
	// MaxPayload is the largest plaintext one tunnel message carries.
	MaxPayload = sealedSize - lengthSize
)

// Seal wraps plaintext for the far endpoint. The sequence number travels
// in clear as associated data; the length, the payload and the fill are
// all sealed, so every bit of the block is authenticated.
func Seal(key [32]byte, seq uint64, plaintext []byte) (*[crypto.TunnelDataSize]byte, error) {
	if len(plaintext) > MaxPayload {
		return nil, failure.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d", len(plaintext), MaxPayload)
	}
	inner := make([]byte, sealedSize)
	defer crypto.Zero(inner)
	binary.BigEndian.PutUint16(inner[:lengthSize], uint16(len(plaintext)))
	copy(inner[lengthSize:], plaintext)

	out := new([crypto.TunnelDataSize]byte)
	binary.BigEndian.PutUint64(out[:seqSize], seq)
	ct, err := crypto.Seal(key[:], seq, out[:seqSize], inner)
	if err != nil {
		return nil, err
	}
	copy(out[seqSize:], ct)
	return out, nil
}

// Open verifies and unwraps a data block. It does not check for replay.
func Open(key [32]byte, data []byte) (uint64, []byte, error) {
	if len(data) != crypto.TunnelDataSize {
		return 0, nil, failure.Wrapf(ErrAuthentication, "data block of %d bytes", len(data))
	}
	seq := binary.BigEndian.Uint64(data[:seqSize])
	inner, err := crypto.Open(key[:], seq, data[:seqSize], data[seqSize:])
	if err != nil {
		return 0, nil, ErrAuthentication
	}
	n := int(binary.BigEndian.Uint16(inner[:lengthSize]))
	if n > MaxPayload {
		return 0, nil, failure.Wrapf(ErrAuthentication, "length %d", n)
	}
	return seq, inner[lengthSize : lengthSize+n], nil
}

// Sealer numbers and seals the messages one logical endpoint sends.
type Sealer struct {
	mu  sync.Mutex
	key [32]byte
	seq uint64
}

// NewSealer returns a sealer starting at sequence zero.
func NewSealer(key [32]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal wraps plaintext under the next sequence number.
func (s *Sealer) Seal(plaintext []byte) (*[crypto.TunnelDataSize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == math.MaxUint64 {
		return nil, ErrExhausted
	}
	out, err := Seal(s.key, s.seq, plaintext)
	if err != nil {
		return nil, err
	}
	s.seq++
	return out, nil
}

// Zero wipes the key.
func (s *Sealer) Zero() {
	s.mu.Lock()
	crypto.Zero32(&s.key)
	s.mu.Unlock()
}

// Opener verifies messages and drops replayed sequence numbers.
type Opener struct {
	mu     sync.Mutex
	key    [32]byte
	window replay.Filter
}

// NewOpener returns an opener with an empty replay window.
func NewOpener(key [32]byte) *Opener {
	return &Opener{key: key}
}

// Open verifies data and rejects a sequence number seen before or fallen
// out of the window.
func (o *Opener) Open(data []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seq, pt, err := Open(o.key, data)
	if err != nil {
		return nil, err
	}
	if !o.window.ValidateCounter(seq, math.MaxUint64) {
		log.WithFields(logger.Fields{
			"at":  "(Opener) Open",
			"seq": seq,
		}).Debug("dropping replayed tunnel message")
		return nil, failure.Wrapf(ErrReplay, "sequence %d", seq)
	}
	return pt, nil
}

// Zero wipes the key.
func (o *Opener) Zero() {
	o.mu.Lock()
	crypto.Zero32(&o.key)
	o.mu.Unlock()
}
