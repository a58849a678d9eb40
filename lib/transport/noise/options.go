package noise

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
)

// ProtocolVersion is the only handshake version spoken.
const ProtocolVersion = 2

// OptionsSize is the cleartext size of the message 1 and 2 options block.
const OptionsSize = 16

// Options is the block sealed into messages 1 and 2.
type Options struct {
	Version   uint8
	NetworkID uint8
	// PaddingLen is the length of the clear padding that follows the block.
	PaddingLen uint16
	// Message3Len is the size of message 3 part 2. Only the initiator sets it.
	Message3Len uint16
	Timestamp   uint32
}

// Time returns the timestamp as a time.Time.
func (o Options) Time() time.Time {
	return clock.FromUnix32(o.Timestamp)
}

// Bytes encodes the block. Reserved bytes are zero.
func (o Options) Bytes() []byte {
	b := make([]byte, OptionsSize)
	b[0] = o.Version
	b[1] = o.NetworkID
	binary.BigEndian.PutUint16(b[2:4], o.PaddingLen)
	binary.BigEndian.PutUint16(b[4:6], o.Message3Len)
	binary.BigEndian.PutUint32(b[8:12], o.Timestamp)
	return b
}

// ParseOptions decodes an options block. Reserved bytes are ignored.
func ParseOptions(b []byte) (Options, error) {
	if len(b) != OptionsSize {
		return Options{}, failure.Wrapf(ErrMalformed, "options block is %d bytes, want %d", len(b), OptionsSize)
	}
	return Options{
		Version:     b[0],
		NetworkID:   b[1],
		PaddingLen:  binary.BigEndian.Uint16(b[2:4]),
		Message3Len: binary.BigEndian.Uint16(b[4:6]),
		Timestamp:   binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// check validates version, network and clock skew.
func (o Options) check(networkID byte, now time.Time, tolerance time.Duration) error {
	if o.Version != ProtocolVersion {
		return failure.Wrapf(ErrVersion, "peer version %d", o.Version)
	}
	if o.NetworkID != networkID {
		return failure.Wrapf(ErrNetwork, "peer network %d, ours %d", o.NetworkID, networkID)
	}
	if err := clock.CheckSkew(now, o.Time(), tolerance); err != nil {
		return failure.Wrap(ErrClockSkew, err)
	}
	return nil
}
