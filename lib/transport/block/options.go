package block

import (
	"encoding/binary"
	"math"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/failure"
)

// Options is the padding and traffic shaping policy a side announces in
// its first data frame. Ratios are relative to the frame payload size.
type Options struct {
	Version uint8
	// PaddingMin and PaddingMax are 4.4 fixed point ratios on the wire.
	PaddingMin float64
	PaddingMax float64
	// DummyMin and DummyMax are seconds between dummy frames, 0 for none.
	DummyMin uint16
	DummyMax uint16
	// DelayMin and DelayMax are intra-message delays in milliseconds.
	DelayMin uint16
	DelayMax uint16
}

const optionsSize = 11

// ParseOptions decodes an Options block body. Trailing bytes are ignored
// for forward compatibility.
func ParseOptions(data []byte) (Options, error) {
	if len(data) < optionsSize {
		return Options{}, failure.Wrapf(ErrBadSize, "options block is %d bytes, need %d", len(data), optionsSize)
	}
	return Options{
		Version:    data[0],
		PaddingMin: decodeFixed44(data[1]),
		PaddingMax: decodeFixed44(data[2]),
		DummyMin:   binary.BigEndian.Uint16(data[3:5]),
		DummyMax:   binary.BigEndian.Uint16(data[5:7]),
		DelayMin:   binary.BigEndian.Uint16(data[7:9]),
		DelayMax:   binary.BigEndian.Uint16(data[9:11]),
	}, nil
}

// Bytes encodes the block body.
func (o Options) Bytes() []byte {
	data := make([]byte, optionsSize)
	data[0] = o.Version
	data[1] = encodeFixed44(o.PaddingMin)
	data[2] = encodeFixed44(o.PaddingMax)
	binary.BigEndian.PutUint16(data[3:5], o.DummyMin)
	binary.BigEndian.PutUint16(data[5:7], o.DummyMax)
	binary.BigEndian.PutUint16(data[7:9], o.DelayMin)
	binary.BigEndian.PutUint16(data[9:11], o.DelayMax)
	return data
}

// Block wraps the options in an Options block.
func (o Options) Block() Block {
	return Block{Type: TypeOptions, Data: o.Bytes()}
}

// Negotiate combines the local policy with the peer's. The result pads at
// least as much as either side asks for and no more than both allow.
func Negotiate(local, remote Options) Options {
	out := local
	out.PaddingMin = math.Max(local.PaddingMin, remote.PaddingMin)
	out.PaddingMax = local.PaddingMax
	if remote.PaddingMax > 0 && remote.PaddingMax < out.PaddingMax {
		out.PaddingMax = remote.PaddingMax
	}
	if out.PaddingMax < out.PaddingMin {
		out.PaddingMax = out.PaddingMin
	}
	return out
}

// PaddingFor picks a random padding length for a payload of n bytes within
// the policy, capped at limit.
func (o Options) PaddingFor(n, limit int) int {
	lo := int(math.Ceil(o.PaddingMin * float64(n)))
	hi := int(math.Floor(o.PaddingMax * float64(n)))
	if hi > limit {
		hi = limit
	}
	if lo > hi {
		lo = hi
	}
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// decodeFixed44 decodes a 4.4 fixed point byte: the high nibble is the
// integer part, the low nibble sixteenths.
func decodeFixed44(b byte) float64 {
	return float64(b>>4) + float64(b&0x0F)/16.0
}

// encodeFixed44 clamps v to [0, 15.9375] and encodes it as 4.4 fixed point.
func encodeFixed44(v float64) byte {
	if v < 0 {
		v = 0
	}
	if v > 15.9375 {
		v = 15.9375
	}
	integer := byte(math.Floor(v))
	fraction := byte(math.Round((v - math.Floor(v)) * 16))
	if fraction > 15 {
		fraction = 15
	}
	return (integer << 4) | (fraction & 0x0F)
}
