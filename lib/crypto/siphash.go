package crypto

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// SipKeySize is the size of one direction's SipHash material: two 8 byte
// keys and an 8 byte initial IV.
const SipKeySize = 24

// LengthObfuscator masks 2 byte frame lengths with a SipHash IV chain.
// Each call advances the chain, so the sender and receiver instances for a
// direction must process the same sequence of frames.
type LengthObfuscator struct {
	k0, k1 uint64
	iv     [8]byte
}

// NewLengthObfuscator builds an obfuscator from 24 bytes of key material.
func NewLengthObfuscator(material []byte) (*LengthObfuscator, error) {
	if len(material) != SipKeySize {
		return nil, ErrKeySize
	}
	o := &LengthObfuscator{
		k0: binary.LittleEndian.Uint64(material[0:8]),
		k1: binary.LittleEndian.Uint64(material[8:16]),
	}
	copy(o.iv[:], material[16:24])
	return o, nil
}

func (o *LengthObfuscator) nextMask() (byte, byte) {
	next := siphash.Hash(o.k0, o.k1, o.iv[:])
	binary.LittleEndian.PutUint64(o.iv[:], next)
	return o.iv[0], o.iv[1]
}

// Obfuscate writes the masked big-endian length into dst[0:2].
func (o *LengthObfuscator) Obfuscate(dst []byte, length uint16) {
	m0, m1 := o.nextMask()
	dst[0] = byte(length>>8) ^ m0
	dst[1] = byte(length) ^ m1
}

// Deobfuscate reverses Obfuscate for the next frame.
func (o *LengthObfuscator) Deobfuscate(src []byte) uint16 {
	m0, m1 := o.nextMask()
	return uint16(src[0]^m0)<<8 | uint16(src[1]^m1)
}

// Zero wipes the keys and IV.
func (o *LengthObfuscator) Zero() {
	o.k0, o.k1 = 0, 0
	Zero(o.iv[:])
}
