package crypto

import (
	"sync"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
	"github.com/go-i2p/crypto/rand"
)

// ObfuscatedKeypair is an X25519 keypair whose public key also has an
// Elligator2 representative: 32 bytes indistinguishable from random that
// decode back to the public key.
type ObfuscatedKeypair struct {
	X25519Keypair
	Representative [32]byte
}

// maxElligatorAttempts bounds key generation. Half of all keys are
// representable, so exhausting this is practically impossible.
const maxElligatorAttempts = 128

var (
	curveA = new(field.Element).Mult32(new(field.Element).One(), 486662)
	feOne  = new(field.Element).One()

	torsionOnce  sync.Once
	torsionPoint *edwards25519.Point
)

// order8 is the compressed encoding of a point of order 8 on edwards25519.
var order8 = []byte{
	0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f,
	0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
	0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6,
	0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0x7a,
}

func torsion() *edwards25519.Point {
	torsionOnce.Do(func() {
		p, err := new(edwards25519.Point).SetBytes(order8)
		if err != nil {
			log.WithError(err).Warn("torsion point unavailable, public keys stay in the prime order subgroup")
			p = edwards25519.NewIdentityPoint()
		}
		torsionPoint = p
	})
	return torsionPoint
}

// GenerateObfuscatedKeypair draws keypairs until one has a representative.
//
// A random low order component is added to the public point so the
// representative does not reveal the prime order subgroup. X25519 clamping
// clears that component on the peer's side, so DH results are unchanged.
func GenerateObfuscatedKeypair() (*ObfuscatedKeypair, error) {
	var seed [33]byte
	defer Zero(seed[:])
	for i := 0; i < maxElligatorAttempts; i++ {
		if _, err := rand.Read(seed[:]); err != nil {
			return nil, err
		}
		kp, ok := obfuscatedFromSeed(seed)
		if ok {
			return kp, nil
		}
	}
	return nil, ErrKeySize
}

// obfuscatedFromSeed uses seed[0:32] as the private key, the low three
// bits of seed[32] as the torsion multiple and its top two bits as the
// representative's padding bits.
func obfuscatedFromSeed(seed [33]byte) (*ObfuscatedKeypair, bool) {
	kp := new(ObfuscatedKeypair)
	copy(kp.Private[:], seed[:32])

	s, err := edwards25519.NewScalar().SetBytesWithClamping(kp.Private[:])
	if err != nil {
		return nil, false
	}
	p := new(edwards25519.Point).ScalarBaseMult(s)
	t := edwards25519.NewIdentityPoint()
	for k := byte(0); k < seed[32]&7; k++ {
		t.Add(t, torsion())
	}
	p.Add(p, t)
	copy(kp.Public[:], p.BytesMontgomery())

	repr, ok := elligatorEncode(kp.Public)
	if !ok {
		kp.Zero()
		return nil, false
	}
	repr[31] |= seed[32] & 0xc0
	kp.Representative = repr
	return kp, true
}

// elligatorEncode returns r with u = -A/(1+2r^2) when such r exists.
func elligatorEncode(pub [32]byte) ([32]byte, bool) {
	var out [32]byte
	u, err := new(field.Element).SetBytes(pub[:])
	if err != nil {
		return out, false
	}
	if u.Equal(new(field.Element).Zero()) == 1 {
		return out, false
	}
	// r^2 = -(u + A) / (2u)
	num := new(field.Element).Add(u, curveA)
	num.Negate(num)
	den := new(field.Element).Add(u, u)
	r, wasSquare := new(field.Element).SqrtRatio(num, den)
	if wasSquare != 1 {
		return out, false
	}
	// Pick whichever of r and -r is below 2^254 so the top two bits are free.
	negR := new(field.Element).Negate(r)
	rb := r.Bytes()
	useNeg := int(rb[31]>>6) & 1
	r.Select(negR, r, useNeg)
	copy(out[:], r.Bytes())
	if out[31]&0xc0 != 0 {
		return out, false
	}
	return out, true
}

// DecodeRepresentative maps any 32 bytes to a Curve25519 u-coordinate.
func DecodeRepresentative(repr [32]byte) [32]byte {
	var out [32]byte
	repr[31] &= 0x3f
	r, err := new(field.Element).SetBytes(repr[:])
	if err != nil {
		return out
	}
	// w = -A / (1 + 2r^2)
	d := new(field.Element).Square(r)
	d.Add(d, d)
	d.Add(d, feOne)
	w := new(field.Element).Invert(d)
	w.Multiply(w, curveA)
	w.Negate(w)

	// g(w) = w^3 + A*w^2 + w
	w2 := new(field.Element).Square(w)
	g := new(field.Element).Multiply(w2, w)
	g.Add(g, new(field.Element).Multiply(w2, curveA))
	g.Add(g, w)
	_, isSquare := new(field.Element).SqrtRatio(g, feOne)

	// u = w when g(w) is square, otherwise -w - A.
	alt := new(field.Element).Add(w, curveA)
	alt.Negate(alt)
	u := new(field.Element).Select(w, alt, isSquare)
	copy(out[:], u.Bytes())
	return out
}
