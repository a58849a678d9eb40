package crypto

import (
	"crypto/subtle"

	"github.com/go-i2p/crypto/rand"
	"golang.org/x/crypto/curve25519"
)

// X25519Keypair is a Curve25519 DH keypair.
type X25519Keypair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateX25519 returns a fresh random keypair.
func GenerateX25519() (*X25519Keypair, error) {
	kp := new(X25519Keypair)
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// X25519Public derives the public key for priv.
func X25519Public(priv [32]byte) ([32]byte, error) {
	var out [32]byte
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return out, err
	}
	copy(out[:], pub)
	return out, nil
}

// DH computes the X25519 shared secret. An all-zero result means the peer
// sent a low order point and is rejected.
func DH(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, ErrLowOrderPoint
	}
	copy(out[:], shared)
	var zero [32]byte
	if subtle.ConstantTimeCompare(out[:], zero[:]) == 1 {
		return out, ErrLowOrderPoint
	}
	return out, nil
}

// Zero wipes the private half.
func (kp *X25519Keypair) Zero() {
	if kp == nil {
		return
	}
	Zero32(&kp.Private)
}
