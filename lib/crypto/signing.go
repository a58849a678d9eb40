package crypto

import (
	"crypto/ed25519"

	"github.com/go-i2p/crypto/rand"
)

const (
	// SigningPublicKeySize is the Ed25519 public key size.
	SigningPublicKeySize = ed25519.PublicKeySize
	// SignatureSize is the Ed25519 signature size.
	SignatureSize = ed25519.SignatureSize
)

// SigningKeypair is an Ed25519 keypair.
type SigningKeypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigning returns a fresh Ed25519 keypair.
func GenerateSigning() (*SigningKeypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	defer Zero(seed)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return SigningFromSeed(seed)
}

// SigningFromSeed rebuilds a keypair from its 32 byte seed.
func SigningFromSeed(seed []byte) (*SigningKeypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKeypair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Sign signs msg.
func (kp *SigningKeypair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// Zero wipes the private key.
func (kp *SigningKeypair) Zero() {
	if kp == nil {
		return
	}
	Zero(kp.Private)
}

// Verify checks sig over msg with the 32 byte public key pub.
func Verify(pub, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
