// Package identity holds the router's long-term keys.
//
// A router identity is an Ed25519 signing keypair plus an X25519 static
// keypair. Its hash is SHA-256 over the two public keys and names the
// router everywhere else in the system. Private keys never leave this
// package; callers sign and run DH through a Provider.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// PublicSize is the length of a serialized public identity.
const PublicSize = crypto.SigningPublicKeySize + 32

// Public is the shareable half of an identity.
type Public struct {
	SigningKey [crypto.SigningPublicKeySize]byte
	StaticKey  [32]byte
}

// Bytes serializes the identity as signing key followed by static key.
func (p Public) Bytes() []byte {
	out := make([]byte, 0, PublicSize)
	out = append(out, p.SigningKey[:]...)
	return append(out, p.StaticKey[:]...)
}

// Hash returns the identity hash.
func (p Public) Hash() data.Hash {
	return data.HashData(p.Bytes())
}

// Verify checks an Ed25519 signature made by this identity.
func (p Public) Verify(msg, sig []byte) error {
	return crypto.Verify(p.SigningKey[:], msg, sig)
}

// ParsePublic decodes a serialized public identity.
func ParsePublic(b []byte) (Public, error) {
	var p Public
	if len(b) != PublicSize {
		return p, ErrPublicSize
	}
	copy(p.SigningKey[:], b[:crypto.SigningPublicKeySize])
	copy(p.StaticKey[:], b[crypto.SigningPublicKeySize:])
	return p, nil
}

// Provider gives scoped access to the local private keys.
type Provider interface {
	Public() Public
	Hash() data.Hash
	// Sign signs msg with the signing key.
	Sign(msg []byte) []byte
	// DH runs X25519 between the static private key and remote.
	DH(remote [32]byte) ([32]byte, error)
}

// Identity is a complete local identity. It is immutable after creation.
type Identity struct {
	signing *crypto.SigningKeypair
	static  crypto.X25519Keypair
	public  Public
	hash    data.Hash
}

var _ Provider = (*Identity)(nil)

// Generate creates a fresh identity.
func Generate() (*Identity, error) {
	signing, err := crypto.GenerateSigning()
	if err != nil {
		return nil, err
	}
	static, err := crypto.GenerateX25519()
	if err != nil {
		signing.Zero()
		return nil, err
	}
	id := assemble(signing, *static)
	static.Zero()
	log.WithField("hash", Short(id.hash)).Debug("generated router identity")
	return id, nil
}

// FromSeeds rebuilds an identity from its Ed25519 seed and X25519 private key.
func FromSeeds(signingSeed []byte, staticPrivate [32]byte) (*Identity, error) {
	signing, err := crypto.SigningFromSeed(signingSeed)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.X25519Public(staticPrivate)
	if err != nil {
		signing.Zero()
		return nil, err
	}
	return assemble(signing, crypto.X25519Keypair{Private: staticPrivate, Public: pub}), nil
}

func assemble(signing *crypto.SigningKeypair, static crypto.X25519Keypair) *Identity {
	id := &Identity{signing: signing, static: static}
	copy(id.public.SigningKey[:], signing.Public)
	id.public.StaticKey = static.Public
	id.hash = id.public.Hash()
	return id
}

// Public returns the public identity.
func (id *Identity) Public() Public { return id.public }

// Hash returns the identity hash.
func (id *Identity) Hash() data.Hash { return id.hash }

// Sign signs msg.
func (id *Identity) Sign(msg []byte) []byte {
	return id.signing.Sign(msg)
}

// DH computes the X25519 shared secret with remote.
func (id *Identity) DH(remote [32]byte) ([32]byte, error) {
	return crypto.DH(id.static.Private, remote)
}

// Zero wipes the private keys. The identity is unusable afterwards.
func (id *Identity) Zero() {
	id.signing.Zero()
	id.static.Zero()
}

func (id *Identity) seed() []byte {
	return ed25519.PrivateKey(id.signing.Private).Seed()
}

// Short renders the first 4 bytes of a hash for log lines.
func Short(h data.Hash) string {
	return hex.EncodeToString(h[:4])
}
