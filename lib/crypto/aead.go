package crypto

import (
	"crypto/cipher"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of every symmetric key in the system.
	KeySize = chacha20poly1305.KeySize
	// TagSize is the Poly1305 tag appended by Seal.
	TagSize = chacha20poly1305.Overhead
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize
)

// Nonce expands a counter into the Noise nonce layout: four zero bytes
// followed by the little-endian counter.
func Nonce(counter uint64) [NonceSize]byte {
	var n [NonceSize]byte
	binary.LittleEndian.PutUint64(n[4:], counter)
	return n
}

// NewAEAD returns a ChaCha20-Poly1305 instance for key.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return chacha20poly1305.New(key)
}

// Seal encrypts and authenticates plaintext under key with the counter nonce.
func Seal(key []byte, counter uint64, ad, plaintext []byte) ([]byte, error) {
	aead, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := Nonce(counter)
	return aead.Seal(make([]byte, 0, len(plaintext)+TagSize), nonce[:], plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext. Every failure is reported as
// ErrOpen so callers cannot leak which check failed.
func Open(key []byte, counter uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < TagSize {
		return nil, ErrOpen
	}
	nonce := Nonce(counter)
	out, err := aead.Open(make([]byte, 0, len(ciphertext)-TagSize), nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}

// RekeyNonce is reserved for Rekey and never used for data.
const RekeyNonce = ^uint64(0)

// Rekey returns the Noise REKEY of key: the first 32 bytes of the
// encryption of 32 zero bytes under the reserved maximum nonce.
func Rekey(key [32]byte) ([32]byte, error) {
	var next [32]byte
	var zeros [32]byte
	out, err := Seal(key[:], RekeyNonce, nil, zeros[:])
	if err != nil {
		return next, err
	}
	copy(next[:], out[:32])
	Zero(out)
	return next, nil
}
