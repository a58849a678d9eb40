package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashSize is the SHA-256 output size used for transcript hashes.
const HashSize = sha256.Size

// HKDF2 is the Noise HKDF with two outputs. The chaining key is the HMAC
// salt and ikm the input key material.
func HKDF2(ck, ikm []byte) (out1, out2 [32]byte) {
	r := hkdf.New(sha256.New, ikm, ck, nil)
	if _, err := io.ReadFull(r, out1[:]); err != nil {
		panic("hkdf: " + err.Error())
	}
	if _, err := io.ReadFull(r, out2[:]); err != nil {
		panic("hkdf: " + err.Error())
	}
	return out1, out2
}

// DeriveKey expands secret into n bytes bound to salt and the info label.
func DeriveKey(secret, salt []byte, info string, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		panic("hkdf: " + err.Error())
	}
	return out
}

// DeriveKey32 is DeriveKey for a single 32 byte key.
func DeriveKey32(secret, salt []byte, info string) [32]byte {
	var k [32]byte
	copy(k[:], DeriveKey(secret, salt, info, 32))
	return k
}

// Hash returns SHA-256 over the concatenation of parts.
func Hash(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
