// Package crypto adapts the primitives used by the transport and tunnel
// layers: ChaCha20-Poly1305, X25519 with Elligator2 encoding, Ed25519,
// the Noise HKDF, SipHash length obfuscation, ChaCha20 header masking and
// the AES-256 tunnel layer.
//
// Everything here is stateless apart from the length obfuscator, whose IV
// chain advances once per frame.
package crypto
