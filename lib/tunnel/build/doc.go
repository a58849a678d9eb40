// Package build encodes and decodes tunnel build envelopes.
//
// An envelope is always 8 records of 528 bytes, whatever the hop count.
// Hops occupy a random permutation of the slots and the unused slots hold
// random bytes, so neither a hop nor an observer learns the tunnel length.
//
// Request record:
//
//	toPeer (16) | ephemeral X25519 key (32) | ChaCha20-Poly1305(cleartext 464) + tag (16)
//
// The record key comes from HKDF over the DH of the ephemeral key with the
// hop's static key. The associated data is toPeer || ephemeral.
//
// Each hop replaces its own slot with a reply record, sealed under its
// reply key with the slot index as nonce, then AES-256-CBC encrypts every
// other slot with the reply key and reply IV. The creator pre-applies the
// inverse of the earlier hops' layers to each later record so that every
// hop finds its own record intact, and strips the later hops' layers in
// reverse order when the envelope comes back.
package build
