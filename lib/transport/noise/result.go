package noise

import (
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
)

// Result is the outcome of a confirmed handshake.
type Result struct {
	Profile       Profile
	Role          Role
	Remote        identity.Public
	RemoteOptions Options
	SendKey       [32]byte
	RecvKey       [32]byte
	// Hash is the final transcript hash. Both sides hold the same value.
	Hash [32]byte

	ck [32]byte
}

// Derive expands direction specific key material bound to the transcript.
// outbound selects the local sending direction. The two sides obtain the
// same bytes for the same physical direction.
func (r *Result) Derive(label string, outbound bool, n int) []byte {
	dir := "ba"
	if (r.Role == Initiator) == outbound {
		dir = "ab"
	}
	return crypto.DeriveKey(r.ck[:], r.Hash[:], r.Profile.Name+"/"+label+"/"+dir, n)
}

// Zero wipes all key material.
func (r *Result) Zero() {
	crypto.Zero32(&r.SendKey)
	crypto.Zero32(&r.RecvKey)
	crypto.Zero32(&r.ck)
}
