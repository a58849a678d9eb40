package crypto

import "runtime"

// Zero overwrites b. It is called on every buffer that held private or
// session key material once the owner is done with it.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Zero32 overwrites a fixed size key.
func Zero32(k *[32]byte) {
	if k == nil {
		return
	}
	Zero(k[:])
}
