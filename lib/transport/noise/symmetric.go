package noise

import (
	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// symmetricState is the Noise SymmetricState: the chaining key, the
// transcript hash and the current cipher key with its nonce.
type symmetricState struct {
	ck     [32]byte
	h      [32]byte
	k      [32]byte
	hasKey bool
	n      uint64
}

func newSymmetricState(protocolName string) *symmetricState {
	s := &symmetricState{}
	if len(protocolName) <= 32 {
		copy(s.h[:], protocolName)
	} else {
		s.h = crypto.Hash([]byte(protocolName))
	}
	s.ck = s.h
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	s.h = crypto.Hash(s.h[:], data)
}

func (s *symmetricState) mixKey(ikm []byte) {
	ck, k := crypto.HKDF2(s.ck[:], ikm)
	s.ck = ck
	s.k = k
	s.hasKey = true
	s.n = 0
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(plaintext)
		return append([]byte(nil), plaintext...), nil
	}
	ct, err := crypto.Seal(s.k[:], s.n, s.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	s.n++
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if !s.hasKey {
		s.mixHash(ciphertext)
		return append([]byte(nil), ciphertext...), nil
	}
	pt, err := crypto.Open(s.k[:], s.n, s.h[:], ciphertext)
	if err != nil {
		return nil, err
	}
	s.n++
	s.mixHash(ciphertext)
	return pt, nil
}

// split derives the two transport keys. The first is the initiator's send key.
func (s *symmetricState) split() (k1, k2 [32]byte) {
	return crypto.HKDF2(s.ck[:], nil)
}

func (s *symmetricState) zero() {
	crypto.Zero32(&s.ck)
	crypto.Zero32(&s.k)
	s.hasKey = false
	s.n = 0
}
