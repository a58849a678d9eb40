package crypto

import "golang.org/x/crypto/chacha20"

// MaskNonceSize is the nonce length consumed by HeaderMask.
const MaskNonceSize = chacha20.NonceSize

// HeaderMask XORs dst with the ChaCha20 keystream for key and nonce. The
// operation is its own inverse.
func HeaderMask(key, nonce, dst []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return err
	}
	c.XORKeyStream(dst, dst)
	return nil
}
