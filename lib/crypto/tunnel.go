package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

const (
	// TunnelMessageSize is the fixed size of a tunnel message: tunnel ID,
	// IV and the encrypted data block.
	TunnelMessageSize = 1028
	// TunnelIVOffset is where the 16 byte IV starts.
	TunnelIVOffset = 4
	// TunnelDataOffset is where the data block starts.
	TunnelDataOffset = 20
	// TunnelDataSize is the size of the layered data block.
	TunnelDataSize = TunnelMessageSize - TunnelDataOffset
)

// TunnelData is one tunnel message.
type TunnelData [TunnelMessageSize]byte

// TunnelLayer is a single hop's symmetric layer: AES-256-CBC under the
// layer key with the IV encrypted under the IV key before and after.
// There is no authentication.
type TunnelLayer struct {
	layerKey cipher.Block
	ivKey    cipher.Block
}

// NewTunnelLayer builds the layer for one hop.
func NewTunnelLayer(layerKey, ivKey [32]byte) (*TunnelLayer, error) {
	lk, err := aes.NewCipher(layerKey[:])
	if err != nil {
		return nil, err
	}
	ik, err := aes.NewCipher(ivKey[:])
	if err != nil {
		return nil, err
	}
	return &TunnelLayer{layerKey: lk, ivKey: ik}, nil
}

// Encrypt applies the layer in place.
func (t *TunnelLayer) Encrypt(td *TunnelData) {
	iv := td[TunnelIVOffset:TunnelDataOffset]
	data := td[TunnelDataOffset:]
	t.ivKey.Encrypt(iv, iv)
	cipher.NewCBCEncrypter(t.layerKey, iv).CryptBlocks(data, data)
	t.ivKey.Encrypt(iv, iv)
}

// Decrypt removes the layer in place.
func (t *TunnelLayer) Decrypt(td *TunnelData) {
	iv := td[TunnelIVOffset:TunnelDataOffset]
	data := td[TunnelDataOffset:]
	t.ivKey.Decrypt(iv, iv)
	cipher.NewCBCDecrypter(t.layerKey, iv).CryptBlocks(data, data)
	t.ivKey.Decrypt(iv, iv)
}

// CBCEncrypt encrypts buf in place with AES-256-CBC. len(buf) must be a
// multiple of the block size. Used for build record reply layering.
func CBCEncrypt(key [32]byte, iv [16]byte, buf []byte) error {
	b, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}
	cipher.NewCBCEncrypter(b, iv[:]).CryptBlocks(buf, buf)
	return nil
}

// CBCDecrypt reverses CBCEncrypt.
func CBCDecrypt(key [32]byte, iv [16]byte, buf []byte) error {
	b, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}
	cipher.NewCBCDecrypter(b, iv[:]).CryptBlocks(buf, buf)
	return nil
}
