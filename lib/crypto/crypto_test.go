package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTripAndTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	ct, err := Seal(key, 7, []byte("ad"), []byte("hello tunnel"))
	require.NoError(t, err)
	assert.Len(t, ct, len("hello tunnel")+TagSize)

	pt, err := Open(key, 7, []byte("ad"), ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello tunnel"), pt)

	_, err = Open(key, 8, []byte("ad"), ct)
	assert.ErrorIs(t, err, ErrOpen, "wrong nonce must fail")

	ct[0] ^= 0x01
	_, err = Open(key, 7, []byte("ad"), ct)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = Open(key, 7, nil, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNonceLayout(t *testing.T) {
	n := Nonce(0x0102030405060708)
	assert.Equal(t, []byte{0, 0, 0, 0, 8, 7, 6, 5, 4, 3, 2, 1}, n[:])
}

func TestDHAgreement(t *testing.T) {
	a, err := GenerateX25519()
	require.NoError(t, err)
	b, err := GenerateX25519()
	require.NoError(t, err)

	ab, err := DH(a.Private, b.Public)
	require.NoError(t, err)
	ba, err := DH(b.Private, a.Public)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	var zero [32]byte
	_, err = DH(a.Private, zero)
	assert.Error(t, err, "all-zero public key is low order")
}

func TestElligatorRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		kp, err := GenerateObfuscatedKeypair()
		require.NoError(t, err)

		decoded := DecodeRepresentative(kp.Representative)
		assert.Equal(t, kp.Public, decoded, "representative must decode to the public key")

		peer, err := GenerateX25519()
		require.NoError(t, err)
		s1, err := DH(kp.Private, peer.Public)
		require.NoError(t, err)
		s2, err := DH(peer.Private, decoded)
		require.NoError(t, err)
		assert.Equal(t, s1, s2)
	}
}

func TestElligatorDecodeAcceptsAnyBytes(t *testing.T) {
	var r [32]byte
	for i := range r {
		r[i] = 0xff
	}
	u := DecodeRepresentative(r)
	assert.NotEqual(t, [32]byte{}, u)
}

func TestElligatorTopBitsVary(t *testing.T) {
	seen := map[byte]bool{}
	for i := 0; i < 64 && len(seen) < 2; i++ {
		kp, err := GenerateObfuscatedKeypair()
		require.NoError(t, err)
		seen[kp.Representative[31]&0xc0] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2, "padding bits should be random")
}

func TestLengthObfuscatorSymmetry(t *testing.T) {
	material := make([]byte, SipKeySize)
	for i := range material {
		material[i] = byte(i)
	}
	tx, err := NewLengthObfuscator(material)
	require.NoError(t, err)
	rx, err := NewLengthObfuscator(material)
	require.NoError(t, err)

	buf := make([]byte, 2)
	var masks [][]byte
	for _, n := range []uint16{16, 16, 65535, 0, 1234} {
		tx.Obfuscate(buf, n)
		masks = append(masks, append([]byte(nil), buf...))
		assert.Equal(t, n, rx.Deobfuscate(buf))
	}
	assert.NotEqual(t, masks[0], masks[1], "identical lengths must not repeat on the wire")

	_, err = NewLengthObfuscator(material[:10])
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestHeaderMaskIsInvolution(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	nonce := bytes.Repeat([]byte{0x01}, MaskNonceSize)
	hdr := []byte("0123456789abcdef")
	orig := append([]byte(nil), hdr...)

	require.NoError(t, HeaderMask(key, nonce, hdr))
	assert.NotEqual(t, orig, hdr)
	require.NoError(t, HeaderMask(key, nonce, hdr))
	assert.Equal(t, orig, hdr)
}

func TestTunnelLayerInverse(t *testing.T) {
	var lk, ik [32]byte
	lk[0], ik[0] = 1, 2
	layer, err := NewTunnelLayer(lk, ik)
	require.NoError(t, err)

	var td TunnelData
	for i := range td {
		td[i] = byte(i)
	}
	orig := td
	layer.Encrypt(&td)
	assert.NotEqual(t, orig, td)
	assert.Equal(t, orig[:TunnelIVOffset], td[:TunnelIVOffset], "tunnel ID is outside the layer")
	layer.Decrypt(&td)
	assert.Equal(t, orig, td)
}

func TestSigning(t *testing.T) {
	kp, err := GenerateSigning()
	require.NoError(t, err)
	sig := kp.Sign([]byte("transcript"))
	assert.NoError(t, Verify(kp.Public, []byte("transcript"), sig))
	assert.ErrorIs(t, Verify(kp.Public, []byte("other"), sig), ErrBadSignature)

	again, err := SigningFromSeed(kp.Private.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, again.Public)
}

func TestHKDF2Deterministic(t *testing.T) {
	a1, a2 := HKDF2([]byte("ck"), []byte("ikm"))
	b1, b2 := HKDF2([]byte("ck"), []byte("ikm"))
	assert.Equal(t, a1, b1)
	assert.Equal(t, a2, b2)
	assert.NotEqual(t, a1, a2)

	k := DeriveKey32([]byte("secret"), nil, "label")
	assert.NotEqual(t, DeriveKey32([]byte("secret"), nil, "other"), k)
}

func TestZero(t *testing.T) {
	k := [32]byte{1, 2, 3}
	Zero32(&k)
	assert.Equal(t, [32]byte{}, k)
}

func TestRekeyChangesKeyDeterministically(t *testing.T) {
	var k [32]byte
	k[0] = 9
	a, err := Rekey(k)
	require.NoError(t, err)
	b, err := Rekey(k)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, k, a)
}
