package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesConsistentHash(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	pub := id.Public()
	assert.Equal(t, pub.Hash(), id.Hash())
	assert.Len(t, pub.Bytes(), PublicSize)

	parsed, err := ParsePublic(pub.Bytes())
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)

	_, err = ParsePublic(pub.Bytes()[:10])
	assert.ErrorIs(t, err, ErrPublicSize)
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	sig := id.Sign([]byte("handshake hash"))
	assert.NoError(t, id.Public().Verify([]byte("handshake hash"), sig))
	assert.Error(t, id.Public().Verify([]byte("other"), sig))
}

func TestDHAgreement(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	ab, err := a.DH(b.Public().StaticKey)
	require.NoError(t, err)
	ba, err := b.DH(a.Public().StaticKey)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.yaml")
	id, err := Generate()
	require.NoError(t, err)
	require.NoError(t, id.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, id.Hash(), loaded.Hash())
	assert.Equal(t, id.Public(), loaded.Public())
}

func TestLoadOrCreateKeepsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), second.Hash())
}

func TestLoadOrCreateRefusesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nsigning_seed: '!!!'\n"), 0o600))

	_, err := LoadOrCreate(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptFile))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "!!!", "corrupt file must not be overwritten")
}
