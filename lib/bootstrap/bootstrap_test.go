package bootstrap

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords(t *testing.T, n int) []netdb.PeerRecord {
	t.Helper()
	out := make([]netdb.PeerRecord, n)
	for i := range out {
		id, err := identity.Generate()
		require.NoError(t, err)
		addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, byte(i), 0, 1}), 9000)
		out[i] = netdb.NewPeerRecord(id.Public(), addr, addr, netdb.CapReachable, time.Now().Truncate(time.Second))
	}
	return out
}

func TestFileBootstrapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	recs := testRecords(t, 3)
	require.NoError(t, WritePeers(path, recs))

	got, err := NewFileBootstrap(path).GetPeers(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range recs {
		assert.Equal(t, recs[i].Hash, got[i].Hash)
		assert.Equal(t, recs[i].StreamAddr, got[i].StreamAddr)
		assert.True(t, recs[i].Published.Equal(got[i].Published))
		assert.True(t, got[i].Consistent())
	}

	got, err = NewFileBootstrap(path).GetPeers(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFileBootstrapSkipsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	require.NoError(t, WritePeers(path, testRecords(t, 1)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = append(raw, []byte("    - identity: bm90IGEga2V5\n      stream: 10.0.0.1:1\n")...)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	got, err := NewFileBootstrap(path).GetPeers(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileBootstrapMissing(t *testing.T) {
	_, err := NewFileBootstrap(filepath.Join(t.TempDir(), "none.yaml")).GetPeers(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoPeers)
	assert.ErrorIs(t, err, failure.Exhausted)
}

func TestCompositeFallsThrough(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, WritePeers(good, testRecords(t, 2)))

	cb := NewCompositeBootstrap(NewFileBootstrap(filepath.Join(dir, "missing.yaml")), NewFileBootstrap(good))
	got, err := cb.GetPeers(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = NewCompositeBootstrap(NewFileBootstrap(filepath.Join(dir, "missing.yaml"))).GetPeers(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	recs := testRecords(t, 3)
	recs[1].Hash[0] ^= 0xFF
	require.NoError(t, WritePeers(path, recs))

	db := netdb.NewMemoryPeerDB()
	n, err := Seed(context.Background(), db, NewFileBootstrap(path), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "hash is recomputed from the identity on load")
	assert.Equal(t, 3, db.Size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Seed(ctx, db, NewFileBootstrap(path), 0)
	assert.ErrorIs(t, err, failure.Cancelled)
}
