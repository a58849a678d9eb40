package netdb

import (
	"net/netip"
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(t *testing.T, caps string) PeerRecord {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return NewPeerRecord(id.Public(),
		netip.MustParseAddrPort("10.0.0.1:1000"),
		netip.MustParseAddrPort("10.0.0.1:1001"),
		caps, time.Now())
}

func TestMemoryPeerDB_StoreResolve(t *testing.T) {
	db := NewMemoryPeerDB()
	rec := newRecord(t, CapReachable)
	require.NoError(t, db.Store(rec))

	got, ok := db.Resolve(rec.Hash)
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Equal(t, 1, db.Size())

	db.Remove(rec.Hash)
	_, ok = db.Resolve(rec.Hash)
	assert.False(t, ok)
}

func TestMemoryPeerDB_RejectsInconsistentRecord(t *testing.T) {
	db := NewMemoryPeerDB()
	rec := newRecord(t, "")
	rec.StaticKey[0] ^= 1
	assert.ErrorIs(t, db.Store(rec), ErrInconsistentRecord)
}

func TestMemoryPeerDB_KeepsNewestRecord(t *testing.T) {
	db := NewMemoryPeerDB()
	rec := newRecord(t, "R")
	require.NoError(t, db.Store(rec))

	older := rec
	older.Caps = "U"
	older.Published = rec.Published.Add(-time.Hour)
	require.NoError(t, db.Store(older))

	got, _ := db.Resolve(rec.Hash)
	assert.Equal(t, "R", got.Caps)
}

func TestMemoryPeerDB_FindPeersExcludesAndFilters(t *testing.T) {
	db := NewMemoryPeerDB()
	var all []PeerRecord
	for i := 0; i < 6; i++ {
		caps := CapReachable
		if i%2 == 1 {
			caps = CapUnreachable
		}
		rec := newRecord(t, caps)
		require.NoError(t, db.Store(rec))
		all = append(all, rec)
	}

	found := db.FindPeers(10, []common.Hash{all[0].Hash}, func(r PeerRecord) bool {
		return r.HasCaps(CapReachable)
	})
	assert.Len(t, found, 2)
	for _, rec := range found {
		assert.NotEqual(t, all[0].Hash, rec.Hash)
		assert.True(t, rec.HasCaps(CapReachable))
	}

	assert.Len(t, db.FindPeers(3, nil, nil), 3)
	assert.Empty(t, db.FindPeers(0, nil, nil))
}

func TestMemoryPeerDB_Expire(t *testing.T) {
	db := NewMemoryPeerDB()
	rec := newRecord(t, "")
	rec.Published = time.Now().Add(-PeerMaxAge - time.Minute)
	require.NoError(t, db.Store(rec))
	assert.Equal(t, 1, db.Expire())
	assert.Equal(t, 0, db.Size())
}

func TestPeerTracker_StaleAfterConsecutiveFailures(t *testing.T) {
	pt := NewPeerTracker()
	rec := newRecord(t, "")
	filter := pt.NotStale()

	assert.True(t, filter(rec))
	for i := 0; i < 3; i++ {
		pt.RecordFailure(rec.Hash, "timeout")
	}
	assert.True(t, pt.IsLikelyStale(rec.Hash))
	assert.False(t, filter(rec))

	pt.RecordSuccess(rec.Hash, 20*time.Millisecond)
	assert.False(t, pt.IsLikelyStale(rec.Hash))
	assert.Equal(t, 20*time.Millisecond, pt.Stats(rec.Hash).AvgHandshake)
}
