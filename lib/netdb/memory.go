package netdb

import (
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// PeerMaxAge is how long a record stays valid after its Published time.
const PeerMaxAge = 48 * time.Hour

// maxFutureSkew rejects records published too far in the future.
const maxFutureSkew = 10 * time.Minute

var (
	// ErrInconsistentRecord is returned by Store when the hash does not
	// match the keys.
	ErrInconsistentRecord = oops.New("peer record hash does not match its keys")
	// ErrFuturePublished is returned by Store for records from the future.
	ErrFuturePublished = oops.New("peer record published in the future")
)

// MemoryPeerDB is an in-memory PeerDB.
type MemoryPeerDB struct {
	mu    sync.RWMutex
	peers map[common.Hash]PeerRecord
	now   func() time.Time
}

var _ PeerDB = (*MemoryPeerDB)(nil)

// NewMemoryPeerDB creates an empty database.
func NewMemoryPeerDB() *MemoryPeerDB {
	return &MemoryPeerDB{
		peers: make(map[common.Hash]PeerRecord),
		now:   time.Now,
	}
}

// Store inserts or replaces a record. An older record never replaces a
// newer one.
func (db *MemoryPeerDB) Store(rec PeerRecord) error {
	if !rec.Consistent() {
		return ErrInconsistentRecord
	}
	if rec.Published.After(db.now().Add(maxFutureSkew)) {
		return ErrFuturePublished
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if old, ok := db.peers[rec.Hash]; ok && old.Published.After(rec.Published) {
		log.WithFields(logger.Fields{
			"at":     "(MemoryPeerDB) Store",
			"reason": "stale_update",
			"peer":   shortHash(rec.Hash),
		}).Debug("ignoring older peer record")
		return nil
	}
	db.peers[rec.Hash] = rec
	log.WithFields(logger.Fields{
		"at":   "(MemoryPeerDB) Store",
		"peer": shortHash(rec.Hash),
		"caps": rec.Caps,
	}).Debug("stored peer record")
	return nil
}

// Remove deletes a record.
func (db *MemoryPeerDB) Remove(hash common.Hash) {
	db.mu.Lock()
	delete(db.peers, hash)
	db.mu.Unlock()
}

// Size returns the number of records.
func (db *MemoryPeerDB) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.peers)
}

// Resolve looks up a record by hash.
func (db *MemoryPeerDB) Resolve(hash common.Hash) (PeerRecord, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.peers[hash]
	return rec, ok
}

// FindPeers returns up to count records in random order.
func (db *MemoryPeerDB) FindPeers(count int, exclude []common.Hash, filter Filter) []PeerRecord {
	if count <= 0 {
		return nil
	}
	skip := make(map[common.Hash]struct{}, len(exclude))
	for _, h := range exclude {
		skip[h] = struct{}{}
	}

	db.mu.RLock()
	candidates := make([]PeerRecord, 0, len(db.peers))
	for h, rec := range db.peers {
		if _, excluded := skip[h]; excluded {
			continue
		}
		if filter != nil && !filter(rec) {
			continue
		}
		candidates = append(candidates, rec)
	}
	db.mu.RUnlock()

	// Fisher-Yates with the crypto RNG so selection is not predictable.
	for i := len(candidates) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Expire removes records older than PeerMaxAge and returns how many were
// removed.
func (db *MemoryPeerDB) Expire() int {
	cutoff := db.now().Add(-PeerMaxAge)
	db.mu.Lock()
	defer db.mu.Unlock()
	removed := 0
	for h, rec := range db.peers {
		if rec.Published.Before(cutoff) {
			delete(db.peers, h)
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":        "(MemoryPeerDB) Expire",
			"removed":   removed,
			"remaining": len(db.peers),
		}).Info("expired stale peer records")
	}
	return removed
}
