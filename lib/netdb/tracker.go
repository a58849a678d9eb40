package netdb

import (
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// PeerStats tracks handshake outcomes for one peer.
type PeerStats struct {
	Hash             common.Hash
	SuccessCount     int
	FailureCount     int
	LastSuccess      time.Time
	LastFailure      time.Time
	ConsecutiveFails int
	AvgHandshake     time.Duration
}

// PeerTracker records handshake outcomes so selection can skip peers that
// keep failing.
type PeerTracker struct {
	mu    sync.RWMutex
	stats map[common.Hash]*PeerStats
}

// NewPeerTracker creates an empty tracker.
func NewPeerTracker() *PeerTracker {
	return &PeerTracker{stats: make(map[common.Hash]*PeerStats)}
}

func (pt *PeerTracker) entry(hash common.Hash) *PeerStats {
	stats, ok := pt.stats[hash]
	if !ok {
		stats = &PeerStats{Hash: hash}
		pt.stats[hash] = stats
	}
	return stats
}

// RecordSuccess records a completed handshake and how long it took.
func (pt *PeerTracker) RecordSuccess(hash common.Hash, took time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	stats := pt.entry(hash)
	stats.SuccessCount++
	stats.LastSuccess = time.Now()
	stats.ConsecutiveFails = 0
	if stats.AvgHandshake == 0 {
		stats.AvgHandshake = took
	} else {
		stats.AvgHandshake = (stats.AvgHandshake + took) / 2
	}
}

// RecordFailure records a failed handshake.
func (pt *PeerTracker) RecordFailure(hash common.Hash, reason string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	stats := pt.entry(hash)
	stats.FailureCount++
	stats.LastFailure = time.Now()
	stats.ConsecutiveFails++
	log.WithFields(logger.Fields{
		"at":                "(PeerTracker) RecordFailure",
		"peer":              shortHash(hash),
		"consecutive_fails": stats.ConsecutiveFails,
		"reason":            reason,
	}).Debug("recorded handshake failure")
}

// Stats returns a copy of a peer's statistics, or nil.
func (pt *PeerTracker) Stats(hash common.Hash) *PeerStats {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if stats, ok := pt.stats[hash]; ok {
		cp := *stats
		return &cp
	}
	return nil
}

// IsLikelyStale reports whether a peer failed 3 times in a row, or has a
// success rate under 25% after at least 5 attempts.
func (pt *PeerTracker) IsLikelyStale(hash common.Hash) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	stats, ok := pt.stats[hash]
	if !ok {
		return false
	}
	if stats.ConsecutiveFails >= 3 {
		return true
	}
	total := stats.SuccessCount + stats.FailureCount
	return total >= 5 && float64(stats.SuccessCount)/float64(total) < 0.25
}

// NotStale is a Filter that rejects peers IsLikelyStale flags.
func (pt *PeerTracker) NotStale() Filter {
	return func(rec PeerRecord) bool { return !pt.IsLikelyStale(rec.Hash) }
}
