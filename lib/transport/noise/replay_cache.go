package noise

import (
	"sync"
	"time"
)

const (
	// replayCacheCleanupInterval is how often expired entries are evicted.
	replayCacheCleanupInterval = 30 * time.Second

	// replayCacheMaxSize bounds the cache under attack.
	replayCacheMaxSize = 100000
)

// ReplayCache remembers message 1 ephemeral representatives for a TTL of
// twice the clock skew tolerance. A message 1 older than that fails the
// skew check anyway, so the cache never needs to be larger than the window.
//
// One cache is shared by every responder of a router.
type ReplayCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[[32]byte]time.Time
	done    chan struct{}
	once    sync.Once
}

// NewReplayCache creates a cache and starts its cleanup goroutine. Call
// Close when done.
func NewReplayCache(skewTolerance time.Duration) *ReplayCache {
	rc := &ReplayCache{
		ttl:     2 * skewTolerance,
		entries: make(map[[32]byte]time.Time),
		done:    make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// CheckAndAdd records key and reports whether it was already present
// within the TTL.
func (rc *ReplayCache) CheckAndAdd(key [32]byte) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	if firstSeen, exists := rc.entries[key]; exists && now.Sub(firstSeen) < rc.ttl {
		return true
	}
	if len(rc.entries) >= replayCacheMaxSize {
		rc.evictOldest()
	}
	rc.entries[key] = now
	return false
}

// Size returns the number of entries.
func (rc *ReplayCache) Size() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.entries)
}

// Close stops the cleanup goroutine.
func (rc *ReplayCache) Close() {
	rc.once.Do(func() { close(rc.done) })
}

func (rc *ReplayCache) cleanupLoop() {
	ticker := time.NewTicker(replayCacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rc.done:
			return
		case <-ticker.C:
			rc.evictExpired()
		}
	}
}

func (rc *ReplayCache) evictExpired() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cutoff := time.Now().Add(-rc.ttl)
	for key, firstSeen := range rc.entries {
		if firstSeen.Before(cutoff) {
			delete(rc.entries, key)
		}
	}
}

// evictOldest drops a tenth of the entries, oldest half first.
// Must be called with mu held.
func (rc *ReplayCache) evictOldest() {
	evictCount := len(rc.entries) / 10
	if evictCount < 1 {
		evictCount = 1
	}
	cutoff := time.Now().Add(-rc.ttl / 2)
	evicted := 0
	for key, firstSeen := range rc.entries {
		if evicted >= evictCount {
			break
		}
		if firstSeen.Before(cutoff) {
			delete(rc.entries, key)
			evicted++
		}
	}
	for key := range rc.entries {
		if evicted >= evictCount {
			break
		}
		delete(rc.entries, key)
		evicted++
	}
}
