package tunnel

import (
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

const (
	// banThreshold is how many rejections in a row earn a ban.
	banThreshold = 10
	// staleSource is how long an idle, unbanned source is remembered.
	staleSource = 10 * time.Minute
)

// SourceLimiter rate limits tunnel build requests per requesting router.
// Each source gets its own token bucket; a source that keeps hitting the
// limit is banned for a while.
type SourceLimiter struct {
	mu      sync.Mutex
	sources map[common.Hash]*sourceState

	limit       rate.Limit
	burst       int
	banDuration time.Duration
	now         func() time.Time

	totalRequests   uint64
	totalRejections uint64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type sourceState struct {
	limiter      *rate.Limiter
	lastSeen     time.Time
	requestCount uint64
	rejectCount  uint64 // consecutive
	bannedUntil  time.Time
}

// SourceLimiterStats summarizes the limiter.
type SourceLimiterStats struct {
	TrackedSources  int
	BannedSources   int
	TotalRequests   uint64
	TotalRejections uint64
}

// NewSourceLimiter returns a limiter allowing MaxBuildRequestsPerMinute
// with bursts of BuildRequestBurstSize per source, and starts its cleanup
// loop.
func NewSourceLimiter(cfg config.TunnelDefaults) *SourceLimiter {
	perMinute := max(cfg.MaxBuildRequestsPerMinute, 1)
	sl := &SourceLimiter{
		sources:     make(map[common.Hash]*sourceState),
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       max(cfg.BuildRequestBurstSize, 1),
		banDuration: cfg.SourceBanDuration,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
	sl.wg.Add(1)
	go sl.cleanupLoop()

	log.WithFields(logger.Fields{
		"at":                   "NewSourceLimiter",
		"phase":                "tunnel_build",
		"max_requests_per_min": perMinute,
		"burst_size":           sl.burst,
		"ban_duration":         sl.banDuration,
	}).Debug("source limiter started")
	return sl
}

// AllowRequest takes a token from source's bucket. When it refuses, reason
// says why; the reason is for local logs only.
func (sl *SourceLimiter) AllowRequest(source common.Hash) (bool, string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := sl.now()
	sl.totalRequests++

	state, ok := sl.sources[source]
	if !ok {
		state = &sourceState{limiter: rate.NewLimiter(sl.limit, sl.burst)}
		sl.sources[source] = state
	}
	state.requestCount++
	state.lastSeen = now

	if now.Before(state.bannedUntil) {
		sl.totalRejections++
		return false, "source_banned"
	}
	if state.limiter.AllowN(now, 1) {
		state.rejectCount = 0
		return true, ""
	}

	sl.totalRejections++
	state.rejectCount++
	if state.rejectCount > banThreshold && sl.banDuration > 0 {
		state.bannedUntil = now.Add(sl.banDuration)
		state.rejectCount = 0
		log.WithFields(logger.Fields{
			"at":           "(SourceLimiter) AllowRequest",
			"phase":        "tunnel_build",
			"source":       short(source),
			"ban_duration": sl.banDuration,
		}).Warn("banning source after repeated rate limit violations")
		return false, "source_auto_banned"
	}
	return false, "rate_limit_exceeded"
}

// IsBanned reports whether source is currently banned.
func (sl *SourceLimiter) IsBanned(source common.Hash) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	state, ok := sl.sources[source]
	return ok && sl.now().Before(state.bannedUntil)
}

// Stats returns a snapshot.
func (sl *SourceLimiter) Stats() SourceLimiterStats {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	stats := SourceLimiterStats{
		TrackedSources:  len(sl.sources),
		TotalRequests:   sl.totalRequests,
		TotalRejections: sl.totalRejections,
	}
	now := sl.now()
	for _, state := range sl.sources {
		if now.Before(state.bannedUntil) {
			stats.BannedSources++
		}
	}
	return stats
}

func (sl *SourceLimiter) cleanupLoop() {
	defer sl.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stopChan:
			return
		case <-ticker.C:
			sl.cleanup()
		}
	}
}

// cleanup forgets sources idle for staleSource that are not banned.
func (sl *SourceLimiter) cleanup() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	now := sl.now()
	cutoff := now.Add(-staleSource)
	removed := 0
	for hash, state := range sl.sources {
		if state.lastSeen.Before(cutoff) && !now.Before(state.bannedUntil) {
			delete(sl.sources, hash)
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":        "(SourceLimiter) cleanup",
			"phase":     "tunnel_build",
			"removed":   removed,
			"remaining": len(sl.sources),
		}).Debug("cleaned up stale source limiter entries")
	}
	return removed
}

// Stop ends the cleanup loop. It is idempotent.
func (sl *SourceLimiter) Stop() {
	sl.stopOnce.Do(func() {
		close(sl.stopChan)
		sl.wg.Wait()
	})
}
