package tunnel

import (
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/stretchr/testify/assert"
)

func newTestSourceLimiter(t *testing.T, perMinute, burst int, ban time.Duration) (*SourceLimiter, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	sl := NewSourceLimiter(config.TunnelDefaults{
		MaxBuildRequestsPerMinute: perMinute,
		BuildRequestBurstSize:     burst,
		SourceBanDuration:         ban,
	})
	sl.now = clk.Now
	t.Cleanup(sl.Stop)
	return sl, clk
}

func TestSourceLimiterBurstThenRefill(t *testing.T) {
	sl, clk := newTestSourceLimiter(t, 6, 3, time.Minute)
	src := common.Hash{1}

	for range 3 {
		ok, _ := sl.AllowRequest(src)
		assert.True(t, ok)
	}
	ok, reason := sl.AllowRequest(src)
	assert.False(t, ok)
	assert.Equal(t, "rate_limit_exceeded", reason)

	clk.Advance(10 * time.Second)
	ok, _ = sl.AllowRequest(src)
	assert.True(t, ok)

	other := common.Hash{2}
	ok, _ = sl.AllowRequest(other)
	assert.True(t, ok, "sources have separate buckets")
}

func TestSourceLimiterBansPersistentSource(t *testing.T) {
	sl, clk := newTestSourceLimiter(t, 1, 1, 5*time.Minute)
	src := common.Hash{3}

	sl.AllowRequest(src)
	var reason string
	for range banThreshold + 1 {
		_, reason = sl.AllowRequest(src)
	}
	assert.Equal(t, "source_auto_banned", reason)
	assert.True(t, sl.IsBanned(src))

	clk.Advance(2 * time.Minute)
	ok, reason := sl.AllowRequest(src)
	assert.False(t, ok)
	assert.Equal(t, "source_banned", reason)

	clk.Advance(4 * time.Minute)
	assert.False(t, sl.IsBanned(src))
	ok, _ = sl.AllowRequest(src)
	assert.True(t, ok)

	stats := sl.Stats()
	assert.Equal(t, 1, stats.TrackedSources)
	assert.Zero(t, stats.BannedSources)
	assert.EqualValues(t, banThreshold+4, stats.TotalRequests)
}

func TestSourceLimiterCleanup(t *testing.T) {
	sl, clk := newTestSourceLimiter(t, 10, 3, time.Minute)
	sl.AllowRequest(common.Hash{4})
	assert.Zero(t, sl.cleanup())

	clk.Advance(staleSource + time.Second)
	assert.Equal(t, 1, sl.cleanup())
	assert.Zero(t, sl.Stats().TrackedSources)
}
