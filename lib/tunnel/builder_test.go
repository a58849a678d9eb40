package tunnel

import (
	"testing"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/build"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeers(t *testing.T, n int) []identity.Public {
	t.Helper()
	out := make([]identity.Public, n)
	for i := range out {
		id, err := identity.Generate()
		require.NoError(t, err)
		out[i] = id.Public()
	}
	return out
}

func TestPlanOutboundRouting(t *testing.T) {
	peers := testPeers(t, 3)
	local := common.Hash{0xAA}
	p, err := newPlan(local, peers, Outbound, time.Now(), DefaultLifetime)
	require.NoError(t, err)
	require.Len(t, p.specs, 3)
	assert.Equal(t, ID(p.hops[0].ReceiveID), p.id())

	for i, spec := range p.specs {
		rec := spec.Record
		assert.Equal(t, p.hops[i].ReceiveID, rec.ReceiveID)
		assert.NotZero(t, rec.ReceiveID)
		assert.Equal(t, DefaultLifetime, rec.Expiration)
		assert.Equal(t, p.keys[i].Layer, rec.LayerKey)
		assert.False(t, rec.IsInboundGateway())
		if i < 2 {
			assert.Equal(t, p.hops[i+1].ReceiveID, rec.NextID)
			assert.Equal(t, peers[i+1].Hash(), rec.NextHop)
			assert.False(t, rec.IsOutboundEndpoint())
			assert.Equal(t, [32]byte{}, rec.EndpointKey)
		}
	}
	last := p.specs[2].Record
	assert.True(t, last.IsOutboundEndpoint())
	assert.Equal(t, local, last.NextHop)
	assert.Equal(t, p.replyID, last.SendMessageID)
	assert.Equal(t, p.endpoint, last.EndpointKey)
}

func TestPlanInboundRouting(t *testing.T) {
	peers := testPeers(t, 2)
	local := common.Hash{0xBB}
	p, err := newPlan(local, peers, Inbound, time.Now(), DefaultLifetime)
	require.NoError(t, err)
	assert.Equal(t, ID(p.localID), p.id())

	first := p.specs[0].Record
	assert.True(t, first.IsInboundGateway())
	assert.Equal(t, p.endpoint, first.EndpointKey)
	assert.Equal(t, p.hops[1].ReceiveID, first.NextID)

	last := p.specs[1].Record
	assert.False(t, last.IsOutboundEndpoint())
	assert.Equal(t, local, last.NextHop)
	assert.Equal(t, p.localID, last.NextID)
	assert.Equal(t, p.replyID, last.SendMessageID)
	assert.Equal(t, [32]byte{}, last.EndpointKey)
}

func TestPlanSingleHopInbound(t *testing.T) {
	p, err := newPlan(common.Hash{1}, testPeers(t, 1), Inbound, time.Now(), DefaultLifetime)
	require.NoError(t, err)
	rec := p.specs[0].Record
	assert.True(t, rec.IsInboundGateway())
	assert.Equal(t, p.localID, rec.NextID)
	assert.Equal(t, p.endpoint, rec.EndpointKey)
}

func TestPlanKeysAreDistinct(t *testing.T) {
	p, err := newPlan(common.Hash{1}, testPeers(t, 4), Outbound, time.Now(), DefaultLifetime)
	require.NoError(t, err)
	seen := map[[32]byte]bool{}
	for _, spec := range p.specs {
		for _, k := range [][32]byte{[32]byte(spec.Record.LayerKey), [32]byte(spec.Record.IVKey), [32]byte(spec.Record.ReplyKey)} {
			assert.False(t, seen[k])
			seen[k] = true
		}
	}
	p.zeroSpecs()
	assert.Nil(t, p.specs)
}

func TestPlanTooManyHops(t *testing.T) {
	_, err := newPlan(common.Hash{1}, testPeers(t, build.MaxHops+1), Outbound, time.Now(), DefaultLifetime)
	assert.ErrorIs(t, err, ErrHopCount)
}

func TestGenerateTunnelIDNonZero(t *testing.T) {
	for range 1000 {
		assert.NotZero(t, generateTunnelID())
	}
}
