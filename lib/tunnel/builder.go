package tunnel

import (
	"encoding/binary"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/build"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// plan is everything the creator decides before a build goes out.
type plan struct {
	attempt   uuid.UUID
	direction Direction
	hops      []Hop
	keys      layer.Keys
	endpoint  [32]byte
	// replyID is the message ID the last hop answers with
	replyID uint32
	// localID is where an inbound tunnel delivers to the creator
	localID uint32
	specs   []build.HopSpec
}

// id returns the tunnel ID the creator files the tunnel under.
func (p *plan) id() ID {
	if p.direction == Outbound && len(p.hops) > 0 {
		return ID(p.hops[0].ReceiveID)
	}
	return ID(p.localID)
}

// zeroSpecs wipes the cleartext records once they are encoded.
func (p *plan) zeroSpecs() {
	for i := range p.specs {
		p.specs[i].Record.Zero()
	}
	p.specs = nil
}

// newPlan generates IDs and keys for a tunnel through peers and fills one
// build record per hop.
func newPlan(local common.Hash, peers []identity.Public, dir Direction, now time.Time, lifetime time.Duration) (*plan, error) {
	if len(peers) > build.MaxHops {
		return nil, failure.Wrapf(ErrHopCount, "%d hops, limit %d", len(peers), build.MaxHops)
	}
	p := &plan{
		attempt:   uuid.New(),
		direction: dir,
		hops:      make([]Hop, len(peers)),
		keys:      make(layer.Keys, len(peers)),
		replyID:   i2np.RandomID(),
		localID:   generateTunnelID(),
	}
	if _, err := rand.Read(p.endpoint[:]); err != nil {
		return nil, oops.In("tunnel").Wrapf(err, "endpoint key")
	}
	for i, peer := range peers {
		p.hops[i] = Hop{Peer: peer, ReceiveID: generateTunnelID()}
	}
	for i := range peers {
		rec, err := p.createHopRecord(i, local, now, lifetime)
		if err != nil {
			p.keys.Zero()
			p.zeroSpecs()
			return nil, err
		}
		p.keys[i] = layer.Key{Layer: rec.LayerKey, IV: rec.IVKey}
		p.specs = append(p.specs, build.HopSpec{Peer: peers[i], Record: *rec})
	}
	return p, nil
}

func (p *plan) createHopRecord(i int, local common.Hash, now time.Time, lifetime time.Duration) (*build.Record, error) {
	rec := &build.Record{
		ReceiveID:   p.hops[i].ReceiveID,
		RequestTime: now,
		Expiration:  lifetime,
	}
	for _, key := range []*session_key.SessionKey{&rec.LayerKey, &rec.IVKey, &rec.ReplyKey} {
		k, err := generateSessionKey()
		if err != nil {
			return nil, err
		}
		*key = k
	}
	if _, err := rand.Read(rec.ReplyIV[:]); err != nil {
		return nil, oops.In("tunnel").Wrapf(err, "reply IV")
	}
	rec.NextID, rec.NextHop, rec.Flags, rec.SendMessageID = p.determineRoutingParams(i, local)
	if rec.IsInboundGateway() || rec.IsOutboundEndpoint() {
		rec.EndpointKey = p.endpoint
	}
	return rec, nil
}

// determineRoutingParams says where hop i forwards to.
//
// Every hop but the last forwards to the next hop under that hop's receive
// ID. The last hop of an outbound tunnel is its endpoint and answers the
// creator with a build reply. The last hop of an inbound tunnel forwards to
// the creator under the creator's local receive ID.
func (p *plan) determineRoutingParams(i int, local common.Hash) (nextID uint32, nextHop common.Hash, flags build.Flags, sendMsgID uint32) {
	last := i == len(p.hops)-1
	if p.direction == Inbound && i == 0 {
		flags |= build.FlagInboundGateway
	}
	if !last {
		return p.hops[i+1].ReceiveID, p.hops[i+1].Peer.Hash(), flags, i2np.RandomID()
	}
	if p.direction == Outbound {
		return 0, local, flags | build.FlagOutboundEndpoint, p.replyID
	}
	return p.localID, local, flags, p.replyID
}

// generateTunnelID returns a random non-zero tunnel ID.
func generateTunnelID() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("tunnel: random source failed: " + err.Error())
		}
		if id := binary.BigEndian.Uint32(buf[:]); id != 0 {
			return id
		}
	}
}

func generateSessionKey() (session_key.SessionKey, error) {
	var key session_key.SessionKey
	if _, err := rand.Read(key[:]); err != nil {
		crypto.Zero(key[:])
		return session_key.SessionKey{}, oops.In("tunnel").Wrapf(err, "session key")
	}
	return key, nil
}
