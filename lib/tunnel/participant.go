package tunnel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/build"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

// requestSkew bounds how far a build record's request time may be from our
// clock.
const requestSkew = 5 * time.Minute

// hopState is what a hop keeps about one tunnel it relays for.
type hopState struct {
	receiveID uint32
	nextID    uint32
	nextHop   common.Hash
	source    common.Hash
	key       layer.Key
	flags     build.Flags
	sealer    *layer.Sealer
	opener    *layer.Opener
	expires   time.Time
	processed atomic.Uint64

	// mu guards the keys against zero while a message is being moved.
	mu   sync.RWMutex
	dead bool
}

// use runs fn with the keys held, unless the hop was already wiped.
func (h *hopState) use(fn func() error) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.dead {
		return false, nil
	}
	return true, fn()
}

func (h *hopState) role() string {
	switch {
	case h.flags&build.FlagInboundGateway != 0:
		return "inbound-gateway"
	case h.flags&build.FlagOutboundEndpoint != 0:
		return "outbound-endpoint"
	}
	return "participant"
}

func (h *hopState) zero() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead = true
	h.key.Zero()
	if h.sealer != nil {
		h.sealer.Zero()
	}
	if h.opener != nil {
		h.opener.Zero()
	}
}

// HopInfo describes one tunnel this router relays for.
type HopInfo struct {
	ReceiveID uint32
	NextID    uint32
	NextHop   common.Hash
	Role      string
	Expires   time.Time
	Processed uint64
}

// Participant is the hop side: it answers build requests addressed to
// this router and moves tunnel messages for the tunnels it accepted.
type Participant struct {
	cfg     config.TunnelDefaults
	local   identity.Provider
	send    Sender
	clock   clock.Clock
	limiter *SourceLimiter
	hops    *shards[*hopState]

	accepting atomic.Bool
	processed atomic.Uint64
	rejected  atomic.Uint64

	mu      sync.Mutex
	handler LocalHandler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewParticipant returns a participant that accepts build requests.
func NewParticipant(cfg config.TunnelDefaults, local identity.Provider, send Sender, clk clock.Clock) *Participant {
	if clk == nil {
		clk = clock.System{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Participant{
		cfg:     cfg,
		local:   local,
		send:    send,
		clock:   clk,
		limiter: NewSourceLimiter(cfg),
		hops:    newShards[*hopState](),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.accepting.Store(true)
	return p
}

// SetAccepting turns participation on or off. While off every request is
// rejected.
func (p *Participant) SetAccepting(on bool) { p.accepting.Store(on) }

// OnLocal sets the handler for payloads an outbound endpoint delivers to
// this router itself.
func (p *Participant) OnLocal(h LocalHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Participant) handle(tunnel uint32, payload []byte) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(tunnel, payload)
	}
}

// HandleBuild answers a build request from peer from. The envelope is
// always passed on, with this hop's reply in its slot, so the creator
// learns the outcome. A request with no record for us is dropped.
func (p *Participant) HandleBuild(ctx context.Context, from common.Hash, msg i2np.Message) error {
	env, err := build.ParseEnvelope(msg.Payload)
	if err != nil {
		return err
	}
	rec, slot, err := build.DecodeOwnRecord(env, p.local)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Participant) HandleBuild",
			"from": short(from),
			"slot": slot,
		}).WithError(err).Debug("dropping build request")
		return err
	}
	defer rec.Zero()

	now := p.clock.Now()
	status := build.StatusAccept
	if ok, reason := p.admit(rec, from, now); !ok {
		status = build.StatusReject
		p.rejected.Add(1)
		log.WithFields(logger.Fields{
			"at":         "(Participant) HandleBuild",
			"phase":      "tunnel_build",
			"reason":     reason,
			"from":       short(from),
			"receive_id": rec.ReceiveID,
		}).Info("rejecting tunnel build")
	} else if !p.hops.add(rec.ReceiveID, p.newHop(rec, from, now)) {
		status = build.StatusReject
		p.rejected.Add(1)
		log.WithFields(logger.Fields{
			"at":         "(Participant) HandleBuild",
			"reason":     "duplicate_receive_id",
			"receive_id": rec.ReceiveID,
		}).Warn("rejecting tunnel build")
	}

	if err := build.EncodeReply(env, slot, rec, status); err != nil {
		p.dropHop(rec.ReceiveID, status)
		return err
	}

	next := i2np.Message{
		Type:       i2np.TypeTunnelBuild,
		ID:         rec.SendMessageID,
		Expiration: now.Add(i2np.DefaultLifetime),
		Payload:    env[:],
	}
	if rec.IsOutboundEndpoint() {
		next.Type = i2np.TypeTunnelBuildReply
	}
	if err := p.send.SendMessage(ctx, rec.NextHop, next); err != nil {
		log.WithFields(logger.Fields{
			"at":       "(Participant) HandleBuild",
			"next_hop": short(rec.NextHop),
			"type":     next.Type,
		}).WithError(err).Warn("could not forward build message")
		p.dropHop(rec.ReceiveID, status)
		return err
	}
	if status.Accepted() {
		log.WithFields(logger.Fields{
			"at":         "(Participant) HandleBuild",
			"receive_id": rec.ReceiveID,
			"role":       p.roleOf(rec),
			"expires_in": rec.Expiration,
		}).Debug("joined tunnel")
	}
	return nil
}

func (p *Participant) roleOf(rec *build.Record) string {
	h := hopState{flags: rec.Flags}
	return h.role()
}

func (p *Participant) dropHop(id uint32, status build.Status) {
	if !status.Accepted() {
		return
	}
	if h, ok := p.hops.remove(id); ok {
		h.zero()
	}
}

// admit applies local policy. The reason is only logged; the wire carries
// a uniform rejection.
func (p *Participant) admit(rec *build.Record, from common.Hash, now time.Time) (bool, string) {
	switch {
	case !p.accepting.Load():
		return false, "not_accepting"
	case rec.ReceiveID == 0:
		return false, "zero_receive_id"
	case p.hops.len() >= p.cfg.MaxParticipatingTunnels:
		return false, "participating_limit"
	case rec.Expiration <= 0 || rec.Expiration > p.cfg.MaxRequestedLifetime:
		return false, "requested_lifetime"
	case clock.CheckSkew(now, rec.RequestTime, requestSkew) != nil:
		return false, "request_time_skew"
	}
	if ok, reason := p.limiter.AllowRequest(from); !ok {
		return false, reason
	}
	return true, ""
}

func (p *Participant) newHop(rec *build.Record, from common.Hash, now time.Time) *hopState {
	h := &hopState{
		receiveID: rec.ReceiveID,
		nextID:    rec.NextID,
		nextHop:   rec.NextHop,
		source:    from,
		key:       layer.Key{Layer: rec.LayerKey, IV: rec.IVKey},
		flags:     rec.Flags,
		expires:   now.Add(rec.Expiration),
	}
	if rec.IsInboundGateway() {
		h.sealer = layer.NewSealer(rec.EndpointKey)
	}
	if rec.IsOutboundEndpoint() {
		h.opener = layer.NewOpener(rec.EndpointKey)
	}
	return h
}

func (p *Participant) lookup(id uint32, now time.Time) (*hopState, bool) {
	h, ok := p.hops.get(id)
	if !ok || !now.Before(h.expires) {
		return nil, false
	}
	return h, true
}

// HandleData relays a tunnel message for a tunnel we participate in. It
// reports whether the tunnel ID was one of ours.
func (p *Participant) HandleData(ctx context.Context, msg *layer.Message) (bool, error) {
	now := p.clock.Now()
	h, ok := p.lookup(layer.TunnelID(msg), now)
	if !ok {
		return false, nil
	}
	if h.sealer != nil {
		return true, failure.Wrapf(ErrWrongRole, "tunnel data at gateway %d", h.receiveID)
	}
	var pt []byte
	var openErr error
	alive, err := h.use(func() error {
		if err := layer.TransformAtHop(h.key, msg); err != nil {
			return err
		}
		if h.opener != nil {
			pt, openErr = h.opener.Open(layer.Data(msg))
		}
		return nil
	})
	if !alive {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	h.processed.Add(1)
	p.processed.Add(1)

	if h.opener == nil {
		layer.SetTunnelID(msg, h.nextID)
		return true, p.send.SendMessage(ctx, h.nextHop, i2np.New(i2np.TypeTunnelData, msg[:], now))
	}
	if openErr != nil {
		log.WithFields(logger.Fields{
			"at":         "(Participant) HandleData",
			"receive_id": h.receiveID,
		}).WithError(openErr).Debug("endpoint dropped tunnel message")
		return true, openErr
	}
	d, payload, err := layer.ParseDelivery(pt)
	if err != nil {
		return true, err
	}
	return true, deliver(ctx, p.send, now, d, payload, p.handle, h.receiveID)
}

// HandleGateway injects data into an inbound tunnel we are the gateway of.
// It reports whether the tunnel ID was one of ours.
func (p *Participant) HandleGateway(ctx context.Context, tunnel uint32, data []byte) (bool, error) {
	now := p.clock.Now()
	h, ok := p.lookup(tunnel, now)
	if !ok {
		return false, nil
	}
	if h.sealer == nil {
		return true, failure.Wrapf(ErrWrongRole, "gateway message at hop %d", h.receiveID)
	}
	var msg *layer.Message
	alive, err := h.use(func() error {
		sealed, err := h.sealer.Seal(data)
		if err != nil {
			return err
		}
		if msg, err = layer.NewMessage(h.receiveID, sealed); err != nil {
			return err
		}
		return layer.TransformAtHop(h.key, msg)
	})
	if !alive {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	h.processed.Add(1)
	p.processed.Add(1)
	layer.SetTunnelID(msg, h.nextID)
	return true, p.send.SendMessage(ctx, h.nextHop, i2np.New(i2np.TypeTunnelData, msg[:], now))
}

// Expire drops hop state whose lifetime ended and returns how many.
func (p *Participant) Expire(now time.Time) int {
	var expired []uint32
	p.hops.each(func(id uint32, h *hopState) {
		if !now.Before(h.expires) {
			expired = append(expired, id)
		}
	})
	for _, id := range expired {
		if h, ok := p.hops.remove(id); ok {
			h.zero()
		}
	}
	if len(expired) > 0 {
		log.WithFields(logger.Fields{
			"at":        "(Participant) Expire",
			"expired":   len(expired),
			"remaining": p.hops.len(),
		}).Debug("expired participating tunnels")
	}
	return len(expired)
}

// Len returns the number of tunnels we relay for.
func (p *Participant) Len() int { return p.hops.len() }

// Processed returns how many tunnel messages this router transformed as a
// hop.
func (p *Participant) Processed() uint64 { return p.processed.Load() }

// Rejected returns how many build requests were refused.
func (p *Participant) Rejected() uint64 { return p.rejected.Load() }

// Hops returns a snapshot of the tunnels we relay for.
func (p *Participant) Hops() []HopInfo {
	var out []HopInfo
	p.hops.each(func(_ uint32, h *hopState) {
		out = append(out, HopInfo{
			ReceiveID: h.receiveID,
			NextID:    h.nextID,
			NextHop:   h.nextHop,
			Role:      h.role(),
			Expires:   h.expires,
			Processed: h.processed.Load(),
		})
	})
	return out
}

// Start expires hop state every MaintenanceInterval until Stop.
func (p *Participant) Start() {
	interval := p.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.Expire(p.clock.Now())
			}
		}
	}()
}

// Stop ends the background loops and wipes every hop key.
func (p *Participant) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.limiter.Stop()
		var ids []uint32
		p.hops.each(func(id uint32, _ *hopState) { ids = append(ids, id) })
		for _, id := range ids {
			if h, ok := p.hops.remove(id); ok {
				h.zero()
			}
		}
	})
}
