package tunnel

import (
	"context"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/build"
	"github.com/go-i2p/go-i2p-core/lib/tunnel/layer"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

// attempt is a build waiting for its reply.
type attempt struct {
	tunnel *Tunnel
	first  common.Hash
	done   chan outcome
}

type outcome struct {
	env *build.Envelope
	err error
}

// resolve hands the attempt its outcome. Only the first one counts.
func (a *attempt) resolve(o outcome) bool {
	select {
	case a.done <- o:
		return true
	default:
		return false
	}
}

// Manager owns the tunnels this router creates: it runs their builds,
// ages them and moves traffic in and out of them.
//
// Builds are keyed by the message ID their reply arrives with. A build is
// abandoned when the session to its first hop closes and is never retried
// here; retries belong to Pool.
type Manager struct {
	cfg     config.TunnelDefaults
	local   identity.Provider
	send    Sender
	clock   clock.Clock
	tunnels *Registry

	mu      sync.Mutex
	pending map[uint32]*attempt
	handler LocalHandler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager returns a manager that sends through send. Call Start to age
// tunnels in the background.
func NewManager(cfg config.TunnelDefaults, local identity.Provider, send Sender, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		local:   local,
		send:    send,
		clock:   clk,
		tunnels: NewRegistry(),
		pending: make(map[uint32]*attempt),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnMessage sets the handler for payloads arriving through inbound
// tunnels and for local delivery at zero hop outbound tunnels.
func (m *Manager) OnMessage(h LocalHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) handle(tunnel uint32, payload []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(tunnel, payload)
	}
}

// Build builds a tunnel through peers in order. It blocks until every hop
// answered, the build timed out, the first hop's session closed, or ctx
// ended. Only a tunnel every hop accepted is registered and returned; on
// failure the error is a *BuildError.
func (m *Manager) Build(ctx context.Context, peers []identity.Public, dir Direction, role Role) (*Tunnel, error) {
	now := m.clock.Now()
	p, err := newPlan(m.local.Hash(), peers, dir, now, m.cfg.Lifetime)
	if err != nil {
		return nil, err
	}
	t := newTunnel(p.id(), p.attempt, dir, role, p.hops, p.keys, p.endpoint)
	crypto.Zero32(&p.endpoint)
	fields := logger.Fields{
		"at":        "(Manager) Build",
		"attempt":   p.attempt,
		"tunnel_id": t.ID(),
		"direction": dir,
		"role":      role,
		"hops":      len(peers),
	}

	if len(peers) == 0 {
		if err := m.register(t, now); err != nil {
			return nil, err
		}
		log.WithFields(fields).Info("zero hop tunnel active")
		return t, nil
	}

	req, err := build.EncodeBuildRequest(p.specs)
	p.zeroSpecs()
	if err != nil {
		t.Transition(EventAbandoned)
		return nil, &BuildError{Attempt: p.attempt, Err: err}
	}
	defer req.Zero()

	a := &attempt{tunnel: t, first: peers[0].Hash(), done: make(chan outcome, 1)}
	m.mu.Lock()
	m.pending[p.replyID] = a
	m.mu.Unlock()
	defer m.forget(p.replyID)

	log.WithFields(fields).Debug("sending tunnel build")
	msg := i2np.New(i2np.TypeTunnelBuild, req.Envelope[:], now)
	if err := m.send.SendMessage(ctx, a.first, msg); err != nil {
		return nil, m.fail(t, EventAbandoned, nil, failure.Wrap(ErrAbandoned, err))
	}

	timer := time.NewTimer(m.cfg.BuildTimeout)
	defer timer.Stop()

	select {
	case o := <-a.done:
		if o.err != nil {
			return nil, m.fail(t, EventAbandoned, nil, o.err)
		}
		return m.complete(t, req, o.env, p.hops)
	case <-timer.C:
		return nil, m.fail(t, EventTimeout, nil, failure.Wrapf(ErrBuildTimeout, "no reply after %s", m.cfg.BuildTimeout))
	case <-ctx.Done():
		return nil, m.fail(t, EventAbandoned, nil, failure.FromContext(ctx.Err(), "tunnel: build"))
	case <-m.ctx.Done():
		return nil, m.fail(t, EventAbandoned, nil, ErrStopped)
	}
}

// complete reads the reply and activates t only if every hop accepted.
func (m *Manager) complete(t *Tunnel, req *build.Request, env *build.Envelope, hops []Hop) (*Tunnel, error) {
	statuses, err := build.DecodeReplies(req, env)
	if err != nil {
		return nil, m.fail(t, EventRejected, nil, err)
	}
	var rejected []common.Hash
	for i, st := range statuses {
		if !st.Accepted() {
			rejected = append(rejected, hops[i].Peer.Hash())
		}
	}
	if len(rejected) > 0 {
		return nil, m.fail(t, EventRejected, rejected, failure.Wrapf(ErrRejected, "%d of %d hops", len(rejected), len(hops)))
	}
	if err := m.register(t, m.clock.Now()); err != nil {
		return nil, m.fail(t, EventAbandoned, nil, err)
	}
	log.WithFields(logger.Fields{
		"at":        "(Manager) Build",
		"attempt":   t.Attempt(),
		"tunnel_id": t.ID(),
		"direction": t.Direction(),
		"hops":      len(hops),
	}).Info("tunnel built")
	return t, nil
}

func (m *Manager) register(t *Tunnel, now time.Time) error {
	if err := t.activate(now, m.cfg.Lifetime); err != nil {
		return err
	}
	if err := m.tunnels.Add(t); err != nil {
		t.Transition(EventClose)
		return err
	}
	return nil
}

// fail moves t to BuildFailed and wraps cause.
func (m *Manager) fail(t *Tunnel, e Event, rejected []common.Hash, cause error) error {
	if !t.State().Terminal() {
		t.Transition(e)
	}
	log.WithFields(logger.Fields{
		"at":        "(Manager) Build",
		"attempt":   t.Attempt(),
		"tunnel_id": t.ID(),
		"event":     e,
		"rejected":  len(rejected),
	}).WithError(cause).Warn("tunnel build failed")
	return &BuildError{Attempt: t.Attempt(), Rejected: rejected, Err: cause}
}

func (m *Manager) forget(replyID uint32) {
	m.mu.Lock()
	delete(m.pending, replyID)
	m.mu.Unlock()
}

// Pending reports whether msgID is the reply ID of a build in flight.
func (m *Manager) Pending(msgID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[msgID]
	return ok
}

// HandleReply takes a build reply, or an inbound build request that came
// back around to the creator. It reports whether msgID belonged to a
// pending build.
func (m *Manager) HandleReply(msgID uint32, payload []byte) bool {
	m.mu.Lock()
	a, ok := m.pending[msgID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	env, err := build.ParseEnvelope(payload)
	if err != nil {
		a.resolve(outcome{err: err})
		return true
	}
	a.resolve(outcome{env: env})
	return true
}

// PeerClosed abandons every build whose first hop is peer.
func (m *Manager) PeerClosed(peer common.Hash) {
	m.mu.Lock()
	var hit []*attempt
	for _, a := range m.pending {
		if a.first == peer {
			hit = append(hit, a)
		}
	}
	m.mu.Unlock()
	for _, a := range hit {
		if a.resolve(outcome{err: failure.Wrapf(ErrAbandoned, "session to %s closed", short(peer))}) {
			log.WithFields(logger.Fields{
				"at":      "(Manager) PeerClosed",
				"attempt": a.tunnel.Attempt(),
				"peer":    short(peer),
			}).Info("abandoning tunnel build")
		}
	}
}

// Send pushes payload into outbound tunnel id with delivery instructions
// for its endpoint.
func (m *Manager) Send(ctx context.Context, id ID, d layer.Delivery, payload []byte) error {
	t, ok := m.tunnels.Get(id)
	if !ok {
		return failure.Wrapf(ErrUnknownTunnel, "tunnel %d", id)
	}
	if t.Direction() != Outbound {
		return failure.Wrapf(ErrDirection, "tunnel %d is inbound", id)
	}
	now := m.clock.Now()
	if t.Len() == 0 {
		if err := t.count(); err != nil {
			return err
		}
		return deliver(ctx, m.send, now, d, payload, m.handle, uint32(id))
	}
	msg, first, err := t.wrap(d, payload)
	if err != nil {
		return err
	}
	return m.send.SendMessage(ctx, first, i2np.New(i2np.TypeTunnelData, msg[:], now))
}

// HandleData takes a tunnel message addressed to one of our inbound
// tunnels. It reports whether the tunnel ID was ours.
func (m *Manager) HandleData(msg *layer.Message) (bool, error) {
	t, ok := m.tunnels.Get(ID(layer.TunnelID(msg)))
	if !ok || t.Direction() != Inbound {
		return false, nil
	}
	payload, err := t.unwrap(msg)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":        "(Manager) HandleData",
			"tunnel_id": t.ID(),
		}).WithError(err).Debug("dropping inbound tunnel message")
		return true, err
	}
	m.handle(uint32(t.ID()), payload)
	return true, nil
}

// HandleGateway takes a gateway message for a zero hop inbound tunnel,
// where this router is its own gateway.
func (m *Manager) HandleGateway(tunnel uint32, data []byte) (bool, error) {
	t, ok := m.tunnels.Get(ID(tunnel))
	if !ok || t.Direction() != Inbound || t.Len() != 0 {
		return false, nil
	}
	if err := t.count(); err != nil {
		return true, err
	}
	m.handle(tunnel, data)
	return true, nil
}

// ReplyDelivery returns the delivery instructions a remote sender uses to
// reach inbound tunnel id: its gateway hop, or this router for a zero hop
// tunnel.
func (m *Manager) ReplyDelivery(id ID) (layer.Delivery, error) {
	t, ok := m.tunnels.Get(id)
	if !ok {
		return layer.Delivery{}, failure.Wrapf(ErrUnknownTunnel, "tunnel %d", id)
	}
	if t.Direction() != Inbound {
		return layer.Delivery{}, failure.Wrapf(ErrDirection, "tunnel %d is outbound", id)
	}
	if t.Len() == 0 {
		return layer.ToTunnel(m.local.Hash(), uint32(id)), nil
	}
	gw := t.hops[0]
	return layer.ToTunnel(gw.Peer.Hash(), gw.ReceiveID), nil
}

// Get looks up a tunnel.
func (m *Manager) Get(id ID) (*Tunnel, bool) { return m.tunnels.Get(id) }

// Status returns a snapshot of tunnel id.
func (m *Manager) Status(id ID) (Status, bool) {
	t, ok := m.tunnels.Get(id)
	if !ok {
		return Status{}, false
	}
	return t.Status(), true
}

// Tunnels returns a snapshot of every registered tunnel.
func (m *Manager) Tunnels() []Status {
	all := m.tunnels.All()
	out := make([]Status, 0, len(all))
	for _, t := range all {
		out = append(out, t.Status())
	}
	return out
}

// Close closes tunnel id and forgets it.
func (m *Manager) Close(id ID) error {
	t, ok := m.tunnels.Remove(id)
	if !ok {
		return failure.Wrapf(ErrUnknownTunnel, "tunnel %d", id)
	}
	_, err := t.Transition(EventClose)
	return err
}

// Maintain ages every tunnel to now and drops the closed ones. It returns
// how many were dropped.
func (m *Manager) Maintain(now time.Time) int {
	dropped := 0
	for _, t := range m.tunnels.All() {
		if t.age(now, m.cfg.ReplaceBeforeExpiration).Terminal() {
			m.tunnels.Remove(t.ID())
			dropped++
		}
	}
	if dropped > 0 {
		log.WithFields(logger.Fields{
			"at":        "(Manager) Maintain",
			"dropped":   dropped,
			"remaining": m.tunnels.Len(),
		}).Debug("expired tunnels removed")
	}
	return dropped
}

// Start ages tunnels every MaintenanceInterval until Stop.
func (m *Manager) Start() {
	interval := m.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Maintain(m.clock.Now())
			}
		}
	}()
}

// Stop ends pending builds and closes every tunnel. It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		for _, t := range m.tunnels.All() {
			m.tunnels.Remove(t.ID())
			t.Transition(EventClose)
		}
		log.WithFields(logger.Fields{
			"at":     "(Manager) Stop",
			"reason": "shutdown_complete",
		}).Info("tunnel manager stopped")
	})
}
