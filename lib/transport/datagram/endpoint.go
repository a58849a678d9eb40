package datagram

import (
	"context"
	"net/netip"
	"sync"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/logger"
)

// Endpoint multiplexes datagram sessions over one Channel.
type Endpoint struct {
	cfg   Config
	local identity.Provider
	intro [32]byte
	ch    Channel

	mu       sync.RWMutex
	sessions map[ConnID]*Session
	// outbound counts dialed sessions per peer intro key.
	outbound map[[32]byte]int

	acceptQ  chan *Session
	ctx      context.Context
	cancel   context.CancelFunc
	sessWG   sync.WaitGroup
	recvDone chan struct{}
	closed   sync.Once
}

// NewEndpoint starts receiving on ch.
func NewEndpoint(cfg Config, local identity.Provider, ch Channel) *Endpoint {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		cfg:      cfg,
		local:    local,
		intro:    IntroKey(local.Public().StaticKey),
		ch:       ch,
		sessions: make(map[ConnID]*Session),
		outbound: make(map[[32]byte]int),
		acceptQ:  make(chan *Session, 16),
		ctx:      ctx,
		cancel:   cancel,
		recvDone: make(chan struct{}),
	}
	go e.recvLoop()
	return e
}

// IntroKey returns the key peers use to protect packets sent to us.
func (e *Endpoint) IntroKey() [32]byte { return e.intro }

func (e *Endpoint) recvLoop() {
	defer close(e.recvDone)
	for {
		from, pkt, err := e.ch.RecvFrom()
		if err != nil {
			if e.ctx.Err() == nil {
				log.WithError(err).Warn("datagram channel failed, closing endpoint")
				e.cancel()
			}
			return
		}
		e.dispatch(from, pkt)
	}
}

// dispatch routes a packet by its destination connection ID. Packets for
// accepted sessions are masked with our intro key, packets for dialed
// sessions with the peer's.
func (e *Endpoint) dispatch(from netip.AddrPort, pkt []byte) {
	if s := e.lookup(pkt, e.intro); s != nil {
		s.deliver(from, pkt)
		return
	}
	e.mu.RLock()
	for key := range e.outbound {
		if s := e.lookupLocked(pkt, key); s != nil {
			e.mu.RUnlock()
			s.deliver(from, pkt)
			return
		}
	}
	e.mu.RUnlock()

	h, _, ok := openHeader(pkt, e.intro, e.intro, true)
	if !ok || h.Type != typeSessionRequest || h.Version != noise.ProtocolVersion || h.NetworkID != e.cfg.NetworkID {
		return
	}
	s, err := e.newResponder(h, from)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Endpoint) dispatch",
			"from": from.String(),
		}).WithError(err).Debug("inbound session refused")
		return
	}
	s.deliver(from, pkt)
}

func (e *Endpoint) lookup(pkt []byte, key [32]byte) *Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lookupLocked(pkt, key)
}

func (e *Endpoint) lookupLocked(pkt []byte, key [32]byte) *Session {
	id, ok := peekDestID(pkt, key)
	if !ok {
		return nil
	}
	if s := e.sessions[id]; s != nil && s.intro == key {
		return s
	}
	return nil
}

func (e *Endpoint) newResponder(h header, from netip.AddrPort) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if len(e.sessions) >= e.cfg.MaxSessions {
		return nil, failure.Wrapf(ErrSessionLimit, "%d sessions", len(e.sessions))
	}
	if _, taken := e.sessions[h.DestID]; taken {
		return nil, failure.Wrapf(ErrPacket, "connection ID in use")
	}
	s := newSession(e, noise.Responder, h.DestID, h.SourceID, e.intro, from)
	s.hs = noise.NewResponder(e.cfg.noise(), e.local)
	e.start(s)
	return s, nil
}

// start registers s. Callers hold e.mu.
func (e *Endpoint) start(s *Session) {
	e.sessions[s.localID] = s
	if s.role == noise.Initiator {
		e.outbound[s.intro]++
	}
	e.sessWG.Add(1)
	go func() {
		defer e.sessWG.Done()
		s.run()
	}()
}

func (e *Endpoint) remove(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[s.localID] != s {
		return
	}
	delete(e.sessions, s.localID)
	if s.role == noise.Initiator {
		if e.outbound[s.intro]--; e.outbound[s.intro] <= 0 {
			delete(e.outbound, s.intro)
		}
	}
}

// deliver queues a packet for the session goroutine. A full inbox drops
// the packet.
func (s *Session) deliver(from netip.AddrPort, pkt []byte) {
	select {
	case s.inbox <- packetIn{from: from, data: pkt}:
	default:
	}
}

// accepted hands an established inbound session to Accept.
func (e *Endpoint) accepted(s *Session) bool {
	select {
	case e.acceptQ <- s:
		return true
	default:
		return false
	}
}

// Dial opens a session to peer at addr and waits for the handshake.
func (e *Endpoint) Dial(ctx context.Context, peer identity.Public, addr netip.AddrPort) (*Session, error) {
	localID, err := randomConnID()
	if err != nil {
		return nil, err
	}
	remoteID, err := randomConnID()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if len(e.sessions) >= e.cfg.MaxSessions {
		n := len(e.sessions)
		e.mu.Unlock()
		return nil, failure.Wrapf(ErrSessionLimit, "%d sessions", n)
	}
	s := newSession(e, noise.Initiator, localID, remoteID, IntroKey(peer.StaticKey), addr)
	s.hs = noise.NewInitiator(e.cfg.noise(), e.local, peer)
	s.remote = peer
	e.start(s)
	e.mu.Unlock()

	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		return nil, s.closedError()
	case <-ctx.Done():
		err := failure.FromContext(ctx.Err(), "datagram: dial")
		s.stop(err, false)
		return nil, err
	}
}

// Accept returns the next established inbound session.
func (e *Endpoint) Accept(ctx context.Context) (*Session, error) {
	select {
	case s := <-e.acceptQ:
		return s, nil
	case <-ctx.Done():
		return nil, failure.FromContext(ctx.Err(), "datagram: accept")
	case <-e.ctx.Done():
		return nil, ErrClosed
	}
}

// Sessions returns the number of live sessions, handshakes included.
func (e *Endpoint) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Close terminates every session and closes the channel.
func (e *Endpoint) Close() error {
	var err error
	e.closed.Do(func() {
		e.cancel()
		e.sessWG.Wait()
		err = e.ch.Close()
		<-e.recvDone
	})
	return err
}
