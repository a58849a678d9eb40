package router

import (
	"context"
	"errors"
	"net"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/transport"
	"github.com/go-i2p/go-i2p-core/lib/transport/datagram"
	"github.com/go-i2p/go-i2p-core/lib/transport/stream"
	"github.com/go-i2p/logger"
)

// OpenSession establishes a session of the given kind with peer. An
// existing session of the same kind is reused; one of the other kind is
// superseded.
func (r *Router) OpenSession(ctx context.Context, peer common.Hash, kind transport.Kind) error {
	if kind != transport.Stream && kind != transport.Datagram {
		return failure.Wrapf(ErrUnknownKind, "kind %d", kind)
	}
	if _, have, ok := r.sessions.Get(peer); ok && have == kind {
		return nil
	}
	_, err := r.dial(ctx, peer, kind)
	return err
}

// CloseSession closes the session with peer and waits until it is gone.
func (r *Router) CloseSession(peer common.Hash) error {
	return r.sessions.Remove(peer)
}

// Sessions lists the live sessions.
func (r *Router) Sessions() []transport.Info {
	return r.sessions.Sessions()
}

// SendMessage sends msg to the router to, opening a session first when
// there is none. Messages for this router are dispatched locally.
func (r *Router) SendMessage(ctx context.Context, to common.Hash, msg i2np.Message) error {
	if to == r.Hash() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.dispatch(to, msg)
		}()
		return nil
	}
	s, _, ok := r.sessions.Get(to)
	if !ok {
		var err error
		if s, err = r.dial(ctx, to, 0); err != nil {
			return err
		}
	}
	b := msg.Bytes()
	if err := s.Send(ctx, b); err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Router) SendMessage",
			"peer": identity.Short(to),
			"type": msg.Type.String(),
		}).WithError(err).Debug("send failed")
		return err
	}
	r.bytesSent.Add(uint64(len(b)))
	return nil
}

// dial opens a session of kind to peer, or of the preferred kind the peer
// supports when kind is zero. Concurrent dials to one peer share a single
// handshake.
func (r *Router) dial(ctx context.Context, peer common.Hash, kind transport.Kind) (transport.Session, error) {
	if !r.isRunning() {
		return nil, ErrNotRunning
	}
	if peer == r.Hash() {
		return nil, ErrSelf
	}
	rec, ok := r.db.Resolve(peer)
	if !ok {
		return nil, failure.Wrapf(ErrUnknownPeer, "peer %s", identity.Short(peer))
	}
	if kind == 0 {
		kind = transport.Stream
		if !rec.StreamAddr.IsValid() {
			kind = transport.Datagram
		}
	}

	key := kind.String() + string(peer[:])
	v, err, _ := r.dials.Do(key, func() (any, error) {
		if s, have, ok := r.sessions.Get(peer); ok && have == kind {
			return s, nil
		}
		start := time.Now()
		s, err := r.handshake(ctx, rec, kind)
		if err != nil {
			r.tracker.RecordFailure(peer, failure.KindOf(err).String())
			log.WithFields(logger.Fields{
				"at":     "(Router) dial",
				"phase":  "handshake",
				"peer":   identity.Short(peer),
				"kind":   kind.String(),
				"reason": failure.KindOf(err).String(),
			}).WithError(err).Warn("outbound session failed")
			return nil, err
		}
		r.tracker.RecordSuccess(peer, time.Since(start))
		if err := r.attach(kind, s); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Session), nil
}

func (r *Router) handshake(ctx context.Context, rec netdb.PeerRecord, kind transport.Kind) (transport.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Handshake.Timeout)
	defer cancel()

	switch kind {
	case transport.Stream:
		if !rec.StreamAddr.IsValid() {
			return nil, failure.Wrapf(ErrNoAddress, "peer %s has no stream address", identity.Short(rec.Hash))
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", rec.StreamAddr.String())
		if err != nil {
			return nil, failure.FromContext(err, "router: stream dial")
		}
		return stream.Open(ctx, r.streamCfg, r.local, rec.Identity(), stream.NewConnChannel(conn))
	case transport.Datagram:
		if !rec.DatagramAddr.IsValid() {
			return nil, failure.Wrapf(ErrNoAddress, "peer %s has no datagram address", identity.Short(rec.Hash))
		}
		r.runMux.Lock()
		ep := r.endpoint
		r.runMux.Unlock()
		return ep.Dial(ctx, rec.Identity(), rec.DatagramAddr)
	}
	return nil, failure.Wrapf(ErrUnknownKind, "kind %d", kind)
}

// attach registers s and starts its receive loop.
func (r *Router) attach(kind transport.Kind, s transport.Session) error {
	if err := r.sessions.Register(kind, s); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.receive(kind, s)
	return nil
}

func (r *Router) acceptStreams(ln net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithFields(logger.Fields{
				"at": "(Router) acceptStreams",
			}).WithError(err).Warn("accept failed")
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Handshake.Timeout)
			defer cancel()
			start := time.Now()
			s, err := stream.Accept(ctx, r.streamCfg, r.local, stream.NewConnChannel(conn))
			if err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Router) acceptStreams",
					"phase":  "handshake",
					"remote": conn.RemoteAddr().String(),
					"reason": failure.KindOf(err).String(),
				}).WithError(err).Debug("inbound stream handshake failed")
				return
			}
			r.tracker.RecordSuccess(s.Remote().Hash(), time.Since(start))
			if err := r.attach(transport.Stream, s); err != nil {
				log.WithError(err).Debug("inbound stream session refused")
			}
		}()
	}
}

func (r *Router) acceptDatagrams(ep *datagram.Endpoint) {
	defer r.wg.Done()
	for {
		s, err := ep.Accept(r.ctx)
		if err != nil {
			return
		}
		if err := r.attach(transport.Datagram, s); err != nil {
			log.WithError(err).Debug("inbound datagram session refused")
		}
	}
}

// receive reads messages from s until it ends.
func (r *Router) receive(kind transport.Kind, s transport.Session) {
	defer r.wg.Done()
	peer := s.Remote().Hash()
	for {
		b, err := s.Receive(r.ctx)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "(Router) receive",
				"peer": identity.Short(peer),
				"kind": kind.String(),
			}).WithError(err).Debug("session receive loop ended")
			return
		}
		r.bytesReceived.Add(uint64(len(b)))
		msg, err := i2np.Parse(b)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":   "(Router) receive",
				"peer": identity.Short(peer),
			}).WithError(err).Debug("dropping malformed message")
			continue
		}
		if err := msg.Check(r.clock.Now(), r.cfg.Handshake.ClockSkewTolerance); err != nil {
			continue
		}
		r.dispatch(peer, msg)
	}
}
