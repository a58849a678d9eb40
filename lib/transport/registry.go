package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
	"github.com/go-i2p/logger"
)

// DefaultMaxSessions is used when NewRegistry gets a non-positive limit.
const DefaultMaxSessions = 1024

// Kind names the transport a session runs on.
type Kind uint8

const (
	Stream Kind = iota + 1
	Datagram
)

func (k Kind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Datagram:
		return "datagram"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Session is what the router needs from an established session of either
// transport.
type Session interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Remote() identity.Public
	Done() <-chan struct{}
	Err() error
	Close() error
}

// reasonCloser is implemented by sessions that can say why they close.
type reasonCloser interface {
	CloseWithReason(reason block.Reason)
}

// Info describes a registered session.
type Info struct {
	Peer  common.Hash
	Kind  Kind
	Since time.Time
}

type entry struct {
	Info
	session Session
	// gone is closed once the entry has left the table.
	gone chan struct{}
}

// Registry is the session table.
type Registry struct {
	maxSessions int

	mu       sync.RWMutex
	sessions map[common.Hash]*entry
	closed   bool
	onClosed []func(peer common.Hash, kind Kind, err error)

	wg sync.WaitGroup
}

// NewRegistry returns an empty table holding at most maxSessions sessions.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	log.WithFields(logger.Fields{
		"at":           "NewRegistry",
		"max_sessions": maxSessions,
	}).Debug("session registry created")
	return &Registry{
		maxSessions: maxSessions,
		sessions:    make(map[common.Hash]*entry),
	}
}

// OnClosed registers fn to run whenever a registered session ends, whether
// it failed, was closed or was superseded.
func (r *Registry) OnClosed(fn func(peer common.Hash, kind Kind, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = append(r.onClosed, fn)
}

// Register adds s as the session for its remote peer. An existing session
// for the same peer is closed and replaced. A new peer beyond the limit is
// refused with CapacityRejected and s is closed.
func (r *Registry) Register(kind Kind, s Session) error {
	peer := s.Remote().Hash()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Close()
		return ErrRegistryClosed
	}
	old, exists := r.sessions[peer]
	if !exists && len(r.sessions) >= r.maxSessions {
		n := len(r.sessions)
		r.mu.Unlock()
		s.Close()
		log.WithFields(logger.Fields{
			"at":       "(Registry) Register",
			"reason":   "session_limit",
			"peer":     identity.Short(peer),
			"sessions": n,
		}).Warn("refusing session, table full")
		return failure.Wrapf(ErrSessionLimit, "%d sessions", n)
	}
	e := &entry{Info: Info{Peer: peer, Kind: kind, Since: time.Now()}, session: s, gone: make(chan struct{})}
	r.sessions[peer] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if exists {
		log.WithFields(logger.Fields{
			"at":     "(Registry) Register",
			"reason": "superseded",
			"peer":   identity.Short(peer),
			"old":    old.Kind.String(),
			"new":    kind.String(),
		}).Info("new session supersedes existing one")
		closeSuperseded(old.session)
	}
	go r.watch(e)
	return nil
}

func closeSuperseded(s Session) {
	if rc, ok := s.(reasonCloser); ok {
		rc.CloseWithReason(block.ReasonSuperseded)
		return
	}
	s.Close()
}

// watch removes e once its session ends.
func (r *Registry) watch(e *entry) {
	defer r.wg.Done()
	<-e.session.Done()

	r.mu.Lock()
	if r.sessions[e.Peer] == e {
		delete(r.sessions, e.Peer)
	}
	observers := append([]func(common.Hash, Kind, error){}, r.onClosed...)
	r.mu.Unlock()
	close(e.gone)

	err := e.session.Err()
	log.WithFields(logger.Fields{
		"at":     "(Registry) watch",
		"peer":   identity.Short(e.Peer),
		"kind":   e.Kind.String(),
		"uptime": time.Since(e.Since).Round(time.Millisecond).String(),
	}).WithError(err).Debug("session left the table")
	for _, fn := range observers {
		fn(e.Peer, e.Kind, err)
	}
}

// Get returns the live session for peer.
func (r *Registry) Get(peer common.Hash) (Session, Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[peer]
	if !ok {
		return nil, 0, false
	}
	return e.session, e.Kind, true
}

// Send delivers payload over the session for peer.
func (r *Registry) Send(ctx context.Context, peer common.Hash, payload []byte) error {
	s, _, ok := r.Get(peer)
	if !ok {
		return failure.Wrapf(ErrNoSession, "peer %s", identity.Short(peer))
	}
	return s.Send(ctx, payload)
}

// Remove closes the session for peer. It waits until the session has left
// the table.
func (r *Registry) Remove(peer common.Hash) error {
	r.mu.RLock()
	e, ok := r.sessions[peer]
	r.mu.RUnlock()
	if !ok {
		return failure.Wrapf(ErrNoSession, "peer %s", identity.Short(peer))
	}
	err := e.session.Close()
	<-e.gone
	return err
}

// Sessions lists the table ordered by age.
func (r *Registry) Sessions() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes every session and waits for the watchers.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("error closing session")
		}
	}
	r.wg.Wait()
	return nil
}
