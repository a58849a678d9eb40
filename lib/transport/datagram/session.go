package datagram

import (
	"context"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"golang.zx2c4.com/wireguard/replay"
)

const (
	// maxPacketNumber is the first packet number that may not be used.
	maxPacketNumber = math.MaxUint32
	sweepInterval   = 250 * time.Millisecond
	peerTestTimeout = 5 * time.Second
)

// Stats are the counters of one session.
type Stats struct {
	PacketsSent          uint64
	PacketsReceived      uint64
	PacketsAcked         uint64
	PacketsLost          uint64
	PacketsReplayed      uint64
	HandshakeRetransmits uint64
	MessagesSent         uint64
	MessagesReceived     uint64
	MessagesExpired      uint64
	MessagesDropped      uint64
	MTU                  int
}

type packetIn struct {
	from netip.AddrPort
	data []byte
}

type commandOp uint8

const (
	opSend commandOp = iota
	opPeerTest
	opClose
)

type command struct {
	op      commandOp
	payload []byte
	cause   error
	notify  bool
	reply   chan error
	test    chan peerTestReply
}

type peerTestReply struct {
	addr netip.AddrPort
	err  error
}

type directionKeys struct {
	data    [32]byte
	header  [32]byte
	message [32]byte
}

func (k *directionKeys) zero() {
	crypto.Zero32(&k.data)
	crypto.Zero32(&k.header)
	crypto.Zero32(&k.message)
}

// Session is one datagram transport session. All state below the channel
// fields belongs to the session goroutine.
type Session struct {
	ep       *Endpoint
	cfg      Config
	role     noise.Role
	localID  ConnID
	remoteID ConnID
	intro    [32]byte

	inbox    chan packetIn
	cmds     chan command
	messages chan []byte
	ready    chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	remote   identity.Public
	addr     netip.AddrPort
	err      error
	stats    Stats
	hashCopy [32]byte

	// owned by run
	hs             *noise.Handshake
	cached         []byte
	confirmPacket  []byte
	attempts       int
	retryDelay     time.Duration
	haveKeys       bool
	established    bool
	confirmPending bool
	closing        bool
	hash           [32]byte
	send, recv     directionKeys
	nextPN         uint32
	nextMsgID      uint32
	replay         replay.Filter
	received       receivedSet
	sent           *sentSet
	reasm          *reassembler
	mtu            int
	probeSizes     []int
	probeID        uint32
	probeSize      int
	peerTests      map[[8]byte]chan peerTestReply
	challenges     map[netip.AddrPort][8]byte
	lastRecv       time.Time

	retransmit *time.Timer
	ackTimer   *time.Timer
	ackArmed   bool
	probeTimer *time.Timer
	deadline   *time.Timer
}

func newSession(ep *Endpoint, role noise.Role, localID, remoteID ConnID, intro [32]byte, addr netip.AddrPort) *Session {
	cfg := ep.cfg
	s := &Session{
		ep:         ep,
		cfg:        cfg,
		role:       role,
		localID:    localID,
		remoteID:   remoteID,
		intro:      intro,
		addr:       addr,
		inbox:      make(chan packetIn, cfg.InboxSize),
		cmds:       make(chan command),
		messages:   make(chan []byte, cfg.InboxSize),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		sent:       newSentSet(),
		reasm:      newReassembler(cfg.ReassemblyWindow, cfg.MaxFragments),
		mtu:        cfg.MinMTU,
		peerTests:  make(map[[8]byte]chan peerTestReply),
		challenges: make(map[netip.AddrPort][8]byte),
		lastRecv:   time.Now(),
		retransmit: stoppedTimer(),
		ackTimer:   stoppedTimer(),
		probeTimer: stoppedTimer(),
		deadline:   time.NewTimer(cfg.HandshakeTimeout),
	}
	for _, size := range cfg.ProbeSizes {
		if size > cfg.MinMTU && size <= cfg.MaxMTU {
			s.probeSizes = append(s.probeSizes, size)
		}
	}
	s.stats.MTU = s.mtu
	return s
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// Remote returns the peer identity. For an accepted session it is set once
// the handshake completes.
func (s *Session) Remote() identity.Public {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// RemoteAddr returns the current peer address. It changes only after a
// successful path validation.
func (s *Session) RemoteAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Hash returns the handshake transcript hash.
func (s *Session) Hash() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashCopy
}

// Role reports which side opened the session.
func (s *Session) Role() noise.Role { return s.role }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// MTU returns the current path MTU.
func (s *Session) MTU() int {
	return s.Stats().MTU
}

func (s *Session) closedError() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// Send seals payload, fragments it to the path MTU and sends it once.
// Delivery is best effort.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{op: opSend, payload: payload, reply: reply}:
	case <-ctx.Done():
		return failure.FromContext(ctx.Err(), "datagram: send")
	case <-s.done:
		return s.closedError()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return s.closedError()
	}
}

// Receive returns the next reassembled message. Messages may arrive in any
// order.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, failure.FromContext(ctx.Err(), "datagram: receive")
	case <-s.done:
		select {
		case msg := <-s.messages:
			return msg, nil
		default:
		}
		return nil, s.closedError()
	}
}

// TestAddress asks the peer which address our packets arrive from.
func (s *Session) TestAddress(ctx context.Context) (netip.AddrPort, error) {
	ctx, cancel := context.WithTimeout(ctx, peerTestTimeout)
	defer cancel()
	result := make(chan peerTestReply, 1)
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{op: opPeerTest, test: result, reply: reply}:
	case <-ctx.Done():
		return netip.AddrPort{}, peerTestError(ctx)
	case <-s.done:
		return netip.AddrPort{}, s.closedError()
	}
	if err := <-reply; err != nil {
		return netip.AddrPort{}, err
	}
	select {
	case r := <-result:
		return r.addr, r.err
	case <-ctx.Done():
		return netip.AddrPort{}, peerTestError(ctx)
	case <-s.done:
		return netip.AddrPort{}, s.closedError()
	}
}

func peerTestError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return failure.Wrap(ErrPeerTestTimeout, ctx.Err())
	}
	return failure.FromContext(ctx.Err(), "datagram: peer test")
}

// Close sends a termination block and waits for the session goroutine.
func (s *Session) Close() error {
	s.stop(failure.Wrapf(ErrClosed, "closed locally"), true)
	return nil
}

// stop ends the session with cause and waits until it is gone.
func (s *Session) stop(cause error, notify bool) {
	select {
	case s.cmds <- command{op: opClose, cause: cause, notify: notify}:
	case <-s.done:
	}
	<-s.done
}

func (s *Session) updateStats(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
