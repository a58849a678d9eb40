package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

const (
	// maxMessagePayload is the largest message that fits one frame.
	maxMessagePayload = MaxFrameSize - crypto.TagSize - block.HeaderSize

	inboxSize = 64

	// terminationWriteTimeout bounds the best effort termination frame.
	terminationWriteTimeout = time.Second
)

// Stats are the frame counters of a session.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	SendRekeys     uint64
	RecvRekeys     uint64
}

// Session is an established stream transport session. Send may be called
// from any goroutine; frames go on the wire in the order Send acquires the
// send lock. Received messages are queued by a single receive goroutine.
type Session struct {
	cfg    Config
	ch     Channel
	role   noise.Role
	remote identity.Public
	hash   [32]byte

	sendMu     sync.Mutex
	sendKey    [32]byte
	sendNonce  uint64
	sendLength *crypto.LengthObfuscator

	// receive state is owned by receiveWorker
	recvKey    [32]byte
	recvNonce  uint64
	recvLength *crypto.LengthObfuscator

	framesSent atomic.Uint64
	framesRecv atomic.Uint64
	sendRekeys atomic.Uint64
	recvRekeys atomic.Uint64
	lastRecv   atomic.Int64

	padMu   sync.RWMutex
	padding block.Options

	inbox chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

func newSession(cfg Config, ch Channel, res *noise.Result) *Session {
	defer res.Zero()

	s := &Session{
		cfg:     cfg,
		ch:      ch,
		role:    res.Role,
		remote:  res.Remote,
		hash:    res.Hash,
		sendKey: res.SendKey,
		recvKey: res.RecvKey,
		padding: cfg.Padding,
		inbox:   make(chan []byte, inboxSize),
	}
	sendMat := res.Derive("siphash", true, crypto.SipKeySize)
	recvMat := res.Derive("siphash", false, crypto.SipKeySize)
	s.sendLength, _ = crypto.NewLengthObfuscator(sendMat)
	s.recvLength, _ = crypto.NewLengthObfuscator(recvMat)
	crypto.Zero(sendMat)
	crypto.Zero(recvMat)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.touch()

	s.wg.Add(2)
	go s.receiveWorker()
	go s.reaper()
	if cfg.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.idleWorker()
	}

	log.WithFields(logger.Fields{
		"at":   "stream.newSession",
		"role": s.role.String(),
		"peer": identity.Short(s.remote.Hash()),
	}).Debug("stream session established")

	if err := s.writeFrame(nil, block.NewDateTime(cfg.Clock.Now()), cfg.Padding.Block()); err != nil {
		s.terminate(block.ReasonNormalClose, err, false)
	}
	return s
}

// Remote returns the authenticated peer identity.
func (s *Session) Remote() identity.Public { return s.remote }

// Role reports which side opened the session.
func (s *Session) Role() noise.Role { return s.role }

// Hash returns the handshake transcript hash.
func (s *Session) Hash() [32]byte { return s.hash }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns the frame counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesRecv.Load(),
		SendRekeys:     s.sendRekeys.Load(),
		RecvRekeys:     s.recvRekeys.Load(),
	}
}

// Send frames payload as one message. It blocks until the channel accepts
// the frame. Cancelling ctx while the frame is being written closes the
// session, since a partial frame cannot be recovered.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return failure.FromContext(err, "stream: send")
	}
	if len(payload) > s.cfg.MaxMessageSize {
		return failure.Wrapf(ErrMessageTooLarge, "%d bytes, limit %d", len(payload), s.cfg.MaxMessageSize)
	}
	blocks := []block.Block{block.NewMessage(payload)}
	room := maxMessagePayload - len(payload) - block.HeaderSize
	if pad := s.paddingPolicy().PaddingFor(len(payload), room); pad > 0 {
		blocks = append(blocks, block.NewPadding(pad))
	}
	if err := s.writeFrame(ctx, blocks...); err != nil {
		s.terminate(block.ReasonNormalClose, err, false)
		return s.closedError(err)
	}
	return nil
}

// Receive returns the next message. Messages that arrived before the
// session closed are still returned.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, failure.FromContext(ctx.Err(), "stream: receive")
	case <-s.ctx.Done():
		select {
		case msg := <-s.inbox:
			return msg, nil
		default:
		}
		return nil, s.closedError(nil)
	}
}

// Close sends a termination block, closes the channel and waits for the
// session goroutines.
func (s *Session) Close() error {
	s.CloseWithReason(block.ReasonNormalClose)
	return nil
}

// CloseWithReason is Close with an explicit termination reason.
func (s *Session) CloseWithReason(reason block.Reason) {
	s.terminate(reason, failure.Wrapf(ErrClosed, "closed locally: %s", reason), true)
	s.wg.Wait()
}

func (s *Session) closedError(fallback error) error {
	if err := s.Err(); err != nil {
		return err
	}
	if fallback != nil {
		return fallback
	}
	return ErrClosed
}

func (s *Session) paddingPolicy() block.Options {
	s.padMu.RLock()
	defer s.padMu.RUnlock()
	return s.padding
}

func (s *Session) touch() {
	s.lastRecv.Store(time.Now().UnixNano())
}

// terminate ends the session once. notify sends a termination block first;
// it is false when the failure came from the peer or the send direction
// is unusable.
func (s *Session) terminate(reason block.Reason, cause error, notify bool) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		if notify {
			s.sendTermination(reason)
		}
		s.cancel()
		_ = s.ch.Close()

		log.WithFields(logger.Fields{
			"at":     "(Session) terminate",
			"peer":   identity.Short(s.remote.Hash()),
			"reason": reason.String(),
			"cause":  errString(cause),
		}).Debug("stream session closed")
	})
}

func (s *Session) sendTermination(reason block.Reason) {
	term := block.Termination{
		FramesReceived: s.framesRecv.Load(),
		NetworkID:      s.cfg.NetworkID,
		Time:           s.cfg.Clock.Now(),
		Reason:         reason,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.writeFrame(nil, term.Block())
	}()
	select {
	case <-done:
	case <-time.After(terminationWriteTimeout):
	}
}

// reaper wipes the send keys once the session is closed and any write in
// progress has returned.
func (s *Session) reaper() {
	defer s.wg.Done()
	<-s.ctx.Done()
	s.sendMu.Lock()
	crypto.Zero32(&s.sendKey)
	s.sendLength.Zero()
	s.sendMu.Unlock()
}

func (s *Session) writeFrame(ctx context.Context, blocks ...block.Block) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.ctx.Err() != nil {
		return s.closedError(nil)
	}
	if s.sendNonce >= crypto.RekeyNonce-1 {
		return failure.Wrapf(ErrNonceExhausted, "send nonce %d", s.sendNonce)
	}
	ct, err := crypto.Seal(s.sendKey[:], s.sendNonce, nil, block.Serialize(blocks...))
	if err != nil {
		return failure.New(failure.ProtocolViolation, "stream: seal", err)
	}
	if len(ct) > MaxFrameSize {
		return failure.Wrapf(ErrFrameLength, "frame of %d bytes", len(ct))
	}
	s.sendNonce++

	frame := make([]byte, 2+len(ct))
	s.sendLength.Obfuscate(frame[:2], uint16(len(ct)))
	copy(frame[2:], ct)

	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			s.terminate(block.ReasonNormalClose, failure.FromContext(ctx.Err(), "stream: send"), false)
		})
		defer stop()
	}
	if err := s.ch.WriteAll(frame); err != nil {
		return writeError(err)
	}

	sent := s.framesSent.Add(1)
	if s.cfg.RekeyInterval > 0 && sent%s.cfg.RekeyInterval == 0 {
		next, err := crypto.Rekey(s.sendKey)
		if err != nil {
			return failure.New(failure.ProtocolViolation, "stream: rekey", err)
		}
		s.sendKey = next
		s.sendRekeys.Add(1)
	}
	return nil
}

func (s *Session) readFrame() ([]byte, error) {
	hdr, err := s.ch.ReadExact(2)
	if err != nil {
		return nil, failure.New(failure.TransportClosed, "stream: read", err)
	}
	n := int(s.recvLength.Deobfuscate(hdr))
	if n < crypto.TagSize {
		return nil, failure.Wrapf(ErrFrameLength, "frame of %d bytes", n)
	}
	ct, err := s.ch.ReadExact(n)
	if err != nil {
		return nil, failure.New(failure.TransportClosed, "stream: read", err)
	}
	if s.recvNonce >= crypto.RekeyNonce-1 {
		return nil, failure.Wrapf(ErrNonceExhausted, "receive nonce %d", s.recvNonce)
	}
	pt, err := crypto.Open(s.recvKey[:], s.recvNonce, nil, ct)
	if err != nil {
		return nil, failure.Wrap(ErrFrameAuth, err)
	}
	s.recvNonce++
	s.touch()

	recv := s.framesRecv.Add(1)
	if s.cfg.RekeyInterval > 0 && recv%s.cfg.RekeyInterval == 0 {
		next, err := crypto.Rekey(s.recvKey)
		if err != nil {
			return nil, failure.New(failure.ProtocolViolation, "stream: rekey", err)
		}
		s.recvKey = next
		s.recvRekeys.Add(1)
	}
	return pt, nil
}

func (s *Session) receiveWorker() {
	defer s.wg.Done()
	defer func() {
		crypto.Zero32(&s.recvKey)
		s.recvLength.Zero()
	}()

	for {
		pt, err := s.readFrame()
		if err != nil {
			if s.ctx.Err() == nil {
				s.terminate(reasonFor(err), err, failure.KindOf(err) == failure.ProtocolViolation)
			}
			return
		}
		blocks, err := block.Parse(pt)
		if err != nil {
			s.terminate(block.ReasonPayloadFormatError, failure.Wrap(ErrPayload, err), true)
			return
		}
		if !s.handleBlocks(blocks) {
			return
		}
	}
}

// handleBlocks processes one frame and reports whether to keep reading.
func (s *Session) handleBlocks(blocks []block.Block) bool {
	for _, b := range blocks {
		switch b.Type {
		case block.TypeMessage:
			if len(b.Data) > s.cfg.MaxMessageSize {
				s.terminate(block.ReasonPayloadFormatError,
					failure.Wrapf(ErrPayload, "message of %d bytes, limit %d", len(b.Data), s.cfg.MaxMessageSize), true)
				return false
			}
			select {
			case s.inbox <- b.Data:
			case <-s.ctx.Done():
				return false
			}
		case block.TypeDateTime:
			t, err := block.ParseDateTime(b.Data)
			if err != nil {
				s.terminate(block.ReasonPayloadFormatError, failure.Wrap(ErrPayload, err), true)
				return false
			}
			if err := clock.CheckSkew(s.cfg.Clock.Now(), t, s.cfg.ClockSkew); err != nil && s.cfg.ClockSkew > 0 {
				log.WithFields(logger.Fields{
					"at":   "(Session) handleBlocks",
					"peer": identity.Short(s.remote.Hash()),
				}).WithError(err).Warn("peer clock skew")
			}
		case block.TypeOptions:
			opts, err := block.ParseOptions(b.Data)
			if err != nil {
				s.terminate(block.ReasonOptionsError, failure.Wrap(ErrPayload, err), true)
				return false
			}
			s.padMu.Lock()
			s.padding = block.Negotiate(s.cfg.Padding, opts)
			s.padMu.Unlock()
		case block.TypeTermination:
			term, err := block.ParseTermination(b.Data)
			reason := term.Reason
			if err != nil {
				reason = block.ReasonPayloadFormatError
			}
			s.terminate(block.ReasonTerminationReceived, failure.Wrapf(ErrTerminated, "peer reason: %s", reason), false)
			return false
		case block.TypePadding:
		default:
			log.WithFields(logger.Fields{
				"at":   "(Session) handleBlocks",
				"type": uint8(b.Type),
			}).Debug("ignoring unknown block")
		}
	}
	return true
}

// idleWorker closes the session when nothing was received for IdleTimeout.
func (s *Session) idleWorker() {
	defer s.wg.Done()
	tick := s.cfg.IdleTimeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastRecv.Load()))
			if idle >= s.cfg.IdleTimeout {
				s.terminate(block.ReasonIdleTimeout, failure.Wrapf(ErrIdle, "nothing received for %s", idle.Round(time.Millisecond)), true)
				return
			}
		}
	}
}

func reasonFor(err error) block.Reason {
	switch failure.KindOf(err) {
	case failure.AuthenticationFailure:
		return block.ReasonAEADFailure
	case failure.ProtocolViolation:
		return block.ReasonFrameLengthOutOfRange
	}
	return block.ReasonNormalClose
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
