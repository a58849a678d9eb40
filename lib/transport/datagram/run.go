package datagram

import (
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/block"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

// run is the session goroutine.
func (s *Session) run() {
	defer s.finish()

	if s.role == noise.Initiator {
		s.startInitiator()
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for !s.closing {
		select {
		case <-s.ep.ctx.Done():
			s.fail(failure.Wrapf(ErrClosed, "endpoint closed"), true)
		case p := <-s.inbox:
			s.handlePacket(p)
		case c := <-s.cmds:
			s.handleCommand(c)
		case <-s.retransmit.C:
			s.onRetransmit()
		case <-s.ackTimer.C:
			s.ackArmed = false
			if s.received.pending {
				s.sendBlocks(s.addr, false)
			}
		case <-s.probeTimer.C:
			s.onProbeTimeout()
		case <-s.deadline.C:
			if !s.established {
				s.fail(failure.Wrapf(noise.ErrHandshakeTimeout, "no session after %s", s.cfg.HandshakeTimeout), false)
			}
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// fail ends the session. notify sends a termination block when keys exist.
func (s *Session) fail(cause error, notify bool) {
	if s.closing {
		return
	}
	s.closing = true
	if notify && s.established {
		term := block.Termination{
			FramesReceived: s.Stats().PacketsReceived,
			NetworkID:      s.cfg.NetworkID,
			Time:           s.cfg.Clock.Now(),
			Reason:         reasonFor(cause),
		}
		s.sendBlocks(s.addr, false, term.Block())
	}
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":          "(Session) fail",
		"role":        s.role.String(),
		"established": s.established,
		"reason":      cause.Error(),
	}).Debug("datagram session closed")
}

func reasonFor(cause error) block.Reason {
	switch failure.KindOf(cause) {
	case failure.Timeout:
		return block.ReasonIdleTimeout
	case failure.ProtocolViolation:
		return block.ReasonPayloadFormatError
	case failure.AuthenticationFailure:
		return block.ReasonAEADFailure
	}
	return block.ReasonNormalClose
}

func (s *Session) finish() {
	s.retransmit.Stop()
	s.ackTimer.Stop()
	s.probeTimer.Stop()
	s.deadline.Stop()
	if s.hs != nil {
		s.hs.Close()
	}
	s.send.zero()
	s.recv.zero()
	for _, ch := range s.peerTests {
		ch <- peerTestReply{err: s.closedError()}
	}
	s.ep.remove(s)
	close(s.done)
}

func (s *Session) handleCommand(c command) {
	switch c.op {
	case opSend:
		c.reply <- s.sendMessage(c.payload)
	case opPeerTest:
		var token [8]byte
		if _, err := rand.Read(token[:]); err != nil {
			c.reply <- failure.New(failure.ProtocolViolation, "datagram: peer test", err)
			return
		}
		s.peerTests[token] = c.test
		c.reply <- s.sendBlocks(s.addr, true, block.NewToken(block.TypePeerTest, token))
	case opClose:
		s.fail(c.cause, c.notify)
	}
}

func (s *Session) startInitiator() {
	m1, err := s.hs.WriteMessage1()
	if err != nil {
		s.fail(err, false)
		return
	}
	pkt, err := sealHandshake(handshakeHeader(typeSessionRequest, s.remoteID, s.localID, s.cfg.NetworkID), m1, s.intro)
	if err != nil {
		s.fail(err, false)
		return
	}
	s.sendHandshake(pkt)
}

// sendHandshake caches pkt for byte identical retransmission and restarts
// the backoff.
func (s *Session) sendHandshake(pkt []byte) {
	s.cached = pkt
	s.attempts = 1
	s.retryDelay = s.cfg.RetransmitInitial
	s.sendRaw(s.addr, pkt)
	s.retransmit.Reset(s.retryDelay)
}

func (s *Session) onRetransmit() {
	if s.established || s.cached == nil {
		return
	}
	if s.attempts >= s.cfg.MaxAttempts {
		s.fail(failure.Wrapf(noise.ErrHandshakeTimeout, "no reply after %d transmissions", s.attempts), false)
		return
	}
	s.attempts++
	s.retryDelay *= 2
	s.sendRaw(s.addr, s.cached)
	s.updateStats(func(st *Stats) { st.HandshakeRetransmits++ })
	s.retransmit.Reset(s.retryDelay)
}

func (s *Session) sendRaw(to netip.AddrPort, pkt []byte) {
	if err := s.ep.ch.SendTo(to, pkt); err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Session) sendRaw",
			"to":   to.String(),
			"size": len(pkt),
		}).WithError(err).Debug("packet send failed")
	}
}

func (s *Session) handlePacket(p packetIn) {
	if s.haveKeys {
		if h, clear, ok := openHeader(p.data, s.intro, s.recv.header, false); ok {
			if s.handleData(p.from, h, clear) {
				return
			}
		}
	}
	h, clear, ok := openHeader(p.data, s.intro, s.intro, true)
	if !ok || h.Version != noise.ProtocolVersion || h.NetworkID != s.cfg.NetworkID {
		return
	}
	s.handleHandshake(h, clear[LongHeaderSize:])
}

func (s *Session) handleHandshake(h header, msg []byte) {
	switch {
	case s.role == noise.Responder && h.Type == typeSessionRequest:
		switch s.hs.State() {
		case noise.Uninitiated:
			s.readMessage1(msg)
		case noise.SentEphemeral:
			s.sendRaw(s.addr, s.cached)
		}
	case s.role == noise.Responder && h.Type == typeSessionConfirmed:
		if s.hs.State() == noise.SentEphemeral {
			s.readMessage3(msg)
		} else if s.established && s.confirmPacket != nil {
			s.sendRaw(s.addr, s.confirmPacket)
		}
	case s.role == noise.Initiator && h.Type == typeSessionCreated:
		if h.SourceID == s.remoteID && s.hs.State() == noise.SentEphemeral {
			s.readMessage2(msg)
		}
	}
}

func readAll(hs func(noise.Reader) error, msg []byte) error {
	r, rest := noise.BytesReader(msg)
	if err := hs(r); err != nil {
		return err
	}
	if n := rest(); n != 0 {
		return failure.Wrapf(noise.ErrMalformed, "%d trailing bytes", n)
	}
	return nil
}

func (s *Session) readMessage1(msg []byte) {
	if err := readAll(s.hs.ReadMessage1, msg); err != nil {
		s.fail(err, false)
		return
	}
	m2, err := s.hs.WriteMessage2()
	if err != nil {
		s.fail(err, false)
		return
	}
	pkt, err := sealHandshake(handshakeHeader(typeSessionCreated, s.remoteID, s.localID, s.cfg.NetworkID), m2, s.intro)
	if err != nil {
		s.fail(err, false)
		return
	}
	s.sendHandshake(pkt)
}

func (s *Session) readMessage2(msg []byte) {
	if err := readAll(s.hs.ReadMessage2, msg); err != nil {
		s.fail(err, false)
		return
	}
	m3, err := s.hs.WriteMessage3()
	if err != nil {
		s.fail(err, false)
		return
	}
	res, _ := s.hs.Pending()
	s.installKeys(res)
	pkt, err := sealHandshake(handshakeHeader(typeSessionConfirmed, s.remoteID, s.localID, s.cfg.NetworkID), m3, s.intro)
	if err != nil {
		s.fail(err, false)
		return
	}
	s.sendHandshake(pkt)
}

func (s *Session) readMessage3(msg []byte) {
	if err := readAll(s.hs.ReadMessage3, msg); err != nil {
		s.fail(err, false)
		return
	}
	if _, err := s.hs.Confirmation(); err != nil {
		s.fail(err, false)
		return
	}
	res, err := s.hs.Finish()
	if err != nil {
		s.fail(err, false)
		return
	}
	s.installKeys(res)
	res.Zero()
	s.confirmPending = true
	s.establish()

	pkt, err := s.sealBlocks(false, block.NewDateTime(s.cfg.Clock.Now()))
	if err != nil {
		s.fail(err, false)
		return
	}
	s.confirmPacket = pkt
	s.sendRaw(s.addr, pkt)
	if !s.ep.accepted(s) {
		s.fail(failure.Wrapf(ErrSessionLimit, "accept queue full"), true)
	}
}

func (s *Session) installKeys(res *noise.Result) {
	derive := func(label string, outbound bool) [32]byte {
		var k [32]byte
		material := res.Derive(label, outbound, 32)
		copy(k[:], material)
		crypto.Zero(material)
		return k
	}
	s.send = directionKeys{data: res.SendKey, header: derive("header", true), message: derive("message", true)}
	s.recv = directionKeys{data: res.RecvKey, header: derive("header", false), message: derive("message", false)}
	s.hash = res.Hash
	s.haveKeys = true

	s.mu.Lock()
	s.remote = res.Remote
	s.hashCopy = res.Hash
	s.mu.Unlock()
}

func (s *Session) establish() {
	s.established = true
	s.cached = nil
	s.retransmit.Stop()
	s.deadline.Stop()
	s.lastRecv = time.Now()
	close(s.ready)
	log.WithFields(logger.Fields{
		"at":   "(Session) establish",
		"role": s.role.String(),
		"peer": identity.Short(s.Remote().Hash()),
		"addr": s.RemoteAddr().String(),
	}).Debug("datagram session established")
	s.startProbe()
}

// handleData reports false when the packet is not a data packet of this
// session, so the caller can try the handshake interpretation.
func (s *Session) handleData(from netip.AddrPort, h header, clear []byte) bool {
	hdr := clear[:ShortHeaderSize]
	pt, err := crypto.Open(s.recv.data[:], uint64(h.Number), hdr, clear[ShortHeaderSize:])
	if err != nil {
		return false
	}
	if !s.replay.ValidateCounter(uint64(h.Number), maxPacketNumber) {
		s.updateStats(func(st *Stats) { st.PacketsReplayed++ })
		return true
	}
	blocks, err := block.Parse(pt)
	if err != nil {
		s.fail(failure.Wrap(ErrPacket, err), true)
		return true
	}

	if !s.established {
		if !s.confirm(blocks) {
			return true
		}
	}
	s.lastRecv = time.Now()
	s.updateStats(func(st *Stats) { st.PacketsReceived++ })
	if s.role == noise.Responder {
		s.confirmPending = false
	}
	if from != s.addr {
		s.challengePath(from)
	}

	elicit := false
	for _, b := range blocks {
		if s.closing {
			return true
		}
		if s.handleBlock(from, b) {
			elicit = true
		}
	}
	s.received.record(h.Number, elicit)
	if elicit && !s.ackArmed {
		s.ackArmed = true
		s.ackTimer.Reset(s.cfg.AckDelay)
	}
	return true
}

// confirm completes an initiator handshake from the Confirm block the
// responder carries until it hears from us.
func (s *Session) confirm(blocks []block.Block) bool {
	for _, b := range blocks {
		if b.Type != block.TypeConfirm {
			continue
		}
		if err := s.hs.ReadConfirmation(b.Data); err != nil {
			s.fail(err, false)
			return false
		}
		res, err := s.hs.Finish()
		if err != nil {
			s.fail(err, false)
			return false
		}
		res.Zero()
		s.establish()
		return true
	}
	return false
}

// handleBlock processes one block and reports whether it elicits an ack.
func (s *Session) handleBlock(from netip.AddrPort, b block.Block) bool {
	switch b.Type {
	case block.TypeFragment:
		s.handleFragment(b.Data)
		return true
	case block.TypeAck:
		a, err := parseAck(b.Data)
		if err != nil {
			s.fail(err, true)
			return false
		}
		if n := s.sent.acked(a); n > 0 {
			s.updateStats(func(st *Stats) { st.PacketsAcked += uint64(n) })
		}
	case block.TypePeerTest:
		token, err := block.ParseToken(b.Data)
		if err != nil {
			s.fail(err, true)
			return false
		}
		addr, _ := from.MarshalBinary()
		s.sendBlocks(s.addr, false, block.Block{Type: block.TypePeerTestResult, Data: append(token[:], addr...)})
		return true
	case block.TypePeerTestResult:
		s.handlePeerTestResult(b.Data)
	case block.TypePathChallenge:
		token, err := block.ParseToken(b.Data)
		if err != nil {
			s.fail(err, true)
			return false
		}
		s.sendBlocks(from, false, block.NewToken(block.TypePathResponse, token))
	case block.TypePathResponse:
		token, err := block.ParseToken(b.Data)
		if err != nil {
			s.fail(err, true)
			return false
		}
		if want, ok := s.challenges[from]; ok && want == token {
			delete(s.challenges, from)
			s.mu.Lock()
			old := s.addr
			s.addr = from
			s.mu.Unlock()
			log.WithFields(logger.Fields{
				"at":   "(Session) handleBlock",
				"from": old.String(),
				"to":   from.String(),
			}).Info("peer address validated and rotated")
		}
	case block.TypeProbe:
		s.sendBlocks(from, false, block.Block{Type: block.TypeProbeAck, Data: b.Data})
	case block.TypeProbeAck:
		if s.probeSize > 0 && len(b.Data) == 4 && binary.BigEndian.Uint32(b.Data) == s.probeID {
			s.probeTimer.Stop()
			s.mtu = s.probeSize
			s.probeSize = 0
			s.updateStats(func(st *Stats) { st.MTU = s.mtu })
			s.startProbe()
		}
	case block.TypeTermination:
		term, err := block.ParseTermination(b.Data)
		reason := term.Reason
		if err != nil {
			reason = block.ReasonPayloadFormatError
		}
		s.fail(failure.Wrapf(ErrTerminated, "peer reason: %s", reason), false)
	case block.TypeDateTime:
		if t, err := block.ParseDateTime(b.Data); err == nil && s.cfg.ClockSkew > 0 {
			if err := clock.CheckSkew(s.cfg.Clock.Now(), t, s.cfg.ClockSkew); err != nil {
				log.WithError(err).Warn("datagram peer clock skew")
			}
		}
	}
	return false
}

func (s *Session) handleFragment(data []byte) {
	f, err := parseFragment(data)
	if err != nil {
		s.fail(err, true)
		return
	}
	sealed, complete, err := s.reasm.add(f, time.Now())
	if err != nil {
		s.fail(err, true)
		return
	}
	if !complete {
		return
	}
	msg, err := crypto.Open(s.recv.message[:], uint64(f.MessageID), nil, sealed)
	if err != nil {
		s.fail(failure.Wrapf(ErrMessageAuth, "message %d", f.MessageID), false)
		return
	}
	select {
	case s.messages <- msg:
		s.updateStats(func(st *Stats) { st.MessagesReceived++ })
	default:
		s.updateStats(func(st *Stats) { st.MessagesDropped++ })
	}
}

func (s *Session) handlePeerTestResult(data []byte) {
	token, err := block.ParseToken(data[:min(len(data), 8)])
	if err != nil {
		return
	}
	ch, ok := s.peerTests[token]
	if !ok {
		return
	}
	delete(s.peerTests, token)
	var addr netip.AddrPort
	if err := addr.UnmarshalBinary(data[8:]); err != nil {
		ch <- peerTestReply{err: failure.Wrap(ErrPacket, err)}
		return
	}
	ch <- peerTestReply{addr: addr}
}

func (s *Session) challengePath(from netip.AddrPort) {
	if _, pending := s.challenges[from]; pending {
		return
	}
	var token [8]byte
	if _, err := rand.Read(token[:]); err != nil {
		return
	}
	s.challenges[from] = token
	log.WithFields(logger.Fields{
		"at":   "(Session) challengePath",
		"from": from.String(),
	}).Debug("authenticated packet from new address, validating path")
	s.sendBlocks(from, false, block.NewToken(block.TypePathChallenge, token))
}

// sendMessage seals, fragments and sends one application message.
func (s *Session) sendMessage(payload []byte) error {
	if !s.established {
		return failure.Wrapf(ErrClosed, "session not established")
	}
	if s.nextMsgID == maxPacketNumber {
		return failure.Wrapf(ErrNonceExhausted, "message IDs exhausted")
	}
	room := s.mtu - ShortHeaderSize - crypto.TagSize - block.HeaderSize - fragmentHeaderSize - ackBlockSize
	if s.confirmPending {
		room -= block.HeaderSize + 32
	}
	sealedLen := len(payload) + crypto.TagSize
	if count := (sealedLen + room - 1) / room; count > s.cfg.MaxFragments {
		return failure.Wrapf(ErrMessageTooLarge, "%d bytes need %d fragments, limit %d", len(payload), count, s.cfg.MaxFragments)
	}

	id := s.nextMsgID
	s.nextMsgID++
	sealed, err := crypto.Seal(s.send.message[:], uint64(id), nil, payload)
	if err != nil {
		return failure.New(failure.ProtocolViolation, "datagram: seal", err)
	}
	for _, f := range split(id, sealed, room) {
		if err := s.sendBlocks(s.addr, true, f.block()); err != nil {
			return err
		}
	}
	s.updateStats(func(st *Stats) { st.MessagesSent++ })
	return nil
}

// sendBlocks adds a pending ack and, for a responder the initiator has not
// answered yet, the Confirm block, then seals and sends the packet.
func (s *Session) sendBlocks(to netip.AddrPort, elicit bool, blocks ...block.Block) error {
	if s.received.pending {
		blocks = append(blocks, s.received.ack().block())
		if s.ackArmed {
			s.ackTimer.Stop()
			s.ackArmed = false
		}
	}
	pkt, err := s.sealBlocks(elicit, blocks...)
	if err != nil {
		if failure.KindOf(err) == failure.ProtocolViolation {
			s.fail(err, false)
		}
		return err
	}
	s.sendRaw(to, pkt)
	return nil
}

// sealBlocks builds one data packet. It consumes a packet number.
func (s *Session) sealBlocks(elicit bool, blocks ...block.Block) ([]byte, error) {
	if s.nextPN == maxPacketNumber {
		return nil, failure.Wrapf(ErrNonceExhausted, "packet numbers exhausted")
	}
	if s.confirmPending {
		blocks = append([]block.Block{block.NewConfirm(s.hash)}, blocks...)
	}
	pn := s.nextPN
	s.nextPN++

	h := header{DestID: s.remoteID, Number: pn, Type: typeData}
	hdr := h.encode()
	ct, err := crypto.Seal(s.send.data[:], uint64(pn), hdr, block.Serialize(blocks...))
	if err != nil {
		return nil, failure.New(failure.ProtocolViolation, "datagram: seal", err)
	}
	pkt := append(hdr, ct...)
	if err := maskHeader(pkt, ShortHeaderSize, s.intro, s.send.header); err != nil {
		return nil, err
	}
	if elicit {
		s.sent.add(pn, time.Now())
	}
	s.updateStats(func(st *Stats) { st.PacketsSent++ })
	return pkt, nil
}

// startProbe sends a padded probe for the next size above the current MTU.
func (s *Session) startProbe() {
	s.probeSize = 0
	for len(s.probeSizes) > 0 && s.probeSizes[0] <= s.mtu {
		s.probeSizes = s.probeSizes[1:]
	}
	if len(s.probeSizes) == 0 || s.closing {
		return
	}
	size := s.probeSizes[0]
	s.probeSizes = s.probeSizes[1:]
	s.probeID++

	id := make([]byte, 4)
	binary.BigEndian.PutUint32(id, s.probeID)
	probe := block.Block{Type: block.TypeProbe, Data: id}
	extra := 0
	if s.confirmPending {
		extra = block.HeaderSize + 32
	}
	pad := size - ShortHeaderSize - crypto.TagSize - probe.Len() - block.HeaderSize - extra
	if pad < 0 {
		return
	}
	pkt, err := s.sealBlocks(false, probe, block.NewPadding(pad))
	if err != nil {
		return
	}
	s.probeSize = size
	s.sendRaw(s.addr, pkt)
	s.probeTimer.Reset(s.cfg.ProbeTimeout)
}

// onProbeTimeout ends discovery at the first size that was not acked.
func (s *Session) onProbeTimeout() {
	if s.probeSize == 0 {
		return
	}
	log.WithFields(logger.Fields{
		"at":   "(Session) onProbeTimeout",
		"size": s.probeSize,
		"mtu":  s.mtu,
	}).Debug("path MTU probe lost, keeping current MTU")
	s.probeSize = 0
	s.probeSizes = nil
}

func (s *Session) sweep(now time.Time) {
	expired := s.reasm.expire(now)
	lost := s.sent.lost(now)
	if expired > 0 || lost > 0 {
		s.updateStats(func(st *Stats) {
			st.MessagesExpired += uint64(expired)
			st.PacketsLost += uint64(lost)
		})
	}
	if s.established && s.cfg.IdleTimeout > 0 && now.Sub(s.lastRecv) > s.cfg.IdleTimeout {
		s.fail(failure.Wrapf(ErrIdle, "nothing received for %s", s.cfg.IdleTimeout), true)
	}
}
