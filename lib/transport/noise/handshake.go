package noise

import (
	"crypto/subtle"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/util/clock"
	"github.com/go-i2p/logger"
)

// Profile binds a transport to its protocol name and message count. The
// name is hashed into the transcript, so profiles never agree on keys.
type Profile struct {
	Name        string
	FourMessage bool
}

var (
	// StreamProfile is the three message handshake of the stream transport.
	StreamProfile = Profile{Name: "Noise_XKstream_25519_ChaChaPoly_SHA256"}
	// DatagramProfile is the four message handshake of the datagram transport.
	DatagramProfile = Profile{Name: "Noise_XKdatagram_25519_ChaChaPoly_SHA256", FourMessage: true}
)

// Message sizes.
const (
	EphemeralSize     = 32
	Message1HeadSize  = EphemeralSize + OptionsSize + crypto.TagSize
	Message2HeadSize  = Message1HeadSize
	Message3Part1Size = 32 + crypto.TagSize
	// identityPayloadSize is the identity and signature at the start of
	// message 3 part 2.
	identityPayloadSize = identity.PublicSize + crypto.SignatureSize
	// MinMessage3Len is the smallest valid message 3 part 2.
	MinMessage3Len = identityPayloadSize + crypto.TagSize
)

// Config is the policy a handshake runs under.
type Config struct {
	Profile    Profile
	NetworkID  byte
	ClockSkew  time.Duration
	MaxPadding int
	Clock      clock.Clock
	// Replay is consulted by responders. Nil disables replay detection.
	Replay *ReplayCache
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = time.Minute
	}
	if c.Profile.Name == "" {
		c.Profile = StreamProfile
	}
	return c
}

// Reader returns exactly n bytes of handshake input.
type Reader func(n int) ([]byte, error)

// BytesReader serves a Reader from a single buffer, as a datagram packet
// carries a whole handshake message. remaining reports unread bytes.
func BytesReader(b []byte) (r Reader, remaining func() int) {
	off := 0
	r = func(n int) ([]byte, error) {
		if n < 0 || off+n > len(b) {
			return nil, failure.Wrapf(ErrMalformed, "need %d bytes, have %d", n, len(b)-off)
		}
		out := b[off : off+n]
		off += n
		return out, nil
	}
	return r, func() int { return len(b) - off }
}

// Handshake is one handshake attempt. It is not safe for concurrent use;
// each attempt is owned by a single session goroutine.
type Handshake struct {
	cfg   Config
	role  Role
	state State
	err   error

	local  identity.Provider
	remote identity.Public

	ss         *symmetricState
	e          *crypto.ObfuscatedKeypair
	re         [32]byte
	remoteOpts Options

	msg3Padding int
	msg3Len     int
	result      *Result
}

func newHandshake(cfg Config, role Role, local identity.Provider) *Handshake {
	cfg = cfg.withDefaults()
	return &Handshake{
		cfg:   cfg,
		role:  role,
		state: Uninitiated,
		local: local,
		ss:    newSymmetricState(cfg.Profile.Name),
	}
}

// NewInitiator starts a handshake towards remote.
func NewInitiator(cfg Config, local identity.Provider, remote identity.Public) *Handshake {
	hs := newHandshake(cfg, Initiator, local)
	hs.remote = remote
	hs.ss.mixHash(remote.StaticKey[:])
	hs.msg3Padding = randomInt(hs.cfg.MaxPadding + 1)
	hs.msg3Len = identityPayloadSize + hs.msg3Padding + crypto.TagSize
	return hs
}

// NewResponder prepares to answer a handshake addressed to local.
func NewResponder(cfg Config, local identity.Provider) *Handshake {
	hs := newHandshake(cfg, Responder, local)
	static := local.Public().StaticKey
	hs.ss.mixHash(static[:])
	return hs
}

// State returns the current state.
func (hs *Handshake) State() State { return hs.state }

// Role returns the handshake role.
func (hs *Handshake) Role() Role { return hs.role }

// Profile returns the handshake profile.
func (hs *Handshake) Profile() Profile { return hs.cfg.Profile }

// Err returns the failure that moved the handshake to Failed.
func (hs *Handshake) Err() error { return hs.err }

// Remote returns the peer identity. For a responder it is known only after
// message 3.
func (hs *Handshake) Remote() identity.Public { return hs.remote }

// RemoteOptions returns the options block received from the peer.
func (hs *Handshake) RemoteOptions() Options { return hs.remoteOpts }

// Message3Len is the message 3 part 2 length announced in message 1.
func (hs *Handshake) Message3Len() int { return hs.msg3Len }

func (hs *Handshake) begin(ev Event) (State, error) {
	if hs.state == Failed {
		return Failed, failure.Wrap(ErrFailed, hs.err)
	}
	next := transition(hs.role, hs.cfg.Profile.FourMessage, hs.state, ev)
	if next == Failed {
		return Failed, hs.fail(failure.Wrapf(ErrUnexpectedMessage, "%s in state %s", ev, hs.state))
	}
	return next, nil
}

func (hs *Handshake) fail(err error) error {
	if hs.state == Failed {
		return hs.err
	}
	log.WithFields(logger.Fields{
		"at":      "(Handshake) fail",
		"role":    hs.role.String(),
		"profile": hs.cfg.Profile.Name,
		"state":   hs.state.String(),
		"reason":  err.Error(),
	}).Debug("handshake failed")
	hs.state = Failed
	hs.err = err
	hs.wipe()
	return err
}

// Abort fails the handshake from outside, for timeouts and cancellation.
func (hs *Handshake) Abort(err error) error {
	if hs.state.Terminal() {
		return hs.err
	}
	return hs.fail(err)
}

// Close wipes all secret state. An unfinished handshake becomes Failed.
func (hs *Handshake) Close() {
	if !hs.state.Terminal() {
		hs.fail(failure.Newf(failure.Cancelled, "noise: close", "handshake closed in state %s", hs.state))
	}
	hs.wipe()
}

func (hs *Handshake) wipe() {
	if hs.e != nil {
		hs.e.Zero()
		crypto.Zero(hs.e.Representative[:])
		hs.e = nil
	}
	hs.ss.zero()
	if hs.result != nil {
		hs.result.Zero()
		hs.result = nil
	}
}

func (hs *Handshake) localOptions(padLen int, msg3Len int) Options {
	return Options{
		Version:     ProtocolVersion,
		NetworkID:   hs.cfg.NetworkID,
		PaddingLen:  uint16(padLen),
		Message3Len: uint16(msg3Len),
		Timestamp:   clock.Unix32(hs.cfg.Clock.Now()),
	}
}

// writeEphemeralMessage builds messages 1 and 2: representative, sealed
// options, clear padding.
func (hs *Handshake) writeEphemeralMessage(remoteDH [32]byte, msg3Len int) ([]byte, error) {
	e, err := crypto.GenerateObfuscatedKeypair()
	if err != nil {
		return nil, failure.New(failure.ProtocolViolation, "noise: ephemeral", err)
	}
	hs.e = e
	hs.ss.mixHash(e.Public[:])

	shared, err := crypto.DH(e.Private, remoteDH)
	if err != nil {
		return nil, failure.Wrap(ErrMalformed, err)
	}
	hs.ss.mixKey(shared[:])
	crypto.Zero32(&shared)

	padLen := randomInt(hs.cfg.MaxPadding + 1)
	sealed, err := hs.ss.encryptAndHash(hs.localOptions(padLen, msg3Len).Bytes())
	if err != nil {
		return nil, failure.Wrap(ErrAuthentication, err)
	}
	padding := randomBytes(padLen)
	hs.ss.mixHash(padding)

	msg := make([]byte, 0, Message1HeadSize+padLen)
	msg = append(msg, e.Representative[:]...)
	msg = append(msg, sealed...)
	return append(msg, padding...), nil
}

// readEphemeralMessage consumes messages 1 and 2. dh runs the local half of
// es or ee against the decoded remote ephemeral.
func (hs *Handshake) readEphemeralMessage(r Reader, dh func(re [32]byte) ([32]byte, error)) (Options, [32]byte, error) {
	var repr [32]byte
	head, err := r(Message1HeadSize)
	if err != nil {
		return Options{}, repr, readError(err)
	}
	copy(repr[:], head[:EphemeralSize])
	hs.re = crypto.DecodeRepresentative(repr)
	hs.ss.mixHash(hs.re[:])

	shared, err := dh(hs.re)
	if err != nil {
		return Options{}, repr, failure.Wrap(ErrMalformed, err)
	}
	hs.ss.mixKey(shared[:])
	crypto.Zero32(&shared)

	pt, err := hs.ss.decryptAndHash(head[EphemeralSize:])
	if err != nil {
		return Options{}, repr, failure.Wrap(ErrAuthentication, err)
	}
	opts, err := ParseOptions(pt)
	if err != nil {
		return Options{}, repr, err
	}
	if err := opts.check(hs.cfg.NetworkID, hs.cfg.Clock.Now(), hs.cfg.ClockSkew); err != nil {
		return Options{}, repr, err
	}
	padding, err := r(int(opts.PaddingLen))
	if err != nil {
		return Options{}, repr, readError(err)
	}
	hs.ss.mixHash(padding)
	return opts, repr, nil
}

// WriteMessage1 produces the initiator's first message: -> e, es.
func (hs *Handshake) WriteMessage1() ([]byte, error) {
	next, err := hs.begin(SendMessage1)
	if err != nil {
		return nil, err
	}
	msg, err := hs.writeEphemeralMessage(hs.remote.StaticKey, hs.msg3Len)
	if err != nil {
		return nil, hs.fail(err)
	}
	hs.state = next
	return msg, nil
}

// ReadMessage1 consumes the initiator's first message.
func (hs *Handshake) ReadMessage1(r Reader) error {
	next, err := hs.begin(RecvMessage1)
	if err != nil {
		return err
	}
	opts, repr, err := hs.readEphemeralMessage(r, hs.local.DH)
	if err != nil {
		return hs.fail(err)
	}
	if int(opts.Message3Len) < MinMessage3Len {
		return hs.fail(failure.Wrapf(ErrMalformed, "message 3 length %d too small", opts.Message3Len))
	}
	if hs.cfg.Replay != nil && hs.cfg.Replay.CheckAndAdd(repr) {
		return hs.fail(failure.Wrapf(ErrReplay, "message 1 ephemeral seen before"))
	}
	hs.remoteOpts = opts
	hs.msg3Len = int(opts.Message3Len)
	hs.state = next
	return nil
}

// WriteMessage2 produces the responder's reply: <- e, ee.
func (hs *Handshake) WriteMessage2() ([]byte, error) {
	next, err := hs.begin(SendMessage2)
	if err != nil {
		return nil, err
	}
	msg, err := hs.writeEphemeralMessage(hs.re, 0)
	if err != nil {
		return nil, hs.fail(err)
	}
	hs.state = next
	return msg, nil
}

// ReadMessage2 consumes the responder's reply.
func (hs *Handshake) ReadMessage2(r Reader) error {
	next, err := hs.begin(RecvMessage2)
	if err != nil {
		return err
	}
	opts, _, err := hs.readEphemeralMessage(r, func(re [32]byte) ([32]byte, error) {
		return crypto.DH(hs.e.Private, re)
	})
	if err != nil {
		return hs.fail(err)
	}
	hs.remoteOpts = opts
	hs.state = next
	return nil
}

// WriteMessage3 produces -> s, se followed by the signed identity payload.
func (hs *Handshake) WriteMessage3() ([]byte, error) {
	next, err := hs.begin(SendMessage3)
	if err != nil {
		return nil, err
	}
	pub := hs.local.Public()
	part1, err := hs.ss.encryptAndHash(pub.StaticKey[:])
	if err != nil {
		return nil, hs.fail(failure.Wrap(ErrAuthentication, err))
	}
	shared, err := hs.local.DH(hs.re)
	if err != nil {
		return nil, hs.fail(failure.Wrap(ErrMalformed, err))
	}
	hs.ss.mixKey(shared[:])
	crypto.Zero32(&shared)

	payload := make([]byte, 0, identityPayloadSize+hs.msg3Padding)
	payload = append(payload, pub.Bytes()...)
	payload = append(payload, hs.local.Sign(hs.ss.h[:])...)
	payload = append(payload, randomBytes(hs.msg3Padding)...)
	part2, err := hs.ss.encryptAndHash(payload)
	if err != nil {
		return nil, hs.fail(failure.Wrap(ErrAuthentication, err))
	}

	hs.result = hs.split()
	hs.state = next
	log.WithFields(logger.Fields{
		"at":      "(Handshake) WriteMessage3",
		"profile": hs.cfg.Profile.Name,
		"peer":    identity.Short(hs.remote.Hash()),
	}).Debug("handshake keys derived")
	return append(part1, part2...), nil
}

// ReadMessage3 consumes the initiator's static key and identity payload.
func (hs *Handshake) ReadMessage3(r Reader) error {
	next, err := hs.begin(RecvMessage3)
	if err != nil {
		return err
	}
	part1, err := r(Message3Part1Size)
	if err != nil {
		return hs.fail(readError(err))
	}
	static, err := hs.ss.decryptAndHash(part1)
	if err != nil {
		return hs.fail(failure.Wrap(ErrAuthentication, err))
	}
	var rs [32]byte
	copy(rs[:], static)

	shared, err := crypto.DH(hs.e.Private, rs)
	if err != nil {
		return hs.fail(failure.Wrap(ErrMalformed, err))
	}
	hs.ss.mixKey(shared[:])
	crypto.Zero32(&shared)

	signed := hs.ss.h
	part2, err := r(hs.msg3Len)
	if err != nil {
		return hs.fail(readError(err))
	}
	payload, err := hs.ss.decryptAndHash(part2)
	if err != nil {
		return hs.fail(failure.Wrap(ErrAuthentication, err))
	}
	if len(payload) < identityPayloadSize {
		return hs.fail(failure.Wrapf(ErrMalformed, "identity payload is %d bytes", len(payload)))
	}
	pub, err := identity.ParsePublic(payload[:identity.PublicSize])
	if err != nil {
		return hs.fail(failure.Wrap(ErrMalformed, err))
	}
	if subtle.ConstantTimeCompare(pub.StaticKey[:], rs[:]) != 1 {
		return hs.fail(failure.Wrapf(ErrIdentity, "identity static key differs from handshake key"))
	}
	if err := pub.Verify(signed[:], payload[identity.PublicSize:identityPayloadSize]); err != nil {
		return hs.fail(failure.Wrap(ErrIdentity, err))
	}

	hs.remote = pub
	hs.result = hs.split()
	hs.state = next
	log.WithFields(logger.Fields{
		"at":      "(Handshake) ReadMessage3",
		"profile": hs.cfg.Profile.Name,
		"peer":    identity.Short(pub.Hash()),
	}).Debug("initiator authenticated")
	return nil
}

// Confirmation moves a four message responder past message 4 and returns
// the handshake hash the confirmation must carry.
func (hs *Handshake) Confirmation() ([32]byte, error) {
	next, err := hs.begin(SendMessage4)
	if err != nil {
		return [32]byte{}, err
	}
	hs.state = next
	return hs.result.Hash, nil
}

// ReadConfirmation checks the responder's message 4 hash in constant time.
func (hs *Handshake) ReadConfirmation(hash []byte) error {
	next, err := hs.begin(RecvMessage4)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(hash, hs.result.Hash[:]) != 1 {
		return hs.fail(failure.Wrapf(ErrAuthentication, "confirmation hash mismatch"))
	}
	hs.state = next
	return nil
}

// Pending returns the derived keys once message 3 has been processed,
// before the handshake is confirmed. The handshake keeps ownership.
func (hs *Handshake) Pending() (*Result, bool) {
	if hs.result == nil || hs.state == Failed {
		return nil, false
	}
	return hs.result, true
}

// Finish confirms the handshake and hands the result to the caller, who
// becomes responsible for zeroing it.
func (hs *Handshake) Finish() (*Result, error) {
	next, err := hs.begin(Complete)
	if err != nil {
		return nil, err
	}
	res := hs.result
	hs.result = nil
	hs.state = next
	hs.wipe()
	return res, nil
}

func (hs *Handshake) split() *Result {
	k1, k2 := hs.ss.split()
	res := &Result{
		Profile:       hs.cfg.Profile,
		Role:          hs.role,
		Remote:        hs.remote,
		RemoteOptions: hs.remoteOpts,
		Hash:          hs.ss.h,
		ck:            hs.ss.ck,
	}
	if hs.role == Initiator {
		res.SendKey, res.RecvKey = k1, k2
	} else {
		res.SendKey, res.RecvKey = k2, k1
	}
	return res
}

func readError(err error) error {
	if failure.KindOf(err) != 0 {
		return err
	}
	return failure.New(failure.TransportClosed, "noise: read", err)
}

func randomInt(n int) int {
	if n <= 1 {
		return 0
	}
	return rand.Intn(n)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if n > 0 {
		if _, err := rand.Read(b); err != nil {
			log.WithError(err).Warn("padding randomness unavailable, sending zeros")
		}
	}
	return b
}
