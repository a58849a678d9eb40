package stream

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/go-i2p/logger"
)

// Open runs the initiator handshake towards peer over ch and returns the
// established session. ch is closed on failure.
func Open(ctx context.Context, cfg Config, local identity.Provider, peer identity.Public, ch Channel) (*Session, error) {
	cfg = cfg.withDefaults()
	hs := noise.NewInitiator(cfg.noise(), local, peer)
	res, err := handshake(ctx, cfg, ch, hs, runInitiator)
	if err != nil {
		return nil, err
	}
	return newSession(cfg, ch, res), nil
}

// Accept runs the responder handshake on an inbound channel.
func Accept(ctx context.Context, cfg Config, local identity.Provider, ch Channel) (*Session, error) {
	cfg = cfg.withDefaults()
	hs := noise.NewResponder(cfg.noise(), local)
	res, err := handshake(ctx, cfg, ch, hs, runResponder)
	if err != nil {
		return nil, err
	}
	return newSession(cfg, ch, res), nil
}

func handshake(ctx context.Context, cfg Config, ch Channel, hs *noise.Handshake, run func(*noise.Handshake, Channel) error) (*noise.Result, error) {
	defer hs.Close()

	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(hctx, func() { ch.Close() })

	err := run(hs, ch)
	stopped := stop()
	if err == nil && stopped {
		res, ferr := hs.Finish()
		if ferr == nil {
			return res, nil
		}
		err = ferr
	}

	if !stopped {
		err = contextError(ctx, hctx)
		hs.Abort(err)
		ch.Close()
	} else {
		if kind := failure.KindOf(err); kind == failure.ProtocolViolation || kind == failure.AuthenticationFailure {
			drain(ctx, cfg, ch)
		}
		ch.Close()
	}
	log.WithFields(logger.Fields{
		"at":     "stream.handshake",
		"role":   hs.Role().String(),
		"state":  hs.State().String(),
		"reason": err.Error(),
	}).Debug("stream handshake failed")
	return nil, err
}

// contextError reports the handshake deadline as a handshake timeout and a
// caller cancellation as Cancelled.
func contextError(parent, hctx context.Context) error {
	if err := parent.Err(); err != nil {
		return failure.FromContext(err, "stream: handshake")
	}
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return failure.Wrap(noise.ErrHandshakeTimeout, hctx.Err())
	}
	return failure.FromContext(hctx.Err(), "stream: handshake")
}

func channelReader(ch Channel) noise.Reader {
	return func(n int) ([]byte, error) {
		return ch.ReadExact(n)
	}
}

func runInitiator(hs *noise.Handshake, ch Channel) error {
	m1, err := hs.WriteMessage1()
	if err != nil {
		return err
	}
	if err := ch.WriteAll(m1); err != nil {
		return writeError(err)
	}
	if err := hs.ReadMessage2(channelReader(ch)); err != nil {
		return err
	}
	m3, err := hs.WriteMessage3()
	if err != nil {
		return err
	}
	if err := ch.WriteAll(m3); err != nil {
		return writeError(err)
	}
	return nil
}

func runResponder(hs *noise.Handshake, ch Channel) error {
	if err := hs.ReadMessage1(channelReader(ch)); err != nil {
		return err
	}
	m2, err := hs.WriteMessage2()
	if err != nil {
		return err
	}
	if err := ch.WriteAll(m2); err != nil {
		return writeError(err)
	}
	return hs.ReadMessage3(channelReader(ch))
}

func writeError(err error) error {
	return failure.New(failure.TransportClosed, "stream: write", err)
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// drain waits a random delay and reads a random amount of junk before a
// failed channel is closed. Cancelling ctx cuts both phases short.
func drain(ctx context.Context, cfg Config, ch Channel) {
	delay := time.Duration(randomInt(int(cfg.DrainMaxDelay/time.Millisecond)+1)) * time.Millisecond
	junk := randomInt(cfg.DrainMaxBytes + 1)
	log.WithFields(logger.Fields{
		"at":         "stream.drain",
		"delay_ms":   delay.Milliseconds(),
		"junk_bytes": junk,
	}).Debug("applying probing resistance")

	t := time.NewTimer(delay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return
	}
	if junk == 0 {
		return
	}
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()
	limit := delay + 500*time.Millisecond
	if d, ok := ch.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(limit))
	} else {
		t := time.AfterFunc(limit, func() { ch.Close() })
		defer t.Stop()
	}
	_, _ = ch.ReadExact(junk)
}

// randomInt returns a random integer in [0, max), or 0 when max <= 0.
func randomInt(max int) int {
	if max <= 0 {
		return 0
	}
	n, err := rand.CryptoInt(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
