package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/transport/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	c := DefaultConfig()
	c.IdleTimeout = 0
	c.HandshakeTimeout = 5 * time.Second
	c.DrainMaxDelay = 10 * time.Millisecond
	c.DrainMaxBytes = 0
	return c
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

// tamperChannel flips one bit of the nth write.
type tamperChannel struct {
	*ConnChannel
	mu     sync.Mutex
	writes int
	nth    int
}

func (c *tamperChannel) WriteAll(b []byte) error {
	c.mu.Lock()
	c.writes++
	if c.writes == c.nth {
		b = append([]byte(nil), b...)
		b[len(b)-1] ^= 0x01
	}
	c.mu.Unlock()
	return c.ConnChannel.WriteAll(b)
}

type pair struct {
	ini, resp *Session
}

func connect(t *testing.T, icfg, rcfg Config, ich, rch Channel) pair {
	t.Helper()
	alice, bob := newIdentity(t), newIdentity(t)

	var (
		ini  *Session
		ierr error
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ini, ierr = Open(context.Background(), icfg, alice, bob.Public(), ich)
	}()
	resp, rerr := Accept(context.Background(), rcfg, bob, rch)
	wg.Wait()
	require.NoError(t, ierr)
	require.NoError(t, rerr)

	assert.Equal(t, bob.Public(), ini.Remote())
	assert.Equal(t, alice.Public(), resp.Remote())
	assert.Equal(t, ini.Hash(), resp.Hash())
	assert.Equal(t, noise.Initiator, ini.Role())
	return pair{ini: ini, resp: resp}
}

func pipePair(t *testing.T, icfg, rcfg Config) pair {
	a, b := net.Pipe()
	return connect(t, icfg, rcfg, NewConnChannel(a), NewConnChannel(b))
}

func TestSessionExchangesMessagesInOrder(t *testing.T) {
	p := pipePair(t, testConfig(), testConfig())
	defer p.ini.Close()
	defer p.resp.Close()
	ctx := context.Background()

	go func() {
		for i := 0; i < 50; i++ {
			_ = p.ini.Send(ctx, []byte(fmt.Sprintf("msg-%d", i)))
		}
	}()
	for i := 0; i < 50; i++ {
		got, err := p.resp.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), string(got))
	}

	go func() { _ = p.resp.Send(ctx, []byte("reply")) }()
	got, err := p.ini.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(got))
}

func TestRekeyKeepsCountersMonotonic(t *testing.T) {
	cfg := testConfig()
	cfg.RekeyInterval = 4
	p := pipePair(t, cfg, cfg)
	defer p.ini.Close()
	defer p.resp.Close()
	ctx := context.Background()

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_ = p.ini.Send(ctx, []byte{byte(i)})
		}
	}()
	for i := 0; i < n; i++ {
		got, err := p.resp.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}

	// the sender counts a frame only after the write returns
	require.Eventually(t, func() bool {
		return p.ini.Stats().FramesSent == uint64(n+1) && p.resp.Stats().FramesReceived == uint64(n+1)
	}, time.Second, 5*time.Millisecond)
	sent, recv := p.ini.Stats(), p.resp.Stats()
	assert.Equal(t, uint64((n+1)/4), sent.SendRekeys)
	assert.Equal(t, sent.FramesSent, recv.FramesReceived)
	assert.Equal(t, sent.SendRekeys, recv.RecvRekeys)
}

func TestTamperedFrameClosesWithAuthenticationFailure(t *testing.T) {
	a, b := net.Pipe()
	// writes: message 1, message 3, announce frame, first message
	ich := &tamperChannel{ConnChannel: NewConnChannel(a), nth: 4}
	p := connect(t, testConfig(), testConfig(), ich, NewConnChannel(b))
	defer p.ini.Close()

	go func() { _ = p.ini.Send(context.Background(), []byte("payload")) }()
	_, err := p.resp.Receive(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.AuthenticationFailure))
	assert.ErrorIs(t, err, ErrFrameAuth)

	select {
	case <-p.resp.Done():
	case <-time.After(time.Second):
		t.Fatal("session not closed")
	}
	assert.Error(t, p.resp.Send(context.Background(), []byte("x")))
}

func TestCloseSendsTermination(t *testing.T) {
	p := pipePair(t, testConfig(), testConfig())
	defer p.resp.Close()
	go p.ini.Close()

	_, err := p.resp.Receive(context.Background())
	assert.ErrorIs(t, err, ErrTerminated)
	assert.True(t, errors.Is(err, failure.TransportClosed))
}

func TestMessageTooLargeKeepsSession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 16
	p := pipePair(t, cfg, testConfig())
	defer p.ini.Close()
	defer p.resp.Close()

	err := p.ini.Send(context.Background(), make([]byte, 17))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Nil(t, p.ini.Err())
}

func TestIdleTimeout(t *testing.T) {
	rcfg := testConfig()
	rcfg.IdleTimeout = 100 * time.Millisecond
	p := pipePair(t, testConfig(), rcfg)
	defer p.ini.Close()

	_, err := p.resp.Receive(context.Background())
	assert.ErrorIs(t, err, ErrIdle)
	assert.True(t, errors.Is(err, failure.Timeout))

	_, err = p.ini.Receive(context.Background())
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestHandshakeTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	alice, bob := newIdentity(t), newIdentity(t)

	_, err := Open(context.Background(), cfg, alice, bob.Public(), NewConnChannel(a))
	assert.ErrorIs(t, err, noise.ErrHandshakeTimeout)
	assert.True(t, errors.Is(err, failure.Timeout))
}

func TestCancelledHandshake(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	alice, bob := newIdentity(t), newIdentity(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Open(ctx, testConfig(), alice, bob.Public(), NewConnChannel(a))
	assert.True(t, errors.Is(err, failure.Cancelled))
}

func TestWrongResponderKeyRejected(t *testing.T) {
	a, b := net.Pipe()
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)

	go func() {
		_, _ = Open(context.Background(), testConfig(), alice, carol.Public(), NewConnChannel(a))
	}()
	_, err := Accept(context.Background(), testConfig(), bob, NewConnChannel(b))
	assert.ErrorIs(t, err, noise.ErrAuthentication)
}

func TestDrainStopsOnCancel(t *testing.T) {
	a, b := net.Pipe()
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)
	cfg := testConfig()
	cfg.DrainMaxDelay = 10 * time.Second
	cfg.DrainMaxBytes = 4096

	go func() {
		_, _ = Open(context.Background(), testConfig(), alice, carol.Public(), NewConnChannel(a))
	}()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := Accept(ctx, cfg, bob, NewConnChannel(b))
	assert.ErrorIs(t, err, noise.ErrAuthentication)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceiveHonoursContext(t *testing.T) {
	p := pipePair(t, testConfig(), testConfig())
	defer p.ini.Close()
	defer p.resp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.resp.Receive(ctx)
	assert.True(t, errors.Is(err, failure.Timeout))
	assert.Nil(t, p.resp.Err())
}
