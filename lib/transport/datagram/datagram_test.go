package datagram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
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
	c.HandshakeTimeout = 5 * time.Second
	c.RetransmitInitial = 50 * time.Millisecond
	c.MaxAttempts = 8
	c.IdleTimeout = 0
	c.AckDelay = 10 * time.Millisecond
	c.ProbeTimeout = 200 * time.Millisecond
	c.ProbeSizes = nil
	return c
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

type link struct {
	net        *memNetwork
	alice, bob *Endpoint
	aliceCh    *memChannel
	bobCh      *memChannel
	ini, resp  *Session
}

func setup(t *testing.T, n *memNetwork, acfg, bcfg Config) *link {
	t.Helper()
	aliceID, bobID := newIdentity(t), newIdentity(t)
	l := &link{net: n, aliceCh: n.listen("10.0.0.1:9000"), bobCh: n.listen("10.0.0.2:9000")}
	l.alice = NewEndpoint(acfg, aliceID, l.aliceCh)
	l.bob = NewEndpoint(bcfg, bobID, l.bobCh)
	t.Cleanup(func() {
		l.alice.Close()
		l.bob.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	accepted := make(chan *Session, 1)
	go func() {
		s, err := l.bob.Accept(ctx)
		if err == nil {
			accepted <- s
		}
		close(accepted)
	}()
	ini, err := l.alice.Dial(ctx, bobID.Public(), l.bobCh.Addr())
	require.NoError(t, err)
	resp, ok := <-accepted
	require.True(t, ok, "responder never accepted")
	l.ini, l.resp = ini, resp

	require.Equal(t, bobID.Hash(), ini.Remote().Hash())
	require.Equal(t, aliceID.Hash(), resp.Remote().Hash())
	require.Equal(t, ini.Hash(), resp.Hash())
	return l
}

// drain receives until nothing arrives for quiet.
func drain(s *Session, quiet time.Duration) [][]byte {
	var out [][]byte
	for {
		ctx, cancel := context.WithTimeout(context.Background(), quiet)
		msg, err := s.Receive(ctx)
		cancel()
		if err != nil {
			return out
		}
		out = append(out, msg)
	}
}

func TestHandshakeAndMessagesOverLossyNetwork(t *testing.T) {
	n := newMemNetwork(1, 0.10)
	l := setup(t, n, testConfig(), testConfig())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.ini.Send(ctx, []byte(fmt.Sprintf("message %03d", i))))
	}
	got := drain(l.resp, 500*time.Millisecond)

	seen := make(map[string]bool)
	for _, msg := range got {
		require.False(t, seen[string(msg)], "duplicate %q", msg)
		seen[string(msg)] = true
	}
	assert.Greater(t, len(got), 70)
	assert.LessOrEqual(t, len(got), 100)
	assert.Equal(t, uint64(100), l.ini.Stats().MessagesSent)
	assert.Equal(t, uint64(len(got)), l.resp.Stats().MessagesReceived)
}

func TestHandshakeRetransmitsLostRequest(t *testing.T) {
	n := newMemNetwork(2, 0)
	sent := 0
	n.filter = func(from, to netip.AddrPort, pkt []byte) []byte {
		sent++
		if sent == 1 {
			return nil
		}
		return pkt
	}
	l := setup(t, n, testConfig(), testConfig())
	assert.GreaterOrEqual(t, l.ini.Stats().HandshakeRetransmits, uint64(1))
}

func TestLostConfirmationIsRecovered(t *testing.T) {
	n := newMemNetwork(3, 0)
	bob := netip.MustParseAddrPort("10.0.0.2:9000")
	fromBob := 0
	// Drop two of the responder's early handshake packets.
	n.filter = func(from, to netip.AddrPort, pkt []byte) []byte {
		if from != bob {
			return pkt
		}
		fromBob++
		if fromBob == 1 || fromBob == 3 {
			return nil
		}
		return pkt
	}
	l := setup(t, n, testConfig(), testConfig())
	require.NoError(t, l.ini.Send(context.Background(), []byte("after recovery")))
	got := drain(l.resp, 300*time.Millisecond)
	require.Len(t, got, 1)
}

func TestFragmentedMessage(t *testing.T) {
	n := newMemNetwork(4, 0)
	l := setup(t, n, testConfig(), testConfig())

	payload := bytes.Repeat([]byte("fragmented payload "), 300)
	require.NoError(t, l.ini.Send(context.Background(), payload))
	got := drain(l.resp, 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestMessageTooLargeKeepsSession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFragments = 2
	n := newMemNetwork(5, 0)
	l := setup(t, n, cfg, cfg)

	err := l.ini.Send(context.Background(), make([]byte, 5000))
	require.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, failure.ProtocolViolation, failure.KindOf(err))

	require.NoError(t, l.ini.Send(context.Background(), []byte("small")))
	got := drain(l.resp, 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Nil(t, l.ini.Err())
}

func TestBidirectionalExchange(t *testing.T) {
	n := newMemNetwork(6, 0)
	l := setup(t, n, testConfig(), testConfig())
	ctx := context.Background()

	require.NoError(t, l.resp.Send(ctx, []byte("from responder")))
	require.NoError(t, l.ini.Send(ctx, []byte("from initiator")))
	assert.Equal(t, [][]byte{[]byte("from responder")}, drain(l.ini, 300*time.Millisecond))
	assert.Equal(t, [][]byte{[]byte("from initiator")}, drain(l.resp, 300*time.Millisecond))

	require.Eventually(t, func() bool {
		return l.ini.Stats().PacketsAcked > 0 && l.resp.Stats().PacketsAcked > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayedPacketRejected(t *testing.T) {
	n := newMemNetwork(7, 0)
	l := setup(t, n, testConfig(), testConfig())

	var captured []byte
	n.mu.Lock()
	n.filter = func(from, to netip.AddrPort, pkt []byte) []byte {
		if captured == nil && to == l.bobCh.addr {
			captured = append([]byte(nil), pkt...)
		}
		return pkt
	}
	n.mu.Unlock()

	require.NoError(t, l.ini.Send(context.Background(), []byte("once")))
	require.Len(t, drain(l.resp, 200*time.Millisecond), 1)

	n.mu.Lock()
	replayed := captured
	n.mu.Unlock()
	require.NotNil(t, replayed)
	n.inject(l.aliceCh.Addr(), l.bobCh.Addr(), replayed)

	require.Eventually(t, func() bool {
		return l.resp.Stats().PacketsReplayed == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, drain(l.resp, 100*time.Millisecond))
}

func TestTamperedPacketDropped(t *testing.T) {
	n := newMemNetwork(8, 0)
	l := setup(t, n, testConfig(), testConfig())

	n.mu.Lock()
	n.filter = func(from, to netip.AddrPort, pkt []byte) []byte {
		pkt[len(pkt)/2] ^= 0x40
		return pkt
	}
	n.mu.Unlock()
	before := l.resp.Stats().PacketsReceived
	require.NoError(t, l.ini.Send(context.Background(), []byte("tampered")))
	assert.Empty(t, drain(l.resp, 200*time.Millisecond))
	assert.Equal(t, before, l.resp.Stats().PacketsReceived)

	n.mu.Lock()
	n.filter = nil
	n.mu.Unlock()
	require.NoError(t, l.ini.Send(context.Background(), []byte("intact")))
	assert.Len(t, drain(l.resp, 300*time.Millisecond), 1)
	assert.Nil(t, l.resp.Err())
}

func TestPathValidationRotatesAddress(t *testing.T) {
	n := newMemNetwork(9, 0)
	l := setup(t, n, testConfig(), testConfig())
	require.Equal(t, l.aliceCh.Addr(), l.resp.RemoteAddr())

	n.move(l.aliceCh, "10.0.0.99:4000")
	require.NoError(t, l.ini.Send(context.Background(), []byte("from a new port")))
	assert.Len(t, drain(l.resp, 300*time.Millisecond), 1)

	require.Eventually(t, func() bool {
		return l.resp.RemoteAddr() == netip.MustParseAddrPort("10.0.0.99:4000")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.resp.Send(context.Background(), []byte("to the new port")))
	assert.Len(t, drain(l.ini, 300*time.Millisecond), 1)
}

func TestUnvalidatedAddressNotAdopted(t *testing.T) {
	n := newMemNetwork(10, 0)
	l := setup(t, n, testConfig(), testConfig())

	var captured []byte
	n.mu.Lock()
	n.filter = func(from, to netip.AddrPort, pkt []byte) []byte {
		if to == l.bobCh.addr {
			captured = append([]byte(nil), pkt...)
			return nil
		}
		return pkt
	}
	n.mu.Unlock()
	require.NoError(t, l.ini.Send(context.Background(), []byte("spoofed source")))
	n.mu.Lock()
	pkt := captured
	n.filter = nil
	n.mu.Unlock()
	require.NotNil(t, pkt)

	// Nobody answers the challenge at the spoofed address.
	n.inject(netip.MustParseAddrPort("192.0.2.1:1"), l.bobCh.Addr(), pkt)
	assert.Len(t, drain(l.resp, 300*time.Millisecond), 1)
	assert.Equal(t, l.aliceCh.Addr(), l.resp.RemoteAddr())
}

func TestPeerTestReportsObservedAddress(t *testing.T) {
	n := newMemNetwork(11, 0)
	l := setup(t, n, testConfig(), testConfig())

	addr, err := l.ini.TestAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, l.aliceCh.Addr(), addr)
}

func TestPathMTUDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.MinMTU = 1280
	cfg.MaxMTU = 1500
	cfg.ProbeSizes = []int{1350, 1400, 1450, 1500}
	n := newMemNetwork(12, 0)
	n.maxSize = 1400
	l := setup(t, n, cfg, cfg)

	require.Eventually(t, func() bool { return l.ini.MTU() == 1400 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(3 * cfg.ProbeTimeout)
	assert.Equal(t, 1400, l.ini.MTU())

	// A message sized for the larger MTU still gets through.
	payload := make([]byte, 1300)
	require.NoError(t, l.ini.Send(context.Background(), payload))
	assert.Len(t, drain(l.resp, 300*time.Millisecond), 1)
}

func TestCloseSendsTermination(t *testing.T) {
	n := newMemNetwork(13, 0)
	l := setup(t, n, testConfig(), testConfig())

	require.NoError(t, l.ini.Close())
	select {
	case <-l.resp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not see termination")
	}
	assert.ErrorIs(t, l.resp.Err(), ErrTerminated)
	assert.ErrorIs(t, l.ini.Send(context.Background(), []byte("late")), ErrClosed)
	assert.Equal(t, 0, l.alice.Sessions())
	require.Eventually(t, func() bool { return l.bob.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 300 * time.Millisecond
	n := newMemNetwork(14, 0)
	l := setup(t, n, cfg, cfg)

	select {
	case <-l.ini.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not time out")
	}
	err := l.ini.Err()
	assert.True(t, errors.Is(err, ErrIdle) || errors.Is(err, ErrTerminated), "got %v", err)
}

func TestDialSilentPeerTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	n := newMemNetwork(15, 0)
	ch := n.listen("10.0.0.1:9000")
	e := NewEndpoint(cfg, newIdentity(t), ch)
	defer e.Close()

	_, err := e.Dial(context.Background(), newIdentity(t).Public(), netip.MustParseAddrPort("10.0.0.7:9000"))
	require.ErrorIs(t, err, noise.ErrHandshakeTimeout)
	assert.Equal(t, failure.Timeout, failure.KindOf(err))
	assert.Equal(t, 0, e.Sessions())
}

func TestDialCancelled(t *testing.T) {
	n := newMemNetwork(16, 0)
	e := NewEndpoint(testConfig(), newIdentity(t), n.listen("10.0.0.1:9000"))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := e.Dial(ctx, newIdentity(t).Public(), netip.MustParseAddrPort("10.0.0.7:9000"))
	assert.Equal(t, failure.Cancelled, failure.KindOf(err))
}

func TestWrongNetworkIgnored(t *testing.T) {
	acfg, bcfg := testConfig(), testConfig()
	acfg.MaxAttempts = 3
	bcfg.NetworkID = acfg.NetworkID + 1
	n := newMemNetwork(17, 0)
	bobID := newIdentity(t)
	alice := NewEndpoint(acfg, newIdentity(t), n.listen("10.0.0.1:9000"))
	bobCh := n.listen("10.0.0.2:9000")
	bob := NewEndpoint(bcfg, bobID, bobCh)
	defer alice.Close()
	defer bob.Close()

	_, err := alice.Dial(context.Background(), bobID.Public(), bobCh.Addr())
	require.ErrorIs(t, err, noise.ErrHandshakeTimeout)
	assert.Equal(t, 0, bob.Sessions())
}

func TestWrongResponderKeyFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	n := newMemNetwork(18, 0)
	alice := NewEndpoint(cfg, newIdentity(t), n.listen("10.0.0.1:9000"))
	bobCh := n.listen("10.0.0.2:9000")
	bob := NewEndpoint(cfg, newIdentity(t), bobCh)
	defer alice.Close()
	defer bob.Close()

	// Bob cannot even find the request without his intro key.
	_, err := alice.Dial(context.Background(), newIdentity(t).Public(), bobCh.Addr())
	require.Error(t, err)
	assert.Equal(t, 0, bob.Sessions())
}

func TestSessionLimit(t *testing.T) {
	acfg, bcfg := testConfig(), testConfig()
	acfg.MaxAttempts = 2
	bcfg.MaxSessions = 1
	n := newMemNetwork(19, 0)
	l := setup(t, n, acfg, bcfg)
	require.Equal(t, 1, l.bob.Sessions())

	carol := NewEndpoint(acfg, newIdentity(t), n.listen("10.0.0.3:9000"))
	defer carol.Close()
	_, err := carol.Dial(context.Background(), l.bob.local.Public(), l.bobCh.Addr())
	require.Error(t, err)
	assert.Equal(t, 1, l.bob.Sessions())
}

func TestEndpointCloseEndsSessions(t *testing.T) {
	n := newMemNetwork(20, 0)
	l := setup(t, n, testConfig(), testConfig())

	require.NoError(t, l.alice.Close())
	<-l.ini.Done()
	assert.ErrorIs(t, l.ini.Err(), ErrClosed)
	select {
	case <-l.resp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not see termination")
	}
	_, err := l.alice.Accept(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
