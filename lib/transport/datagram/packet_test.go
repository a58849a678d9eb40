package datagram

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMaskIsInvolution(t *testing.T) {
	k1 := crypto.Hash([]byte("k1"))
	k2 := crypto.Hash([]byte("k2"))
	h := header{DestID: ConnID{1, 2, 3, 4, 5, 6, 7, 8}, Number: 42, Type: typeData}
	pkt := append(h.encode(), bytes.Repeat([]byte{0xAA}, 40)...)
	orig := append([]byte(nil), pkt...)

	require.NoError(t, maskHeader(pkt, ShortHeaderSize, k1, k2))
	assert.NotEqual(t, orig[:ShortHeaderSize], pkt[:ShortHeaderSize])
	assert.Equal(t, orig[ShortHeaderSize:], pkt[ShortHeaderSize:])

	id, ok := peekDestID(pkt, k1)
	require.True(t, ok)
	assert.Equal(t, h.DestID, id)

	got, clear, ok := openHeader(pkt, k1, k2, false)
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, orig, clear)

	require.NoError(t, maskHeader(pkt, ShortHeaderSize, k1, k2))
	assert.Equal(t, orig, pkt)
}

func TestHandshakeHeaderRoundTrip(t *testing.T) {
	intro := IntroKey([32]byte{9})
	h := handshakeHeader(typeSessionRequest, ConnID{1}, ConnID{2}, 2)
	pkt, err := sealHandshake(h, bytes.Repeat([]byte{1}, 64), intro)
	require.NoError(t, err)

	got, _, ok := openHeader(pkt, intro, intro, true)
	require.True(t, ok)
	assert.Equal(t, h, got)

	other := IntroKey([32]byte{8})
	if wrong, _, ok := openHeader(pkt, other, other, true); ok {
		assert.NotEqual(t, h, wrong)
	}
}

func TestShortPacketRejected(t *testing.T) {
	assert.Error(t, maskHeader(make([]byte, 20), ShortHeaderSize, [32]byte{}, [32]byte{}))
	_, ok := peekDestID(make([]byte, 10), [32]byte{})
	assert.False(t, ok)
}

func TestFragmentSplitAndReassemble(t *testing.T) {
	sealed := bytes.Repeat([]byte("0123456789"), 25)
	frags := split(7, sealed, 64)
	require.Len(t, frags, 4)

	r := newReassembler(time.Second, 8)
	now := time.Now()
	order := []int{3, 1, 0}
	for _, i := range order {
		f, err := parseFragment(frags[i].block().Data)
		require.NoError(t, err)
		_, done, err := r.add(f, now)
		require.NoError(t, err)
		assert.False(t, done)
	}
	// duplicate
	_, done, err := r.add(frags[1], now)
	require.NoError(t, err)
	assert.False(t, done)

	msg, done, err := r.add(frags[2], now)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, sealed, msg)
	assert.Equal(t, 0, r.pending())

	// late duplicate after completion
	_, done, err = r.add(frags[0], now)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 0, r.pending())
}

func TestReassemblerExpiresPartials(t *testing.T) {
	r := newReassembler(time.Second, 8)
	start := time.Now()
	frags := split(1, make([]byte, 100), 40)
	_, _, err := r.add(frags[0], start)
	require.NoError(t, err)
	assert.Equal(t, 0, r.expire(start.Add(500*time.Millisecond)))
	assert.Equal(t, 1, r.expire(start.Add(2*time.Second)))
	assert.Equal(t, 0, r.pending())
}

func TestFragmentValidation(t *testing.T) {
	r := newReassembler(time.Second, 2)
	_, _, err := r.add(fragment{MessageID: 1, Number: 0, Count: 3}, time.Now())
	assert.ErrorIs(t, err, ErrFragment)

	_, err = parseFragment([]byte{0, 0, 0, 1, 2, 2})
	assert.ErrorIs(t, err, ErrFragment)

	r = newReassembler(time.Second, 8)
	_, _, err = r.add(fragment{MessageID: 1, Number: 0, Count: 2, Data: []byte{1}}, time.Now())
	require.NoError(t, err)
	_, _, err = r.add(fragment{MessageID: 1, Number: 1, Count: 3, Data: []byte{1}}, time.Now())
	assert.ErrorIs(t, err, ErrFragment)
}

func TestAckRanges(t *testing.T) {
	var r receivedSet
	for _, pn := range []uint32{0, 1, 3, 5, 4} {
		r.record(pn, true)
	}
	require.True(t, r.pending)
	a := r.ack()
	assert.False(t, r.pending)
	assert.Equal(t, uint32(5), a.Highest)

	var acked []uint32
	a.each(func(pn uint32) { acked = append(acked, pn) })
	assert.ElementsMatch(t, []uint32{5, 4, 3, 1, 0}, acked)

	parsed, err := parseAck(a.block().Data)
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	s := newSentSet()
	now := time.Now()
	for pn := uint32(0); pn < 6; pn++ {
		s.add(pn, now)
	}
	assert.Equal(t, 5, s.acked(a))
	assert.Equal(t, 0, s.acked(a))
	assert.Equal(t, 0, s.lost(now.Add(time.Second)))
	assert.Equal(t, 1, s.lost(now.Add(lossAfter+time.Second)))
}

func TestAckNonElicitingDoesNotRequestAck(t *testing.T) {
	var r receivedSet
	r.record(10, false)
	assert.False(t, r.pending)
	r.record(200, true)
	a := r.ack()
	assert.Equal(t, uint32(200), a.Highest)
	assert.Zero(t, a.Bitmap)
}
