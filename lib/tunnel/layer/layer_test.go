package layer

import (
	"bytes"
	"testing"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKeys(t *testing.T, n int) Keys {
	t.Helper()
	keys := make(Keys, n)
	for i := range keys {
		_, err := rand.Read(keys[i].Layer[:])
		require.NoError(t, err)
		_, err = rand.Read(keys[i].IV[:])
		require.NoError(t, err)
	}
	return keys
}

func randomMessage(t *testing.T) *Message {
	t.Helper()
	var data [crypto.TunnelDataSize]byte
	_, err := rand.Read(data[:])
	require.NoError(t, err)
	msg, err := NewMessage(42, &data)
	require.NoError(t, err)
	return msg
}

func TestInboundRoundTripAllHopCounts(t *testing.T) {
	for n := 0; n <= 7; n++ {
		keys := randomKeys(t, n)
		msg := randomMessage(t)
		orig := *msg

		require.NoError(t, EncryptOutbound(keys, msg))
		if n > 0 {
			assert.NotEqual(t, orig, *msg)
		}
		require.NoError(t, DecryptInbound(keys, msg))
		assert.Equal(t, orig, *msg, "%d hops", n)
	}
}

func TestOutboundPreImageReachesEndpoint(t *testing.T) {
	for n := 1; n <= 7; n++ {
		keys := randomKeys(t, n)
		msg := randomMessage(t)
		want := *msg

		require.NoError(t, PrepareOutbound(keys, msg))
		for _, k := range keys {
			require.NoError(t, TransformAtHop(k, msg))
		}
		assert.Equal(t, want, *msg, "%d hops", n)
	}
}

func TestWrongRemovalOrderFails(t *testing.T) {
	keys := randomKeys(t, 3)
	msg := randomMessage(t)
	orig := *msg
	require.NoError(t, EncryptOutbound(keys, msg))

	swapped := Keys{keys[1], keys[0], keys[2]}
	require.NoError(t, DecryptInbound(swapped, msg))
	assert.NotEqual(t, orig, *msg)
}

func TestTamperedMessageNeverErrorsAtHop(t *testing.T) {
	keys := randomKeys(t, 3)
	msg := randomMessage(t)
	msg[500] ^= 0x01
	for _, k := range keys {
		assert.NoError(t, TransformAtHop(k, msg))
	}
}

func TestTunnelIDHelpers(t *testing.T) {
	msg := randomMessage(t)
	assert.Equal(t, uint32(42), TunnelID(msg))
	SetTunnelID(msg, 7)
	assert.Equal(t, uint32(7), TunnelID(msg))

	parsed, ok := ParseMessage(msg[:])
	require.True(t, ok)
	assert.Equal(t, *msg, *parsed)
	_, ok = ParseMessage(msg[:100])
	assert.False(t, ok)
}

func TestSealOpen(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, MaxPayload)
	data, err := Seal(key, 9, payload)
	require.NoError(t, err)
	seq, got, err := Open(key, data[:])
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)
	assert.Equal(t, payload, got)
	assert.Equal(t, 982, MaxPayload)

	_, err = Seal(key, 0, make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	data[20] ^= 0x01
	_, _, err = Open(key, data[:])
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, failure.AuthenticationFailure, failure.KindOf(err))
}

func TestSealAuthenticatesWholeBlock(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	sealed, err := Seal(key, 3, Local.Append([]byte("payload")))
	require.NoError(t, err)

	// header, length, payload, fill and tag
	for _, off := range []int{0, 7, 8, 9, 12, 80, 500, len(sealed) - 17, len(sealed) - 1} {
		data := *sealed
		data[off] ^= 0x01
		_, _, err := Open(key, data[:])
		assert.ErrorIs(t, err, ErrAuthentication, "flip at offset %d", off)
	}
}

func TestOpenerRejectsReplay(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	s, o := NewSealer(key), NewOpener(key)

	first, err := s.Seal([]byte("one"))
	require.NoError(t, err)
	second, err := s.Seal([]byte("two"))
	require.NoError(t, err)

	got, err := o.Open(second[:])
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
	got, err = o.Open(first[:])
	require.NoError(t, err, "reordering inside the window is fine")
	assert.Equal(t, []byte("one"), got)

	_, err = o.Open(first[:])
	assert.ErrorIs(t, err, ErrReplay)
}

func TestEndToEndThroughOutboundTunnel(t *testing.T) {
	keys := randomKeys(t, 3)
	var endpointKey [32]byte
	_, err := rand.Read(endpointKey[:])
	require.NoError(t, err)

	payload := ToRouter([32]byte{7}).Append([]byte("through the tunnel"))
	block, err := NewSealer(endpointKey).Seal(payload)
	require.NoError(t, err)
	msg, err := NewMessage(1, block)
	require.NoError(t, err)

	require.NoError(t, PrepareOutbound(keys, msg))
	for _, k := range keys {
		require.NoError(t, TransformAtHop(k, msg))
	}
	pt, err := NewOpener(endpointKey).Open(Data(msg))
	require.NoError(t, err)
	d, inner, err := ParseDelivery(pt)
	require.NoError(t, err)
	assert.Equal(t, DeliveryRouter, d.Type)
	assert.Equal(t, []byte("through the tunnel"), inner)
}

func TestDeliveryInstructions(t *testing.T) {
	for _, d := range []Delivery{Local, ToRouter([32]byte{1}), ToTunnel([32]byte{2}, 99)} {
		b := d.Append([]byte("msg"))
		assert.Len(t, b, d.Size()+3)
		got, msg, err := ParseDelivery(b)
		require.NoError(t, err)
		assert.Equal(t, d, got)
		assert.Equal(t, []byte("msg"), msg)
	}
	_, _, err := ParseDelivery(nil)
	assert.ErrorIs(t, err, ErrDelivery)
	_, _, err = ParseDelivery([]byte{3})
	assert.ErrorIs(t, err, ErrDelivery)
	_, _, err = ParseDelivery([]byte{2, 1, 2})
	assert.ErrorIs(t, err, ErrDelivery)
}
