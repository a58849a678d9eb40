package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParse(t *testing.T) {
	now := time.Unix(1700000000, 0)
	in := []Block{NewDateTime(now), NewMessage([]byte("hello")), NewPadding(7)}
	payload := Serialize(in...)
	assert.Len(t, payload, 3*HeaderSize+4+5+7)

	out, err := Parse(payload)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, TypeDateTime, out[0].Type)
	assert.Equal(t, []byte("hello"), out[1].Data)
	assert.Equal(t, TypePadding, out[2].Type)

	ts, err := ParseDateTime(out[0].Data)
	require.NoError(t, err)
	assert.True(t, now.Equal(ts))
}

func TestParseTruncated(t *testing.T) {
	payload := Serialize(NewMessage([]byte("abcdef")))
	_, err := Parse(payload[:len(payload)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Parse([]byte{3, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseKeepsUnknownTypes(t *testing.T) {
	out, err := Parse(Serialize(Block{Type: 200, Data: []byte{1}}))
	require.NoError(t, err)
	assert.Equal(t, Type(200), out[0].Type)
	assert.Equal(t, "Unknown", out[0].Type.String())
}

func TestFixed44(t *testing.T) {
	for _, v := range []float64{0, 0.25, 1.5, 15.9375} {
		assert.InDelta(t, v, decodeFixed44(encodeFixed44(v)), 0.0001)
	}
	assert.Equal(t, byte(0xFF), encodeFixed44(100))
	assert.Equal(t, byte(0), encodeFixed44(-1))
}

func TestOptionsAndNegotiation(t *testing.T) {
	o := Options{PaddingMin: 0.125, PaddingMax: 0.5, DummyMax: 10}
	got, err := ParseOptions(o.Block().Data)
	require.NoError(t, err)
	assert.Equal(t, o, got)

	_, err = ParseOptions([]byte{0, 1})
	assert.ErrorIs(t, err, ErrBadSize)

	n := Negotiate(Options{PaddingMax: 0.5}, Options{PaddingMin: 0.25, PaddingMax: 0.375})
	assert.Equal(t, 0.25, n.PaddingMin)
	assert.Equal(t, 0.375, n.PaddingMax)

	for i := 0; i < 50; i++ {
		p := n.PaddingFor(100, 1000)
		assert.GreaterOrEqual(t, p, 25)
		assert.LessOrEqual(t, p, 37)
	}
	assert.Equal(t, 10, n.PaddingFor(100, 10))
	assert.Zero(t, Options{}.PaddingFor(100, 1000))
}

func TestTermination(t *testing.T) {
	now := time.Unix(1700000000, 0)
	term := Termination{FramesReceived: 42, NetworkID: 2, Time: now, Reason: ReasonIdleTimeout}
	b := term.Block()
	assert.Equal(t, TypeTermination, b.Type)
	got, err := ParseTermination(b.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.FramesReceived)
	assert.Equal(t, ReasonIdleTimeout, got.Reason)
	assert.True(t, now.Equal(got.Time))
	assert.Equal(t, "idle timeout", got.Reason.String())
	assert.Equal(t, "reason(99)", Reason(99).String())
}

func TestToken(t *testing.T) {
	tok := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := NewToken(TypePathChallenge, tok)
	got, err := ParseToken(b.Data)
	require.NoError(t, err)
	assert.Equal(t, tok, got)
	_, err = ParseToken([]byte{1})
	assert.ErrorIs(t, err, ErrBadSize)
}
