package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatchesThroughWrapping(t *testing.T) {
	err := Newf(AuthenticationFailure, "stream", "frame %d failed to open", 7)
	wrapped := fmt.Errorf("session: %w", err)

	assert.True(t, errors.Is(wrapped, AuthenticationFailure))
	assert.False(t, errors.Is(wrapped, Timeout))
	assert.Equal(t, AuthenticationFailure, KindOf(wrapped))
}

func TestSentinelWrapKeepsIdentity(t *testing.T) {
	errHandshakeTimeout := Sentinel(Timeout, "handshake")
	other := Sentinel(Timeout, "build")

	err := Wrapf(errHandshakeTimeout, "gave up after %d attempts", 5)
	assert.True(t, errors.Is(err, errHandshakeTimeout))
	assert.True(t, errors.Is(err, Timeout))
	assert.False(t, errors.Is(err, other))
	assert.Contains(t, err.Error(), "handshake: timeout")
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(FromContext(ctx.Err(), "op"), Cancelled))

	dl, cancel2 := context.WithTimeout(context.Background(), 0)
	defer cancel2()
	<-dl.Done()
	assert.True(t, errors.Is(FromContext(dl.Err(), "op"), Timeout))
	assert.NoError(t, FromContext(nil, "op"))
}

func TestKindOfUnclassified(t *testing.T) {
	require.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "kind(99)", Kind(99).String())
}
