package stream

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrClosed is returned by calls on a closed session.
	ErrClosed = failure.Sentinel(failure.TransportClosed, "stream: session closed")
	// ErrTerminated is returned after the peer sent a termination block.
	ErrTerminated = failure.Sentinel(failure.TransportClosed, "stream: terminated by peer")
	// ErrFrameAuth is returned when a data frame fails authentication.
	ErrFrameAuth = failure.Sentinel(failure.AuthenticationFailure, "stream: frame authentication")
	// ErrFrameLength is returned for a frame length outside the valid range.
	ErrFrameLength = failure.Sentinel(failure.ProtocolViolation, "stream: frame length")
	// ErrMessageTooLarge is returned by Send for an oversized payload. The
	// session stays open.
	ErrMessageTooLarge = failure.Sentinel(failure.ProtocolViolation, "stream: message too large")
	// ErrNonceExhausted is returned when a direction runs out of nonces.
	ErrNonceExhausted = failure.Sentinel(failure.ProtocolViolation, "stream: nonce exhausted")
	// ErrIdle is returned when nothing was received for the idle timeout.
	ErrIdle = failure.Sentinel(failure.Timeout, "stream: idle timeout")
	// ErrPayload is returned for an undecodable frame payload.
	ErrPayload = failure.Sentinel(failure.ProtocolViolation, "stream: payload format")
)
