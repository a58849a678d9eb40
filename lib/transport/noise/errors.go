package noise

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrUnexpectedMessage is returned for a call that does not fit the
	// current state.
	ErrUnexpectedMessage = failure.Sentinel(failure.ProtocolViolation, "noise: unexpected message")
	// ErrMalformed is returned for a message with the wrong size or layout.
	ErrMalformed = failure.Sentinel(failure.ProtocolViolation, "noise: malformed message")
	// ErrVersion is returned when the peer speaks another protocol version.
	ErrVersion = failure.Sentinel(failure.ProtocolViolation, "noise: unsupported version")
	// ErrNetwork is returned when the peer belongs to another network.
	ErrNetwork = failure.Sentinel(failure.ProtocolViolation, "noise: network mismatch")
	// ErrClockSkew is returned when the peer's timestamp is outside tolerance.
	ErrClockSkew = failure.Sentinel(failure.ProtocolViolation, "noise: clock skew")
	// ErrReplay is returned when a message 1 ephemeral was seen before.
	ErrReplay = failure.Sentinel(failure.ProtocolViolation, "noise: replayed ephemeral")
	// ErrAuthentication is returned on an AEAD tag mismatch.
	ErrAuthentication = failure.Sentinel(failure.AuthenticationFailure, "noise: authentication failed")
	// ErrIdentity is returned when the initiator's identity does not match
	// its static key or signature.
	ErrIdentity = failure.Sentinel(failure.AuthenticationFailure, "noise: identity mismatch")
	// ErrHandshakeTimeout is returned when a handshake does not complete in time.
	ErrHandshakeTimeout = failure.Sentinel(failure.Timeout, "noise: handshake timeout")
	// ErrFailed is returned by every call on a handshake that already failed.
	ErrFailed = failure.Sentinel(failure.ProtocolViolation, "noise: handshake already failed")
)
