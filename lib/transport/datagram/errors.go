package datagram

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrClosed is returned by calls on a closed session or endpoint.
	ErrClosed = failure.Sentinel(failure.TransportClosed, "datagram: closed")
	// ErrTerminated is returned after the peer sent a termination block.
	ErrTerminated = failure.Sentinel(failure.TransportClosed, "datagram: terminated by peer")
	// ErrMessageAuth is returned when a reassembled message fails authentication.
	ErrMessageAuth = failure.Sentinel(failure.AuthenticationFailure, "datagram: message authentication")
	// ErrMessageTooLarge is returned by Send when a message needs too many
	// fragments. The session stays open.
	ErrMessageTooLarge = failure.Sentinel(failure.ProtocolViolation, "datagram: message too large")
	// ErrFragment is returned for an inconsistent fragment.
	ErrFragment = failure.Sentinel(failure.ProtocolViolation, "datagram: bad fragment")
	// ErrPacket is returned for a packet that cannot be framed.
	ErrPacket = failure.Sentinel(failure.ProtocolViolation, "datagram: bad packet")
	// ErrNonceExhausted is returned when a direction runs out of packet numbers.
	ErrNonceExhausted = failure.Sentinel(failure.ProtocolViolation, "datagram: packet numbers exhausted")
	// ErrIdle is returned when nothing was received for the idle timeout.
	ErrIdle = failure.Sentinel(failure.Timeout, "datagram: idle timeout")
	// ErrPeerTestTimeout is returned when a peer test gets no answer.
	ErrPeerTestTimeout = failure.Sentinel(failure.Timeout, "datagram: peer test timeout")
	// ErrSessionLimit is returned when the endpoint is full.
	ErrSessionLimit = failure.Sentinel(failure.CapacityRejected, "datagram: session limit")
)
