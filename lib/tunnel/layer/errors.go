package layer

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrPayloadTooLarge is returned by Seal for more than MaxPayload bytes.
	ErrPayloadTooLarge = failure.Sentinel(failure.ProtocolViolation, "layer: payload too large")
	// ErrAuthentication is returned when the end-to-end wrapper does not open.
	ErrAuthentication = failure.Sentinel(failure.AuthenticationFailure, "layer: end-to-end authentication")
	// ErrReplay is returned for a sequence number seen before or too old.
	ErrReplay = failure.Sentinel(failure.ProtocolViolation, "layer: replayed sequence")
	// ErrDelivery is returned for malformed delivery instructions.
	ErrDelivery = failure.Sentinel(failure.ProtocolViolation, "layer: bad delivery instructions")
	// ErrExhausted is returned when a tunnel has used every sequence number.
	ErrExhausted = failure.Sentinel(failure.ProtocolViolation, "layer: sequence exhausted")
)
