package i2np

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrShortMessage is returned for input shorter than its header.
	ErrShortMessage = failure.Sentinel(failure.ProtocolViolation, "i2np: short message")
	// ErrUnknownType is returned for a message type the core does not carry.
	ErrUnknownType = failure.Sentinel(failure.ProtocolViolation, "i2np: unknown message type")
	// ErrExpired is returned by Check for a message past its expiration.
	ErrExpired = failure.Sentinel(failure.ProtocolViolation, "i2np: expired")
)
