package block

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrTruncated is returned when a block header or body runs past the payload.
	ErrTruncated = failure.Sentinel(failure.ProtocolViolation, "block: truncated")
	// ErrBadSize is returned when a fixed size block has the wrong length.
	ErrBadSize = failure.Sentinel(failure.ProtocolViolation, "block: bad size")
)
