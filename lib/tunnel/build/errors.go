package build

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrNotForMe is returned by DecodeOwnRecord when no slot names the
	// local router.
	ErrNotForMe = failure.Sentinel(failure.ProtocolViolation, "build: no record for this router")
	// ErrHopCount is returned for a request with no hops or too many.
	ErrHopCount = failure.Sentinel(failure.ProtocolViolation, "build: hop count")
	// ErrRecordAuth is returned when a record addressed to us does not open.
	ErrRecordAuth = failure.Sentinel(failure.AuthenticationFailure, "build: record authentication")
	// ErrReplyAuth is returned when a reply record does not open.
	ErrReplyAuth = failure.Sentinel(failure.AuthenticationFailure, "build: reply authentication")
	// ErrSlot is returned for a slot index outside the envelope.
	ErrSlot = failure.Sentinel(failure.ProtocolViolation, "build: bad slot")
	// ErrSize is returned for an envelope of the wrong length.
	ErrSize = failure.Sentinel(failure.ProtocolViolation, "build: bad envelope size")
)
