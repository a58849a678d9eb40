package transport

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrSessionLimit is returned when the table is full.
	ErrSessionLimit = failure.Sentinel(failure.CapacityRejected, "transport: session limit")
	// ErrNoSession is returned for a peer without a live session.
	ErrNoSession = failure.Sentinel(failure.TransportClosed, "transport: no session")
	// ErrSuperseded is the close cause of a session replaced by a newer one.
	ErrSuperseded = failure.Sentinel(failure.TransportClosed, "transport: superseded")
	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = failure.Sentinel(failure.TransportClosed, "transport: registry closed")
)
