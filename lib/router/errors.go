package router

import (
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrUnknownPeer is returned for a peer the database cannot resolve.
	ErrUnknownPeer = failure.Sentinel(failure.Exhausted, "router: unknown peer")
	// ErrNoAddress is returned when a peer publishes no address for the
	// requested transport.
	ErrNoAddress = failure.Sentinel(failure.Exhausted, "router: no address")
	// ErrUnknownKind is returned for a transport kind the router does not run.
	ErrUnknownKind = failure.Sentinel(failure.ProtocolViolation, "router: unknown transport")
	// ErrSelf is returned when asked to open a session to this router.
	ErrSelf = failure.Sentinel(failure.ProtocolViolation, "router: session to self")
	// ErrNotRunning is returned before Start and after Stop.
	ErrNotRunning = failure.Sentinel(failure.TransportClosed, "router: not running")
)
