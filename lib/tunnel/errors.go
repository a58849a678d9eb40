package tunnel

import (
	"errors"
	"fmt"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/go-i2p-core/lib/failure"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrTransition is returned for an event the current state does not accept.
	ErrTransition = failure.Sentinel(failure.ProtocolViolation, "tunnel: invalid transition")
	// ErrNoPeers is returned when selection constraints cannot be met.
	ErrNoPeers = failure.Sentinel(failure.Exhausted, "tunnel: not enough peers")
	// ErrHopCount is returned for a tunnel longer than build.MaxHops.
	ErrHopCount = failure.Sentinel(failure.ProtocolViolation, "tunnel: bad hop count")
	// ErrRejected is the cause of a build refused by at least one hop.
	ErrRejected = failure.Sentinel(failure.CapacityRejected, "tunnel: build rejected")
	// ErrBuildTimeout is the cause of a build without a reply in time.
	ErrBuildTimeout = failure.Sentinel(failure.Timeout, "tunnel: build timeout")
	// ErrAbandoned is the cause of a build whose first hop session closed.
	ErrAbandoned = failure.Sentinel(failure.TransportClosed, "tunnel: first hop closed")
	// ErrNotActive is returned when sending through a tunnel that is not usable.
	ErrNotActive = failure.Sentinel(failure.TransportClosed, "tunnel: not active")
	// ErrDirection is returned when sending into an inbound tunnel.
	ErrDirection = failure.Sentinel(failure.ProtocolViolation, "tunnel: wrong direction")
	// ErrUnknownTunnel is returned for a tunnel ID with no state.
	ErrUnknownTunnel = failure.Sentinel(failure.ProtocolViolation, "tunnel: unknown tunnel")
	// ErrDuplicateID is returned when a tunnel ID is already registered.
	ErrDuplicateID = failure.Sentinel(failure.ProtocolViolation, "tunnel: duplicate ID")
	// ErrWrongRole is returned for traffic a hop's position does not take.
	ErrWrongRole = failure.Sentinel(failure.ProtocolViolation, "tunnel: wrong hop role")
	// ErrStopped is returned after the manager or pool is stopped.
	ErrStopped = failure.Sentinel(failure.TransportClosed, "tunnel: stopped")

	// ErrBuildFailed matches every *BuildError.
	ErrBuildFailed = errors.New("tunnel: build failed")
)

// BuildError reports a build attempt that ended in BuildFailed. Err carries
// the classified cause.
type BuildError struct {
	Attempt  uuid.UUID
	Rejected []common.Hash
	Err      error
}

func (e *BuildError) Error() string {
	if len(e.Rejected) > 0 {
		return fmt.Sprintf("tunnel: build %s failed, %d hop(s) rejected: %v", e.Attempt, len(e.Rejected), e.Err)
	}
	return fmt.Sprintf("tunnel: build %s failed: %v", e.Attempt, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is matches ErrBuildFailed.
func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// RejectingHops returns the hops that refused the build reported by err.
func RejectingHops(err error) []common.Hash {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Rejected
	}
	return nil
}

func short(h common.Hash) string { return identity.Short(h) }
