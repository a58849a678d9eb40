package identity

import (
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrPublicSize is returned when a serialized public identity is not
	// PublicSize bytes.
	ErrPublicSize = oops.New("public identity must be 64 bytes")
	// ErrCorruptFile is returned when an identity file exists but cannot be
	// decoded. The file is never replaced in that case.
	ErrCorruptFile = oops.New("identity file is corrupt")
	// ErrHashMismatch is returned when a loaded identity does not match the
	// hash recorded next to it.
	ErrHashMismatch = oops.New("identity hash does not match stored keys")
)
