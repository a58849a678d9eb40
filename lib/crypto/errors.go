package crypto

import (
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrOpen is the only error reported for an AEAD open failure.
	ErrOpen = oops.New("message authentication failed")
	// ErrLowOrderPoint is returned when a DH yields the all-zero secret.
	ErrLowOrderPoint = oops.New("x25519 produced low order output")
	// ErrKeySize is returned for a key of the wrong length.
	ErrKeySize = oops.New("invalid key size")
	// ErrBadSignature is returned when an Ed25519 signature does not verify.
	ErrBadSignature = oops.New("signature verification failed")
)
