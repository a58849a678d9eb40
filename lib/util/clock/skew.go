package clock

import (
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// CheckSkew reports whether remote lies within tolerance of now. A zero
// remote time is always rejected.
func CheckSkew(now, remote time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		return oops.Errorf("clock skew: tolerance must be positive, got %s", tolerance)
	}
	if remote.IsZero() {
		return oops.Errorf("clock skew: remote timestamp is zero")
	}
	skew := now.Sub(remote)
	if skew > tolerance || skew < -tolerance {
		log.WithFields(logger.Fields{
			"at":        "CheckSkew",
			"remote":    remote.UTC().Format(time.RFC3339),
			"now":       now.UTC().Format(time.RFC3339),
			"skew":      skew.String(),
			"tolerance": tolerance.String(),
		}).Debug("timestamp outside skew window")
		return oops.Errorf("clock skew: remote is %s away from local time (max %s)", skew.Abs(), tolerance)
	}
	return nil
}

// Unix32 truncates t to the 32-bit seconds field carried in handshakes.
func Unix32(t time.Time) uint32 { return uint32(t.Unix()) }

// FromUnix32 expands a 32-bit seconds field.
func FromUnix32(s uint32) time.Time { return time.Unix(int64(s), 0) }
