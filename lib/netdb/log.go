package netdb

import (
	"encoding/hex"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// shortHash renders the first 8 bytes of a hash for log lines.
func shortHash(h common.Hash) string {
	return hex.EncodeToString(h[:8])
}
