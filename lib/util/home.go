package util

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the directory the config and identity files live under.
// It tries os.UserHomeDir, then $HOME and %USERPROFILE%, then the working
// directory. It panics only when all of them are unavailable.
func UserHome() string {
	home, err := os.UserHomeDir()
	if err == nil {
		return home
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if v := os.Getenv(env); v != "" {
			log.WithFields(logger.Fields{"at": "UserHome", "fallback": env}).WithError(err).Warn("no home directory")
			return v
		}
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithFields(logger.Fields{"at": "UserHome", "fallback": "cwd"}).WithError(err).Warn("no home directory")
		return wd
	}
	panic("go-i2p-core: cannot determine a home directory, set $HOME")
}
