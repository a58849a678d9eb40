package util

import (
	"errors"
	"io"
	"sync"

	"github.com/go-i2p/logger"
)

var (
	closeOnExit []io.Closer
	closeMutex  sync.Mutex
)

// RegisterCloser adds c to the set closed by CloseAll.
func RegisterCloser(c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, c)
	log.WithFields(logger.Fields{"at": "RegisterCloser", "count": len(closeOnExit)}).Debug("registered closer")
}

// CloseAll closes the registered closers, last registered first, and
// empties the set. Every closer is closed even when an earlier one fails;
// the failures are joined into the returned error.
func CloseAll() error {
	closeMutex.Lock()
	closers := closeOnExit
	closeOnExit = nil
	closeMutex.Unlock()

	log.WithFields(logger.Fields{"at": "CloseAll", "count": len(closers)}).Debug("closing registered closers")
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.WithFields(logger.Fields{"at": "CloseAll", "index": i}).WithError(err).Warn("close failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
