//go:build !windows

package signals

import (
	"os/signal"
	"syscall"
)

func init() {
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func stopNotify() { signal.Stop(sigChan) }

// Handle dispatches signals to the registered handlers until StopHandle.
func Handle() {
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			reload.run()
		case syscall.SIGINT, syscall.SIGTERM:
			interrupt.run()
		}
	}
}
