// Package signals runs registered handlers when the process is asked to
// reload or shut down.
package signals

import (
	"os"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered so a signal that arrives before Handle runs is kept.
var sigChan = make(chan os.Signal, 1)

// Handler runs on a signal.
type Handler func()

// HandlerID identifies a registration.
type HandlerID int

type handlerList struct {
	name     string
	handlers []registered
}

type registered struct {
	id HandlerID
	fn Handler
}

var (
	mu         sync.Mutex
	nextID     HandlerID
	reload     = &handlerList{name: "reload"}
	interrupt  = &handlerList{name: "interrupt"}
	stopHandle sync.Once
)

func (l *handlerList) add(fn Handler) HandlerID {
	if fn == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	l.handlers = append(l.handlers, registered{id: id, fn: fn})
	return id
}

func (l *handlerList) remove(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// run calls every handler in registration order. A panicking handler is
// logged and the rest still run.
func (l *handlerList) run() {
	mu.Lock()
	snapshot := append([]registered(nil), l.handlers...)
	mu.Unlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{
						"at":      "signals",
						"handler": l.name,
						"panic":   r,
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler adds f to the handlers run on SIGHUP. A nil f is
// ignored and returns -1.
func RegisterReloadHandler(f Handler) HandlerID { return reload.add(f) }

// DeregisterReloadHandler removes a reload handler.
func DeregisterReloadHandler(id HandlerID) { reload.remove(id) }

// RegisterInterruptHandler adds f to the handlers run on SIGINT and
// SIGTERM. A nil f is ignored and returns -1.
func RegisterInterruptHandler(f Handler) HandlerID { return interrupt.add(f) }

// DeregisterInterruptHandler removes an interrupt handler.
func DeregisterInterruptHandler(id HandlerID) { interrupt.remove(id) }

// StopHandle makes Handle return. Safe to call more than once.
func StopHandle() {
	stopHandle.Do(func() {
		stopNotify()
		close(sigChan)
	})
}
