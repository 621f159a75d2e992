// Package signal provides the On/Emit dispatch shared by feeds and parsers.
package signal

import (
	"sync"

	"github.com/syntrixbase/follower/internal/follower/events"
)

// Handler receives the payload of one signal. The payload type depends on the
// signal; it is nil for signals that carry nothing.
type Handler func(payload any)

// Source is anything handlers can be attached to.
type Source interface {
	On(sig events.Signal, h Handler)
}

// Emitter dispatches signals synchronously, in registration order.
// Registration is safe from any goroutine; handlers run on the emitting one.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[events.Signal][]Handler
}

// On registers h for sig.
func (e *Emitter) On(sig events.Signal, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[events.Signal][]Handler)
	}
	e.handlers[sig] = append(e.handlers[sig], h)
}

// Emit calls every handler registered for sig and reports whether there was any.
// Handlers may register further handlers; those apply from the next Emit.
func (e *Emitter) Emit(sig events.Signal, payload any) bool {
	e.mu.RLock()
	hs := e.handlers[sig]
	e.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return len(hs) > 0
}

// Count returns the number of handlers registered for sig.
func (e *Emitter) Count(sig events.Signal) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[sig])
}
