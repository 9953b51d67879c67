package provider

import (
	"log/slog"
	"sync"
)

// Provider event names, matching the EIP-1193 event vocabulary.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnect      = "disconnect"
	EventError           = "error"
)

// Listener receives one event payload. Payload types by event:
// accountsChanged []string, chainChanged string (hex), disconnect nil,
// error error.
type Listener func(payload any)

// emitter is a multi-subscriber registry keyed by event name. A panicking
// listener is isolated and logged; the remaining listeners still run.
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]Listener
	logger    *slog.Logger
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{
		listeners: make(map[string]map[int]Listener),
		logger:    logger,
	}
}

func (e *emitter) on(event string, fn Listener) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[int]Listener)
	}
	e.listeners[event][e.nextID] = fn
	return e.nextID
}

func (e *emitter) removeListener(event string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners[event], id)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.safeCall(event, fn, payload)
	}
}

func (e *emitter) safeCall(event string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("provider: event listener panicked",
				"event", event, "panic", r)
		}
	}()
	fn(payload)
}
