// Package registry maps numeric routine ids to the handlers that serve
// them. Lookup happens under a read lock; handler execution happens outside
// it, so a slow handler never blocks registration or other dispatches.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNilHandler       = errors.New("registry: handler must not be nil")
	ErrDuplicateRoutine = errors.New("registry: routine id already registered")
	ErrUnknownRoutine   = errors.New("registry: no handler for routine id")
	ErrHandlerPanic     = errors.New("registry: handler panicked")
)

// Handler serves one routine id. Execute receives the request payload (the
// span between the frame header and the END sentinel) and returns a complete
// response frame, or nil when the routine has no response. The payload slice
// is only valid for the duration of the call.
type Handler interface {
	RequestID() uint32
	ResponseID() uint32
	Name() string
	Execute(payload []byte) ([]byte, error)
}

// Registry is a concurrency-safe routine table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[uint32]Handler),
		log:      log,
	}
}

// Register adds h under its request id. A nil handler is rejected, and so is
// a second handler for an id that is already taken: the first registration
// wins.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handlers[h.RequestID()]; ok {
		return fmt.Errorf("%w: %#x held by %s", ErrDuplicateRoutine, h.RequestID(), existing.Name())
	}
	r.handlers[h.RequestID()] = h
	r.log.Info("handler registered",
		zap.String("name", h.Name()),
		zap.String("routine", fmt.Sprintf("%#x", h.RequestID())))
	return nil
}

// Dispatch runs the handler registered for id. The handler executes after
// the lock is released. A panicking handler is recovered and reported as
// ErrHandlerPanic; it must never take the caller down.
func (r *Registry) Dispatch(id uint32, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownRoutine, id)
	}

	resp, err := run(h, payload)
	if err != nil {
		if errors.Is(err, ErrHandlerPanic) {
			return nil, err
		}
		return nil, fmt.Errorf("registry: handler %s: %w", h.Name(), err)
	}
	return resp, nil
}

func run(h Handler, payload []byte) (resp []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, h.Name(), rec)
		}
	}()
	return h.Execute(payload)
}

// IsRegistered reports whether a handler is bound to id.
func (r *Registry) IsRegistered(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Handlers returns a snapshot of the registered handlers, sorted by request
// id.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID() < out[j].RequestID() })
	return out
}

// Clear removes every handler. Meant for shutdown and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Info("registry cleared", zap.Int("handlers", len(r.handlers)))
	r.handlers = make(map[uint32]Handler)
}
