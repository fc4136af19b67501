package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/duel-client/internal/protocol"
)

// Registry maps event names to ordered handler bindings.
// It is safe for concurrent use; handlers may bind and unbind while being dispatched.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[string][]binding // event name → bindings in registration order

	// Stats
	statsMu       sync.Mutex
	dispatched    int64
	invocations   int64
	handlerErrors int64
	slowHandlers  int64
	lastError     time.Time
}

// NewRegistry creates a new Event Registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger,
		bindings: make(map[string][]binding),
	}
}

// Bind appends handler to the bindings for event, owned by scope.
func (r *Registry) Bind(event string, scope Scope, handler Handler) (BindingID, error) {
	if event == "" {
		return BindingID{}, ErrEmptyEvent
	}
	if scope == "" {
		return BindingID{}, ErrEmptyScope
	}
	if handler == nil {
		return BindingID{}, ErrNilHandler
	}

	id := BindingID(uuid.New())

	r.mu.Lock()
	r.bindings[event] = append(r.bindings[event], binding{
		id:      id,
		scope:   scope,
		handler: handler,
	})
	r.mu.Unlock()

	r.logger.Debug("handler bound", "event", event, "scope", scope, "binding", id)
	return id, nil
}

// Unbind removes the first binding for event matching (id, scope).
// Returns false if no such binding exists.
func (r *Registry) Unbind(event string, scope Scope, id BindingID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bindings[event]
	for i, b := range list {
		if b.id != id || b.scope != scope {
			continue
		}
		// Copy so that snapshots taken by an in-flight dispatch are untouched.
		next := make([]binding, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		r.setLocked(event, next)
		return true
	}
	return false
}

// UnbindScope removes every binding owned by scope and returns how many were removed.
func (r *Registry) UnbindScope(scope Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for event, list := range r.bindings {
		next := make([]binding, 0, len(list))
		for _, b := range list {
			if b.scope == scope {
				continue
			}
			next = append(next, b)
		}
		if len(next) == len(list) {
			continue
		}
		removed += len(list) - len(next)
		r.setLocked(event, next)
	}

	if removed > 0 {
		r.logger.Debug("scope unbound", "scope", scope, "removed", removed)
	}
	return removed
}

// Dispatch invokes every handler bound to ev.Name, in registration order.
// The binding list is snapshotted first; changes made by handlers apply to later dispatches.
func (r *Registry) Dispatch(ctx context.Context, ev protocol.Event) {
	r.mu.RLock()
	snapshot := r.bindings[ev.Name]
	r.mu.RUnlock()

	r.statsMu.Lock()
	r.dispatched++
	r.statsMu.Unlock()

	if len(snapshot) == 0 {
		r.logger.Debug("no handlers for event", "event", ev.Name)
		return
	}

	for _, b := range snapshot {
		r.invoke(ctx, b, ev)
	}
}

// Handlers returns the number of live bindings for event.
func (r *Registry) Handlers(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings[event])
}

// ScopeBindings returns the number of live bindings owned by scope.
func (r *Registry) ScopeBindings(scope Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.bindings {
		for _, b := range list {
			if b.scope == scope {
				n++
			}
		}
	}
	return n
}

// Stats returns current statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	byEvent := make(map[string]int, len(r.bindings))
	total := 0
	for event, list := range r.bindings {
		byEvent[event] = len(list)
		total += len(list)
	}
	r.mu.RUnlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return RegistryStats{
		Bindings:      total,
		ByEvent:       byEvent,
		Dispatched:    r.dispatched,
		Invocations:   r.invocations,
		HandlerErrors: r.handlerErrors,
		SlowHandlers:  r.slowHandlers,

		LastHandlerError: r.lastError,
	}
}

// setLocked replaces the list for event. Must be called with mu held.
func (r *Registry) setLocked(event string, list []binding) {
	if len(list) == 0 {
		delete(r.bindings, event)
		return
	}
	r.bindings[event] = list
}

// invoke runs one handler, converting errors and panics into a logged DispatchHandlerError.
func (r *Registry) invoke(ctx context.Context, b binding, ev protocol.Event) {
	start := time.Now()
	err := safeCall(ctx, b.handler, ev)
	elapsed := time.Since(start)

	r.statsMu.Lock()
	r.invocations++
	if err != nil {
		r.handlerErrors++
		r.lastError = time.Now()
	}
	slow := r.cfg.HandlerBudget > 0 && elapsed > r.cfg.HandlerBudget
	if slow {
		r.slowHandlers++
	}
	r.statsMu.Unlock()

	if err != nil {
		herr := &DispatchHandlerError{
			Event:   ev.Name,
			Scope:   b.scope,
			Binding: b.id,
			Err:     err,
		}
		r.logger.Warn("event handler failed",
			"event", ev.Name,
			"scope", b.scope,
			"binding", b.id,
			"error", herr,
		)
	}

	if slow {
		r.logger.Warn("event handler exceeded budget",
			"event", ev.Name,
			"scope", b.scope,
			"elapsed", elapsed,
			"budget", r.cfg.HandlerBudget,
		)
	}
}

// safeCall runs h and recovers a panic as an error.
func safeCall(ctx context.Context, h Handler, ev protocol.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, ev)
}
