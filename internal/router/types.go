package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/duel-client/internal/protocol"
)

// Errors
var (
	ErrEmptyEvent = errors.New("event name is empty")
	ErrNilHandler = errors.New("handler is nil")
	ErrEmptyScope = errors.New("scope is empty")
)

// Scope identifies the page or component that owns a set of bindings.
type Scope string

// BindingID identifies one Bind call. Binding the same handler twice yields two IDs.
type BindingID uuid.UUID

// String returns the canonical UUID form.
func (id BindingID) String() string {
	return uuid.UUID(id).String()
}

// Handler processes a single dispatched event.
// A returned error is logged by the registry and never stops the dispatch pass.
type Handler func(ctx context.Context, ev protocol.Event) error

// RegistryConfig holds configuration for the Event Registry.
type RegistryConfig struct {
	// HandlerBudget is the execution time after which a handler is reported as slow.
	// Zero disables the check.
	HandlerBudget time.Duration
}

// DefaultRegistryConfig returns default configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HandlerBudget: 100 * time.Millisecond,
	}
}

// RegistryStats contains runtime statistics.
type RegistryStats struct {
	Bindings      int            // Total live bindings
	ByEvent       map[string]int // Live bindings per event name
	Dispatched    int64          // Events dispatched
	Invocations   int64          // Handler invocations
	HandlerErrors int64          // Handlers that returned an error or panicked
	SlowHandlers  int64          // Handlers that exceeded HandlerBudget

	LastHandlerError time.Time // Zero if no handler has failed
}

// DispatchHandlerError wraps a failure raised by one handler during dispatch.
type DispatchHandlerError struct {
	Event   string
	Scope   Scope
	Binding BindingID
	Err     error
}

func (e *DispatchHandlerError) Error() string {
	return fmt.Sprintf("handler %s (scope %q) failed on %q: %v", e.Binding, e.Scope, e.Event, e.Err)
}

func (e *DispatchHandlerError) Unwrap() error {
	return e.Err
}

// binding is one registered handler.
type binding struct {
	id      BindingID
	scope   Scope
	handler Handler
}
