// Package router implements the Event Registry component.
//
// The Event Registry:
//   - Maps event names to handlers in registration order
//   - Groups bindings by owner scope (one scope per mounted page)
//   - Removes a whole scope at page teardown
//   - Dispatches each event synchronously over a snapshot of the bindings
//   - Contains handler errors and panics, and warns on slow handlers
package router
