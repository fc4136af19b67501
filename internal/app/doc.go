// Package app wires the Connection Manager, Event Registry and Navigation
// Controller into the API pages use.
//
// A page mounts by calling BindPageEvents with its own scope and unmounts with
// UnbindPageEvents. Each mounted scope holds one reference on the shared
// connection. The controller unbinds every scope mounted on a page before it
// routes away from that page.
package app
