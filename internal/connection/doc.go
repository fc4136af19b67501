// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one persistent connection to the game backend
//   - Returns the live connection to every caller that acquires the same endpoint
//   - Reconnects after unexpected closure with bounded exponential backoff
//   - Queues inbound frames and drains them one at a time into the Event Registry
//   - Emits the reserved lifecycle events (connect, disconnect, error,
//     reconnecting, reconnect_failed) through the same dispatch path
//
// The transport is pluggable: anything implementing Transport can be selected
// at construction time through a TransportFactory.
package connection
