// Package protocol defines the realtime event contract shared by the
// Connection Manager and the Event Registry.
//
// Two wire formats are supported:
//   - "event": socket-style frames {"event": "<name>", "data": <payload>}
//   - "envelope": the game backend's raw frames {"class": "...", "type": "...", ...}
//
// Both decode to the same Event value, so handlers never see the wire format.
package protocol
