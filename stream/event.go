// Package stream implements the SSE connection registry, replay buffer,
// and wire framing used for both the long-lived GET stream and the
// one-shot POST-SSE delivery mode.
package stream

import "encoding/json"

// Event is one SSE event as the registry stores and replays it.
type Event struct {
	ID      uint64
	Type    string
	Payload json.RawMessage
}

// connectionLostEventType is the synthetic event type emitted on server-side
// shutdown or forced disconnect (spec.md §4.5 "server-side shutdown
// sends a final event-type=connection_lost").
const connectionLostEventType = "connection_lost"

// PingEventType is the heartbeat comment's accompanying event name when
// a named event (rather than a bare comment) is preferred by a caller;
// the default heartbeat is a bare SSE comment line, grounded on the
// teacher's sseEventPing keepalive in handle-mcp2025-POST.go.
const PingEventType = "ping"
