// Package protocol defines the frames the luxbot web front end pushes over
// its websocket. It is importable by external dashboards.
package protocol

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

const FrameTypeEvent = "event"

// Event names.
const (
	// EventSessionPhase carries a phase transition; the first frame on a
	// new connection is a snapshot of the current phase.
	EventSessionPhase = "session.phase"
	EventShutdown     = "shutdown"
)

// EventFrame is pushed from server to client without a preceding request.
type EventFrame struct {
	Type    string `json:"type"` // always "event"
	Version int    `json:"v"`
	Event   string `json:"event"`             // event name
	Payload any    `json:"payload,omitempty"` // event data
	Seq     int64  `json:"seq"`               // per-connection ordering sequence number
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) EventFrame {
	return EventFrame{
		Type:    FrameTypeEvent,
		Version: ProtocolVersion,
		Event:   event,
		Payload: payload,
		Seq:     seq,
	}
}
