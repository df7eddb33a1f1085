package event

// Control message event names exchanged between terminal and server. Each
// control message carries a reply callback on the wire.
const (
	// ControlRegister binds a connection to a terminal identity.
	ControlRegister = "terminal:register"

	// ControlAck acknowledges receipt of one reliable event.
	ControlAck = "event:ack"

	// ControlReplay asks for every event missed since a cursor.
	ControlReplay = "events:replay"

	// ControlStats returns the server queue's per-state counts.
	ControlStats = "queue:stats"
)

// AckRequest is the payload of an event:ack control message. The terminal
// identity is inferred server-side from the session.
type AckRequest struct {
	EventID   string `json:"eventId"`
	Timestamp int64  `json:"timestamp"`
}

// AckResponse is the reply to event:ack.
type AckResponse struct {
	Success bool `json:"success"`
}

// RegisterResponse is the reply to terminal:register.
type RegisterResponse struct {
	Success            bool     `json:"success"`
	ConnectedTerminals []string `json:"connectedTerminals"`
}

// ReplaySummary describes one re-sent record in a replay reply.
type ReplaySummary struct {
	EventID   string `json:"eventId"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ReplayResponse is the reply to events:replay. The replayed envelopes
// themselves arrive as ordinary topic events on the same connection.
type ReplayResponse struct {
	Success       bool            `json:"success"`
	ReplayedCount int             `json:"replayedCount"`
	Events        []ReplaySummary `json:"events"`
}
