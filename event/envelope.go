package event

import (
	"github.com/goccy/go-json"
)

// Envelope is the wire-level wrapper sent over the pub/sub socket for
// every reliable event. The socket event name carries the topic, so Type
// duplicates it for receivers that dispatch on the decoded frame.
type Envelope struct {
	// EventID is the originating record's ID, stable across retries and
	// replays. Receivers de-duplicate by EventID alone.
	EventID string `json:"eventId"`

	// Type is the topic name (e.g. "order:created").
	Type string `json:"type"`

	// Payload is the opaque event body.
	Payload any `json:"payload"`

	// Timestamp is the record's creation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// RequiresAck tells the receiver to send an event:ack control message.
	RequiresAck bool `json:"requiresAck"`
}

// Marshal encodes the envelope to JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a wire envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
