package ws

import (
	"github.com/goccy/go-json"
)

// Frame is the wire format for every message on a websocket connection.
//
// A named event carries Event and Data. A sender that wants a reply sets
// AckID; the receiver answers with a frame carrying the same AckID, no
// Event, and the response payload in Data.
type Frame struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

func encodeFrame(event string, payload any, ackID string) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Frame{Event: event, Data: data, AckID: ackID})
}

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}
