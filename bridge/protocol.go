package bridge

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is the envelope broadcast over the medium. Kind names the logical
// request/response/event type and is serialised as "id" on the wire.
type Message struct {
	Kind    string `json:"id"`
	Version int    `json:"version"`
	Text    string `json:"text,omitempty"`
	Binary  []byte `json:"binary,omitempty"`
}

// ErrNoPayload is returned by Event.Decode when the event carries no payload.
var ErrNoPayload = errors.New("event has no payload")

// Event is a received or locally provided message.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Data      json.RawMessage
	Binary    []byte

	value any
}

func newEvent(kind string, data json.RawMessage, binary []byte, at time.Time) *Event {
	ev := &Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Timestamp: at,
		Data:      data,
		Binary:    binary,
	}
	if len(data) > 0 {
		// Undecodable payloads leave value nil; only wildcard patterns match them.
		_ = json.Unmarshal(data, &ev.value)
	}
	return ev
}

// Value returns the payload decoded into generic JSON values.
func (e *Event) Value() any {
	return e.value
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(e.Data, v)
}
