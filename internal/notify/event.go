// Package notify is the live notification channel: a server-side hub that
// pushes events to the WebSocket sessions of a user, and a client session
// that reconnects after a fixed delay and polls while disconnected.
//
// Delivery is best-effort and at-most-once. Nothing is queued for users who
// are not connected; they find out on their next read.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrChannelUnavailable is returned by Publish when no live session took the
// event. Callers log it and carry on.
var ErrChannelUnavailable = errors.New("notification channel unavailable")

// ErrMalformedFrame is returned when a client frame does not follow the schema
var ErrMalformedFrame = errors.New("malformed frame")

type EventType string

const (
	EventConnection     EventType = "connection"
	EventNewRequest     EventType = "new_request"
	EventAcknowledgment EventType = "acknowledgment"
	// EventInit is the only frame a client sends
	EventInit EventType = "init"
)

// Event is the one frame shape used in both directions
type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectionPayload is sent right after the upgrade
type ConnectionPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// NewRequestPayload tells a recipient someone asked them for a swap
type NewRequestPayload struct {
	RequestID      uuid.UUID `json:"requestId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderSkill    string    `json:"senderSkill"`
	RequestedSkill string    `json:"requestedSkill"`
}

// AcknowledgmentPayload answers a client init
type AcknowledgmentPayload struct {
	Message         string    `json:"message"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
}

// InitPayload is carried by the client's init frame
type InitPayload struct {
	Message string `json:"message"`
}

// NewEvent builds an event with a JSON-encoded payload
func NewEvent(t EventType, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw, Timestamp: at.UTC()}, nil
}

// DecodePayload decodes the payload of ev into v, rejecting unknown fields
func (ev Event) DecodePayload(v any) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedFrame, ev.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(ev.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, ev.Type, err)
	}
	return nil
}

// ParseEvent decodes one frame. Unknown fields, a missing type or a missing
// timestamp are rejected.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if ev.Timestamp.IsZero() {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformedFrame)
	}
	return ev, nil
}
