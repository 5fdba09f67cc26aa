package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	// Server → Client
	EventProcessingUpdate EventType = "processing_update"
)

// Envelope is the top-level channel frame: a type tag plus an opaque payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is a decoded channel frame. Concrete variants carry typed payloads;
// UnknownEvent preserves frames with unrecognized type tags so forward
// compatibility is a dispatch decision, not a decode failure.
type Event interface {
	Kind() EventType
}

// ProcessingUpdateEvent announces a server-side status change for one job.
type ProcessingUpdateEvent struct {
	ProcessingID string           `json:"job_id"`
	DocumentID   string           `json:"document_id"`
	RawStatus    string           `json:"status"`
	Progress     int              `json:"progress,omitempty"`
	CurrentStep  string           `json:"current_step,omitempty"`
	Timestamp    time.Time        `json:"timestamp,omitempty"`
	Status       ProcessingStatus `json:"-"`
}

func (ProcessingUpdateEvent) Kind() EventType { return EventProcessingUpdate }

// UnknownEvent is the forward-compatibility variant for unrecognized types.
type UnknownEvent struct {
	Type    string
	Payload json.RawMessage
}

func (UnknownEvent) Kind() EventType { return EventType("") }

// DecodeEvent parses one raw channel frame. A frame whose type is not
// recognized decodes to UnknownEvent with a nil error; only malformed JSON or
// a payload that does not match its declared type is an error.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}

	// Some emitters inline the payload next to the type tag instead of
	// nesting it; fall back to the whole frame in that case.
	body := []byte(env.Payload)
	if len(body) == 0 {
		body = raw
	}

	switch EventType(env.Type) {
	case EventProcessingUpdate:
		var ev ProcessingUpdateEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if ev.ProcessingID == "" {
			return nil, fmt.Errorf("decode %s: missing job_id", env.Type)
		}
		ev.Status = ParseProcessingStatus(ev.RawStatus)
		return ev, nil
	default:
		return UnknownEvent{Type: env.Type, Payload: env.Payload}, nil
	}
}
