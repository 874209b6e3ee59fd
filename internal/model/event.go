package model

import (
	"encoding/json"
	"fmt"
)

// EventType tags a wire-level stream event.
type EventType string

const (
	EventTypeToken    EventType = "token"
	EventTypeMetadata EventType = "metadata"
	EventTypeError    EventType = "error"
	EventTypeDone     EventType = "done"
)

// StreamEvent is one decoded event from a response stream. Exactly the
// fields matching Type are populated:
//
//   - token:    Content
//   - metadata: Sources
//   - error:    Message
//   - done:     nothing
type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Sources []Source  `json:"sources,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventTypeDone || e.Type == EventTypeError
}

// ParseStreamEvent decodes a single event payload. Payloads that are not
// valid JSON or carry an unknown type tag return an error; the decoder
// treats those as skippable malformed frames.
func ParseStreamEvent(payload []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("invalid event payload: %w", err)
	}

	switch ev.Type {
	case EventTypeToken, EventTypeMetadata, EventTypeError, EventTypeDone:
		return ev, nil
	default:
		return StreamEvent{}, fmt.Errorf("unrecognized event type %q", ev.Type)
	}
}
