package model

import (
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// StreamState is the transient state of an assistant message whose response
// stream is still in flight. It lives only in the in-memory placeholder the
// orchestrator exposes; it is never written to the store.
type StreamState string

const (
	StreamStatePending  StreamState = "pending"
	StreamStateComplete StreamState = "complete"
	StreamStateFailed   StreamState = "failed"
)

// Source is one retrieval source backing an assistant answer.
type Source struct {
	SourceID       string  `json:"source_id"`
	DisplayName    string  `json:"display_name"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Message represents a single turn in a conversation.
//
// Sources is only ever set on assistant messages, and is attached together
// with the final text when the stream completes - never partially.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`

	// StreamState is transient and deliberately excluded from persistence.
	StreamState StreamState `json:"-"`
}

// ChatTurn is one {role, content} pair of prior history sent with a query.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryRequest is the body of the request that opens a response stream.
type QueryRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history"`
}

// Availability is the result of an availability probe.
type Availability struct {
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Online reports whether the backend is reachable and has a model loaded.
func (a Availability) Online() bool {
	return a.Status == StatusOnline
}
