// Package model defines data structures for the assistant client.
package model

import (
	"time"
)

// Conversation represents a conversation thread with the assistant.
//
// Messages is an append-only log in chronological send order. Nothing is
// reordered or removed except a whole-conversation delete.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastMessage returns the most recently appended message, or nil for an
// empty conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// History converts the conversation's messages into the {role, content}
// turn list carried by a query request, keeping at most the final maxTurns
// entries. maxTurns <= 0 means no limit.
func (c *Conversation) History(maxTurns int) []ChatTurn {
	msgs := c.Messages
	if maxTurns > 0 && len(msgs) > maxTurns {
		msgs = msgs[len(msgs)-maxTurns:]
	}

	turns := make([]ChatTurn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, ChatTurn{
			Role:    string(msg.Sender),
			Content: msg.Text,
		})
	}
	return turns
}
