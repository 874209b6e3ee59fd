// Package service provides the conversation orchestrator: it owns the
// conversation lifecycle and drives transport, decoding, and accumulation
// for each query, writing results through to the store.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/internal/store"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

// maxTitleRunes bounds auto-generated conversation titles.
const maxTitleRunes = 48

// ConversationService handles conversation lifecycle operations. All
// persisted state goes through the store; nothing else mutates it.
type ConversationService struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st *store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		logger: log,
	}
}

// Create creates a new empty conversation. An empty title is allowed; it is
// filled in from the first user utterance.
func (s *ConversationService) Create(ctx context.Context, title string) (*model.Conversation, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.store.Get(ctx, id)
}

// List retrieves all conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context) ([]model.Conversation, error) {
	return s.store.List(ctx)
}

// Rename updates a conversation's title.
func (s *ConversationService) Rename(ctx context.Context, id, title string) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	return s.store.UpdateTitle(ctx, id, title)
}

// Delete removes a conversation and its whole message log.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// DeleteAll removes every conversation.
func (s *ConversationService) DeleteAll(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	s.logger.Info("all conversations deleted")
	return nil
}

// titleFromUtterance derives a short title from the first user message.
func titleFromUtterance(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes-1]) + "…"
	}
	return text
}
