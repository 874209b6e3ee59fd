package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/backend"
	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/internal/store"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
	"github.com/capitalize-ai/assistant-client/pkg/metrics"
)

var (
	// ErrStreamActive is returned when a send is attempted on a
	// conversation whose previous response stream is still in flight.
	ErrStreamActive = errors.New("a response stream is already active for this conversation")

	// ErrCancelled is returned when the caller cancelled an in-flight
	// send. Not a failure: no note is recorded, the assistant turn simply
	// never completes.
	ErrCancelled = errors.New("send cancelled")
)

// ProgressFunc receives the cumulative answer text after each token event.
// The text only ever grows until the stream reaches a terminal state.
type ProgressFunc func(cumulative string)

// MessageService drives one query per call through transport, decoder, and
// accumulator, and writes the outcome through to the store. It is the only
// component that mutates persisted state.
type MessageService struct {
	store     *store.Store
	transport *backend.Transport
	probe     *backend.Probe
	logger    *logger.Logger
	tracer    trace.Tracer

	maxHistoryTurns int
	probeTTL        time.Duration

	mu     sync.Mutex
	active map[string]*activeStream

	probeMu     sync.Mutex
	lastProbe   model.Availability
	lastProbeAt time.Time
}

// activeStream is the in-flight state of one conversation's send: the
// per-stream cancellation handle and the in-memory placeholder message.
type activeStream struct {
	cancel context.CancelFunc

	mu          sync.Mutex
	placeholder model.Message
}

func (a *activeStream) update(text string) {
	a.mu.Lock()
	a.placeholder.Text = text
	a.mu.Unlock()
}

func (a *activeStream) snapshot() model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.placeholder
}

// NewMessageService creates a new message service.
func NewMessageService(st *store.Store, tr *backend.Transport, pr *backend.Probe, maxHistoryTurns int, probeTTL time.Duration, log *logger.Logger) *MessageService {
	return &MessageService{
		store:           st,
		transport:       tr,
		probe:           pr,
		logger:          log,
		tracer:          otel.Tracer("assistant-client/service"),
		maxHistoryTurns: maxHistoryTurns,
		probeTTL:        probeTTL,
		active:          make(map[string]*activeStream),
	}
}

// Send submits a user utterance on the given conversation and streams the
// assistant's answer. The user message is persisted immediately; the
// assistant turn is committed only once the stream completes. onProgress,
// if non-nil, is invoked with the cumulative text after every token.
//
// At most one stream may be active per conversation; a concurrent second
// send returns ErrStreamActive. Cancelling via Cancel (or the passed
// context) discards the partial answer and returns ErrCancelled.
func (s *MessageService) Send(ctx context.Context, conversationID, text string, onProgress ProgressFunc) (*model.Message, error) {
	if err := validateUtterance(text); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "MessageService.Send",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	streamCtx, as, err := s.register(ctx, conversationID)
	if err != nil {
		span.SetStatus(codes.Error, "stream already active")
		return nil, err
	}
	defer s.unregister(conversationID)

	log := s.logger.WithConversation(conversationID)
	history := conv.History(s.maxHistoryTurns)

	// The user's turn is durable before the stream is even attempted.
	userMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    model.SenderUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, conversationID, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	if conv.Title == "" {
		if err := s.store.UpdateTitle(ctx, conversationID, titleFromUtterance(text)); err != nil {
			log.Warn("failed to set conversation title", zap.Error(err))
		}
	}

	start := time.Now()
	msg, err := s.stream(streamCtx, as, conversationID, text, history, onProgress, log)
	duration := time.Since(start).Seconds()

	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("message.sources", len(msg.Sources)))
		span.SetStatus(codes.Ok, "stream committed")
		metrics.RecordStream(metrics.StatusCommitted, duration)
	case errors.Is(err, ErrCancelled):
		span.SetStatus(codes.Ok, "stream cancelled")
		metrics.RecordStream(metrics.StatusCancelled, duration)
	case errors.Is(err, backend.ErrIncompleteStream):
		span.RecordError(err)
		span.SetStatus(codes.Error, "incomplete stream")
		metrics.RecordStream(metrics.StatusIncomplete, duration)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		metrics.RecordStream(metrics.StatusFailed, duration)
	}

	return msg, err
}

// stream runs the read loop: open transport, decode events, fold them, and
// resolve the terminal state against the store.
func (s *MessageService) stream(ctx context.Context, as *activeStream, conversationID, text string, history []model.ChatTurn, onProgress ProgressFunc, log *logger.Logger) (*model.Message, error) {
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	body, err := s.transport.Open(ctx, &model.QueryRequest{
		Message: text,
		History: history,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("send cancelled before stream opened")
			return nil, ErrCancelled
		}
		return nil, s.fail(ctx, conversationID, err, log)
	}
	defer body.Close()

	dec := backend.NewDecoder(body, log)
	acc := backend.NewAccumulator()

	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// Cancellation intentionally loses partial output; the
				// placeholder is discarded, nothing is persisted.
				log.Info("stream cancelled", zap.Int("tokens_discarded", acc.TokenCount()))
				return nil, ErrCancelled
			}
			return nil, s.fail(ctx, conversationID, err, log)
		}

		if applyErr := acc.Apply(ev); applyErr != nil {
			// In-band error event: discard partial text, record the note.
			return nil, s.fail(ctx, conversationID, applyErr, log)
		}

		switch ev.Type {
		case model.EventTypeToken:
			metrics.TokensStreamed.Inc()
			as.update(acc.Text())
			if onProgress != nil {
				onProgress(acc.Text())
			}
		case model.EventTypeDone:
			return s.commit(ctx, conversationID, acc, log)
		}
	}
}

// commit writes the finished assistant turn, text and sources together, as
// one durable message.
func (s *MessageService) commit(ctx context.Context, conversationID string, acc *backend.Accumulator, log *logger.Logger) (*model.Message, error) {
	msg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    model.SenderAssistant,
		Text:      acc.Text(),
		Timestamp: time.Now().UTC(),
		Sources:   acc.Sources(),
	}

	// Commit must survive caller cancellation that races the done event.
	if err := s.store.AppendMessage(context.WithoutCancel(ctx), conversationID, msg); err != nil {
		return nil, fmt.Errorf("committing assistant message: %w", err)
	}

	log.Info("assistant turn committed",
		zap.Int("tokens", acc.TokenCount()),
		zap.Int("sources", len(msg.Sources)),
	)
	return &msg, nil
}

// fail maps a stream failure to its category, appends the system-sender
// failure note, and returns the original error. The placeholder is never
// persisted.
func (s *MessageService) fail(ctx context.Context, conversationID string, cause error, log *logger.Logger) error {
	var note string
	var streamErr *backend.StreamError
	var transportErr *backend.TransportError

	switch {
	case errors.As(cause, &streamErr):
		log.Warn("backend reported in-band error", zap.String("message", streamErr.Message))
		note = "The assistant could not answer: " + streamErr.Message
	case errors.Is(cause, backend.ErrIncompleteStream):
		log.Warn("stream ended without done event")
		note = "The connection was interrupted before the answer finished."
	case errors.As(cause, &transportErr):
		log.Warn("transport fault", zap.Error(transportErr))
		note = "Could not reach the assistant. Please try again."
	default:
		log.Warn("stream failed", zap.Error(cause))
		note = "Something went wrong while generating the answer."
	}

	sysMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    model.SenderSystem,
		Text:      note,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(context.WithoutCancel(ctx), conversationID, sysMsg); err != nil {
		log.Error("failed to record failure note", zap.Error(err))
	}

	return cause
}

// Cancel aborts the conversation's in-flight stream, if any. Reports
// whether a stream was active.
func (s *MessageService) Cancel(conversationID string) bool {
	s.mu.Lock()
	as, ok := s.active[conversationID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	as.cancel()
	return true
}

// Pending returns a snapshot of the in-memory placeholder for the
// conversation's in-flight assistant turn, if one exists.
func (s *MessageService) Pending(conversationID string) (model.Message, bool) {
	s.mu.Lock()
	as, ok := s.active[conversationID]
	s.mu.Unlock()
	if !ok {
		return model.Message{}, false
	}
	return as.snapshot(), true
}

// Probe checks backend availability, memoizing the last result briefly so
// a polling caller does not hammer the endpoint. Best effort only: it
// gates new queries, never an in-flight stream.
func (s *MessageService) Probe(ctx context.Context) model.Availability {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	if time.Since(s.lastProbeAt) < s.probeTTL && s.lastProbe.Status != "" {
		return s.lastProbe
	}

	s.lastProbe = s.probe.Check(ctx)
	s.lastProbeAt = time.Now()
	return s.lastProbe
}

// register reserves the conversation's single stream slot.
func (s *MessageService) register(ctx context.Context, conversationID string) (context.Context, *activeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[conversationID]; exists {
		return nil, nil, ErrStreamActive
	}

	streamCtx, cancel := context.WithCancel(ctx)
	as := &activeStream{
		cancel: cancel,
		placeholder: model.Message{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Sender:      model.SenderAssistant,
			Timestamp:   time.Now().UTC(),
			StreamState: model.StreamStatePending,
		},
	}
	s.active[conversationID] = as
	return streamCtx, as, nil
}

func (s *MessageService) unregister(conversationID string) {
	s.mu.Lock()
	as, ok := s.active[conversationID]
	delete(s.active, conversationID)
	s.mu.Unlock()
	if ok {
		as.cancel()
	}
}
