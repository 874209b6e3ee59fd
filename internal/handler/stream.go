// Package handler provides the stub backend's HTTP handlers. The stub
// speaks the exact wire protocol of the real backend so the client, and
// its failure paths, can be exercised locally.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

// Directives a query can embed to make the stub exercise a failure path.
const (
	directiveError     = "!error"
	directiveMalformed = "!malformed"
	directiveNoDone    = "!incomplete"
)

// StreamHandler serves the streaming query endpoint with scripted answers.
type StreamHandler struct {
	tokenDelay time.Duration
	logger     *logger.Logger
}

// NewStreamHandler creates a stream handler. tokenDelay paces token frames
// so streaming is visible in an interactive client; zero disables pacing.
func NewStreamHandler(tokenDelay time.Duration, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		tokenDelay: tokenDelay,
		logger:     log,
	}
}

// Query handles POST /api/v1/query/stream
func (h *StreamHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("stream started",
		zap.Int("history_turns", len(req.History)),
		zap.Int("message_bytes", len(req.Message)),
	)

	if strings.Contains(req.Message, directiveError) {
		h.sendEvent(w, flusher, model.StreamEvent{
			Type:    model.EventTypeError,
			Message: "the model crashed while generating the answer",
		})
		return
	}

	answer := h.answerFor(req)

	sent := 0
	for _, token := range tokenize(answer) {
		select {
		case <-r.Context().Done():
			h.logger.Info("client disconnected mid-stream", zap.Int("tokens_sent", sent))
			return
		default:
		}

		h.sendEvent(w, flusher, model.StreamEvent{
			Type:    model.EventTypeToken,
			Content: token,
		})
		sent++

		// Inject one malformed frame between tokens so clients can prove
		// they skip it without aborting.
		if sent == 1 && strings.Contains(req.Message, directiveMalformed) {
			fmt.Fprintf(w, "data: {\"type\":\"token\",\"content\":\n\n")
			flusher.Flush()
		}

		if h.tokenDelay > 0 {
			time.Sleep(h.tokenDelay)
		}
	}

	h.sendEvent(w, flusher, model.StreamEvent{
		Type: model.EventTypeMetadata,
		Sources: []model.Source{
			{SourceID: "doc-001", DisplayName: "Knowledge Base Overview", RelevanceScore: 0.93},
			{SourceID: "doc-002", DisplayName: "FAQ", RelevanceScore: 0.71},
		},
	})

	if strings.Contains(req.Message, directiveNoDone) {
		// Close without a terminal frame: incomplete-stream on the client.
		return
	}

	h.sendEvent(w, flusher, model.StreamEvent{Type: model.EventTypeDone})
}

// answerFor produces the scripted answer text.
func (h *StreamHandler) answerFor(req model.QueryRequest) string {
	msg := strings.TrimSpace(strings.NewReplacer(
		directiveMalformed, "",
		directiveNoDone, "",
	).Replace(req.Message))

	if len(req.History) > 0 {
		return fmt.Sprintf("Continuing our conversation of %d turns: you asked %q, and the knowledge base suggests this is covered in the documents below.", len(req.History), msg)
	}
	return fmt.Sprintf("You asked %q. According to the knowledge base, the answer is covered in the documents below.", msg)
}

// tokenize splits the answer into word-sized fragments, preserving spaces
// so concatenation reproduces the text exactly.
func tokenize(text string) []string {
	words := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (h *StreamHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, ev model.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
