package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-client/internal/backend"
	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/internal/store"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

// writeFrame emits one wire frame and flushes so the client sees it
// immediately.
func writeFrame(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*MessageService, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "conversations.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr := backend.NewTransport(srv.URL, "", 5*time.Second, 30*time.Second, logger.NewNop())
	pr := backend.NewProbe(srv.URL, "", 2*time.Second, logger.NewNop())

	return NewMessageService(st, tr, pr, 20, 15*time.Second, logger.NewNop()), st
}

func mustCreateConversation(t *testing.T, st *store.Store, title string) string {
	t.Helper()
	svc := NewConversationService(st, logger.NewNop())
	conv, err := svc.Create(context.Background(), title)
	require.NoError(t, err)
	return conv.ID
}

func TestSendCommitsCompletedAnswer(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"O RH"}`)
		writeFrame(w, `{"type":"token","content":" atende"}`)
		writeFrame(w, `{"type":"metadata","sources":[{"source_id":"doc1","display_name":"Manual RH","relevance_score":0.92}]}`)
		writeFrame(w, `{"type":"token","content":" das 8h às 17h."}`)
		writeFrame(w, `{"type":"done"}`)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "")

	var progress []string
	msg, err := svc.Send(ctx, convID, "qual o horário do RH?", func(cumulative string) {
		progress = append(progress, cumulative)
	})
	require.NoError(t, err)

	assert.Equal(t, model.SenderAssistant, msg.Sender)
	assert.Equal(t, "O RH atende das 8h às 17h.", msg.Text)
	require.Len(t, msg.Sources, 1)
	assert.Equal(t, "Manual RH", msg.Sources[0].DisplayName)

	// Progress only ever extends what came before.
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.True(t, len(progress[i]) >= len(progress[i-1]))
		assert.Equal(t, progress[i-1], progress[i][:len(progress[i-1])])
	}
	assert.Equal(t, "O RH atende das 8h às 17h.", progress[len(progress)-1])

	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.SenderUser, conv.Messages[0].Sender)
	assert.Equal(t, "qual o horário do RH?", conv.Messages[0].Text)
	assert.Equal(t, model.SenderAssistant, conv.Messages[1].Sender)
	assert.Equal(t, "O RH atende das 8h às 17h.", conv.Messages[1].Text)

	// First utterance names the conversation.
	assert.Equal(t, "qual o horário do RH?", conv.Title)
}

func TestSendErrorEventLeavesNoPartialAnswer(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"half an"}`)
		writeFrame(w, `{"type":"error","message":"retrieval index unavailable"}`)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	_, err := svc.Send(ctx, convID, "oi", nil)

	var streamErr *backend.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "retrieval index unavailable", streamErr.Message)

	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.SenderUser, conv.Messages[0].Sender)
	assert.Equal(t, model.SenderSystem, conv.Messages[1].Sender)
	assert.Contains(t, conv.Messages[1].Text, "retrieval index unavailable")
	// The partial token text never reaches the log.
	assert.NotContains(t, conv.Messages[1].Text, "half an")
}

func TestSendIncompleteStreamRecordsNote(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"cut off"}`)
		// Connection closes without a done event.
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	_, err := svc.Send(ctx, convID, "oi", nil)
	assert.ErrorIs(t, err, backend.ErrIncompleteStream)

	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.SenderSystem, conv.Messages[1].Sender)
	assert.Contains(t, conv.Messages[1].Text, "interrupted")
}

func TestSendTransportFaultRecordsNote(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	_, err := svc.Send(ctx, convID, "oi", nil)

	var terr *backend.TransportError
	assert.ErrorAs(t, err, &terr)

	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.SenderSystem, conv.Messages[1].Sender)
	assert.Contains(t, conv.Messages[1].Text, "Could not reach")
}

func TestSendCarriesPriorHistoryOnly(t *testing.T) {
	var got model.QueryRequest
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"done"}`)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	require.NoError(t, st.AppendMessage(ctx, convID, model.Message{
		ID: "m1", Sender: model.SenderUser, Text: "primeira pergunta",
	}))
	require.NoError(t, st.AppendMessage(ctx, convID, model.Message{
		ID: "m2", Sender: model.SenderAssistant, Text: "primeira resposta",
	}))

	_, err := svc.Send(ctx, convID, "segunda pergunta", nil)
	require.NoError(t, err)

	assert.Equal(t, "segunda pergunta", got.Message)
	require.Len(t, got.History, 2)
	assert.Equal(t, model.ChatTurn{Role: "user", Content: "primeira pergunta"}, got.History[0])
	assert.Equal(t, model.ChatTurn{Role: "assistant", Content: "primeira resposta"}, got.History[1])
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"thinking"}`)
		<-release
		writeFrame(w, `{"type":"done"}`)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, convID, "primeira", nil)
		done <- err
	}()

	waitForPending(t, svc, convID)

	_, err := svc.Send(ctx, convID, "segunda", nil)
	assert.ErrorIs(t, err, ErrStreamActive)

	close(release)
	require.NoError(t, <-done)
}

func TestCancelDiscardsPartialAnswer(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"partial"}`)
		<-r.Context().Done()
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, convID, "oi", nil)
		done <- err
	}()

	waitForPending(t, svc, convID)
	require.True(t, svc.Cancel(convID))

	assert.ErrorIs(t, <-done, ErrCancelled)

	// Only the user turn survives: no partial text, no failure note.
	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.SenderUser, conv.Messages[0].Sender)

	// The slot is free again.
	assert.False(t, svc.Cancel(convID))
	_, ok := svc.Pending(convID)
	assert.False(t, ok)
}

func TestPendingExposesPlaceholder(t *testing.T) {
	release := make(chan struct{})
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, `{"type":"token","content":"so far"}`)
		<-release
		writeFrame(w, `{"type":"done"}`)
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, convID, "oi", nil)
		done <- err
	}()

	waitForPending(t, svc, convID)

	msg, ok := svc.Pending(convID)
	require.True(t, ok)
	assert.Equal(t, model.SenderAssistant, msg.Sender)
	assert.Equal(t, model.StreamStatePending, msg.StreamState)
	assert.Equal(t, "so far", msg.Text)

	close(release)
	require.NoError(t, <-done)
}

func TestSendValidatesUtterance(t *testing.T) {
	svc, st := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be contacted for an invalid utterance")
	})
	ctx := context.Background()
	convID := mustCreateConversation(t, st, "t")

	_, err := svc.Send(ctx, convID, "", nil)
	assert.Error(t, err)

	conv, err := st.Get(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
}

func TestSendUnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be contacted for an unknown conversation")
	})

	_, err := svc.Send(context.Background(), "missing", "oi", nil)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}

func TestProbeMemoizesResult(t *testing.T) {
	var hits atomic.Int32
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"status":"online","model":"rag-7b"}`))
	})
	ctx := context.Background()

	first := svc.Probe(ctx)
	second := svc.Probe(ctx)

	assert.True(t, first.Online())
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

// waitForPending blocks until the conversation has an in-flight placeholder
// with some streamed text.
func waitForPending(t *testing.T, svc *MessageService, convID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if msg, ok := svc.Pending(convID); ok && msg.Text != "" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("stream never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
