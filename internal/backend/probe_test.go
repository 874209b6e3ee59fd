package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

func newTestProbe(baseURL string) *Probe {
	return NewProbe(baseURL, "", 2*time.Second, logger.NewNop())
}

func TestProbeOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"online","model":"rag-7b"}`))
	}))
	defer srv.Close()

	avail := newTestProbe(srv.URL).Check(context.Background())

	assert.True(t, avail.Online())
	assert.Equal(t, "rag-7b", avail.Model)
}

func TestProbeOfflineOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	avail := newTestProbe(srv.URL).Check(context.Background())

	assert.False(t, avail.Online())
	assert.Contains(t, avail.Message, "500")
}

func TestProbeOfflineWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	avail := newTestProbe(srv.URL).Check(context.Background())

	assert.False(t, avail.Online())
	assert.Contains(t, avail.Message, "unreachable")
}

func TestProbeOfflineOnBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	avail := newTestProbe(srv.URL).Check(context.Background())

	assert.False(t, avail.Online())
}

func TestProbeSendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"online"}`))
	}))
	defer srv.Close()

	p := NewProbe(srv.URL, "secret", time.Second, logger.NewNop())
	avail := p.Check(context.Background())

	assert.Equal(t, "Bearer secret", got)
	assert.Equal(t, model.StatusOnline, avail.Status)
}
