// Package backend implements the streaming query protocol against the
// assistant backend: transport, event decoding, response accumulation, and
// the availability probe.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
)

const (
	queryPath  = "/api/v1/query/stream"
	healthPath = "/api/v1/health"
)

// Transport opens one cancellable, long-lived query request per call and
// exposes the response body as a raw byte stream. It interprets nothing;
// the decoder does.
type Transport struct {
	baseURL string
	token   string
	client  *http.Client
	timeout time.Duration
	logger  *logger.Logger
}

// NewTransport creates a transport for the given backend.
//
// firstByteTimeout bounds the wait for response headers; streamTimeout
// bounds the whole exchange. Exceeding either is a transport fault.
func NewTransport(baseURL, token string, firstByteTimeout, streamTimeout time.Duration, log *logger.Logger) *Transport {
	return &Transport{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: firstByteTimeout,
			},
		},
		timeout: streamTimeout,
		logger:  log,
	}
}

// Open sends the query and returns the raw response stream. The returned
// ReadCloser delivers chunks in arrival order until the server closes the
// connection; closing it releases the connection early. Cancelling ctx
// aborts the stream at the next read.
func (t *Transport) Open(ctx context.Context, query *model.QueryRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, &TransportError{Op: "open", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	t.logger.Debug("stream opened")

	return &stream{body: resp.Body, cancel: cancel}, nil
}

// stream ties the response body to the per-query cancellation handle so
// that Close always releases the underlying connection.
type stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (s *stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}
