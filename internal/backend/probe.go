package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
	"github.com/capitalize-ai/assistant-client/pkg/metrics"
)

// Probe is the out-of-band health check gating whether a query should be
// attempted at all. It never fails hard: an unreachable backend is just
// reported as offline with a reason.
type Probe struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logger.Logger
}

// NewProbe creates a probe for the given backend.
func NewProbe(baseURL, token string, timeout time.Duration, log *logger.Logger) *Probe {
	return &Probe{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// Check performs a single request/response availability check.
func (p *Probe) Check(ctx context.Context) model.Availability {
	avail := p.check(ctx)
	metrics.ProbeResults.WithLabelValues(avail.Status).Inc()
	if !avail.Online() {
		p.logger.Debug("backend offline", zap.String("reason", avail.Message))
	}
	return avail
}

func (p *Probe) check(ctx context.Context) model.Availability {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthPath, nil)
	if err != nil {
		return offline(fmt.Sprintf("invalid backend URL: %v", err))
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return offline(fmt.Sprintf("backend unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return offline(fmt.Sprintf("health check returned status %d", resp.StatusCode))
	}

	var avail model.Availability
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return offline(fmt.Sprintf("invalid health response: %v", err))
	}
	if avail.Status == "" {
		avail.Status = model.StatusOffline
	}
	return avail
}

func offline(reason string) model.Availability {
	return model.Availability{Status: model.StatusOffline, Message: reason}
}
