package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
)

// httpAdapter fetches evidence from a telemetry backend over HTTP. All four
// backend kinds speak the same normalized evidence endpoint; only the base
// URL, credentials, and kind differ.
type httpAdapter struct {
	kind    model.SourceKind
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// evidenceResponse is the wire shape of a backend's evidence reply.
type evidenceResponse struct {
	Found       bool      `json:"found"`
	Confidence  float64   `json:"confidence"`
	Findings    []string  `json:"findings,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func newHTTPAdapter(kind model.SourceKind, cfg config.SourceEndpoint) *httpAdapter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 20
	}
	return &httpAdapter{
		kind:    kind,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
	}
}

// NewInfrastructureAdapter observes the infrastructure topology backend.
func NewInfrastructureAdapter(cfg config.SourceEndpoint) Adapter {
	return newHTTPAdapter(model.SourceInfrastructure, cfg)
}

// NewPipelineConfigAdapter observes the CI/CD pipeline configuration backend.
func NewPipelineConfigAdapter(cfg config.SourceEndpoint) Adapter {
	return newHTTPAdapter(model.SourcePipelineConfig, cfg)
}

// NewTraceAdapter observes the distributed tracing backend.
func NewTraceAdapter(cfg config.SourceEndpoint) Adapter {
	return newHTTPAdapter(model.SourceTrace, cfg)
}

// NewMetricsAdapter observes the metrics backend.
func NewMetricsAdapter(cfg config.SourceEndpoint) Adapter {
	return newHTTPAdapter(model.SourceMetrics, cfg)
}

// NewRegistryFromConfig builds a registry with an adapter per configured
// backend. Backends without a base URL are skipped: an unconfigured source
// simply never contributes evidence.
func NewRegistryFromConfig(cfg config.SourcesConfig) *Registry {
	reg := NewRegistry()
	if cfg.Infrastructure.BaseURL != "" {
		reg.Register(NewInfrastructureAdapter(cfg.Infrastructure))
	}
	if cfg.PipelineConfig.BaseURL != "" {
		reg.Register(NewPipelineConfigAdapter(cfg.PipelineConfig))
	}
	if cfg.Trace.BaseURL != "" {
		reg.Register(NewTraceAdapter(cfg.Trace))
	}
	if cfg.Metrics.BaseURL != "" {
		reg.Register(NewMetricsAdapter(cfg.Metrics))
	}
	return reg
}

func (a *httpAdapter) Kind() model.SourceKind {
	return a.kind
}

func (a *httpAdapter) FetchEvidence(ctx context.Context, sourceID, targetID string, window time.Duration) (*model.EvidenceRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &UnavailableError{Source: string(a.kind), Err: err}
	}

	q := url.Values{}
	q.Set("source", sourceID)
	q.Set("target", targetID)
	q.Set("window_secs", fmt.Sprintf("%d", int(window.Seconds())))
	reqURL := fmt.Sprintf("%s/v1/evidence?%s", a.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", a.kind)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Source: string(a.kind), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Backend knows nothing about the pair.
		return nil, nil
	case isRetryableStatus(resp.StatusCode):
		return nil, &UnavailableError{
			Source:     string(a.kind),
			Err:        eris.Errorf("backend returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("%s: unexpected status %d", a.kind, resp.StatusCode)
	}

	var body evidenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrapf(err, "%s: decode response", a.kind)
	}

	if !body.Found {
		return nil, nil
	}

	collectedAt := body.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now().UTC()
	}

	return &model.EvidenceRecord{
		Source:      a.kind,
		Confidence:  clamp01(body.Confidence),
		Items:       body.Findings,
		CollectedAt: collectedAt,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
