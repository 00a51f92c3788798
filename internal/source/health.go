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

// healthClient reads observed resource health from the platform's topology
// and metrics collaborator. Unknown states are reported as-is; the validation
// sweep retries them on its next pass.
type healthClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHealthSource creates an HTTP-backed HealthSource.
func NewHealthSource(cfg config.HealthConfig) HealthSource {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 20
	}
	return &healthClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
	}
}

func (h *healthClient) ObservedOutcome(ctx context.Context, resourceID string, asOf time.Time) (model.HealthState, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return model.HealthUnknown, &UnavailableError{Source: "health", Err: err}
	}

	q := url.Values{}
	q.Set("as_of", asOf.UTC().Format(time.RFC3339))
	reqURL := fmt.Sprintf("%s/v1/resources/%s/health?%s", h.baseURL, url.PathEscape(resourceID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.HealthUnknown, eris.Wrap(err, "health: create request")
	}
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return model.HealthUnknown, &UnavailableError{Source: "health", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.HealthUnknown, nil
	case isRetryableStatus(resp.StatusCode):
		return model.HealthUnknown, &UnavailableError{
			Source:     "health",
			Err:        eris.Errorf("backend returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return model.HealthUnknown, eris.Errorf("health: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.HealthUnknown, eris.Wrap(err, "health: decode response")
	}

	switch model.HealthState(body.State) {
	case model.HealthFailed:
		return model.HealthFailed, nil
	case model.HealthHealthy:
		return model.HealthHealthy, nil
	default:
		return model.HealthUnknown, nil
	}
}
