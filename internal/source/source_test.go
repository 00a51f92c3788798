package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
)

func adapterAgainst(t *testing.T, handler http.HandlerFunc) Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewInfrastructureAdapter(config.SourceEndpoint{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		TimeoutSecs: 2,
		RateLimit:   100,
	})
}

func TestFetchEvidenceFound(t *testing.T) {
	collected := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	adapter := adapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/evidence", r.URL.Path)
		assert.Equal(t, "svc-a", r.URL.Query().Get("source"))
		assert.Equal(t, "db-b", r.URL.Query().Get("target"))
		assert.Equal(t, "86400", r.URL.Query().Get("window_secs"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(evidenceResponse{
			Found:       true,
			Confidence:  0.92,
			Findings:    []string{"sg-rule:5432"},
			CollectedAt: collected,
		})
	})

	rec, err := adapter.FetchEvidence(context.Background(), "svc-a", "db-b", 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.SourceInfrastructure, rec.Source)
	assert.InDelta(t, 0.92, rec.Confidence, 1e-9)
	assert.Equal(t, []string{"sg-rule:5432"}, rec.Items)
	assert.True(t, rec.CollectedAt.Equal(collected))
}

func TestFetchEvidenceNotFoundIsNotAnError(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"404": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"found false": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(evidenceResponse{Found: false})
		},
	} {
		t.Run(name, func(t *testing.T) {
			adapter := adapterAgainst(t, handler)
			rec, err := adapter.FetchEvidence(context.Background(), "a", "b", time.Hour)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestFetchEvidenceServerErrorIsUnavailable(t *testing.T) {
	adapter := adapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := adapter.FetchEvidence(context.Background(), "a", "b", time.Hour)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
}

func TestFetchEvidenceUnexpectedStatusIsHardError(t *testing.T) {
	adapter := adapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := adapter.FetchEvidence(context.Background(), "a", "b", time.Hour)
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))
}

func TestFetchEvidenceClampsConfidence(t *testing.T) {
	adapter := adapterAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(evidenceResponse{Found: true, Confidence: 1.7})
	})

	rec, err := adapter.FetchEvidence(context.Background(), "a", "b", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.False(t, rec.CollectedAt.IsZero())
}

func TestObservedOutcome(t *testing.T) {
	for state, want := range map[string]model.HealthState{
		"failed":   model.HealthFailed,
		"healthy":  model.HealthHealthy,
		"degraded": model.HealthUnknown,
	} {
		t.Run(state, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/resources/db-orders/health", r.URL.Path)
				assert.NotEmpty(t, r.URL.Query().Get("as_of"))
				json.NewEncoder(w).Encode(map[string]string{"state": state})
			}))
			t.Cleanup(srv.Close)

			hs := NewHealthSource(config.HealthConfig{BaseURL: srv.URL, TimeoutSecs: 2, RateLimit: 100})
			got, err := hs.ObservedOutcome(context.Background(), "db-orders", time.Now())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestObservedOutcomeUnknownResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	hs := NewHealthSource(config.HealthConfig{BaseURL: srv.URL, TimeoutSecs: 2, RateLimit: 100})
	got, err := hs.ObservedOutcome(context.Background(), "nope", time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.HealthUnknown, got)
}

func TestIsUnavailable(t *testing.T) {
	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(eris.New("schema mismatch")))
	assert.True(t, IsUnavailable(&UnavailableError{Source: "trace", Err: eris.New("refused")}))
	assert.True(t, IsUnavailable(eris.Wrap(context.DeadlineExceeded, "fetch")))
	assert.True(t, IsUnavailable(context.Canceled))
}

func TestRegistryOrderAndReplacement(t *testing.T) {
	reg := NewRegistryFromConfig(config.SourcesConfig{
		Metrics:        config.SourceEndpoint{BaseURL: "http://metrics.local"},
		Infrastructure: config.SourceEndpoint{BaseURL: "http://infra.local"},
	})

	all := reg.All()
	require.Len(t, all, 2)
	// Stable kind order regardless of registration order.
	assert.Equal(t, model.SourceInfrastructure, all[0].Kind())
	assert.Equal(t, model.SourceMetrics, all[1].Kind())

	assert.Nil(t, reg.Get(model.SourceTrace))
	assert.NotNil(t, reg.Get(model.SourceMetrics))
}
