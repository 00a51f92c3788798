package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topolens/verity/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteClaimRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.GetClaim(ctx, "svc-a", "svc-b")
	require.NoError(t, err)
	assert.Nil(t, missing)

	confirmed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	claim := &model.DependencyClaim{
		SourceResourceID: "svc-a",
		TargetResourceID: "svc-b",
		Confidence:       0.72,
		Status:           model.ClaimStatusVerified,
		LastConfirmedAt:  &confirmed,
	}
	require.NoError(t, s.CreateClaim(ctx, claim))
	require.NotEmpty(t, claim.ID)

	got, err := s.GetClaim(ctx, "svc-a", "svc-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, claim.ID, got.ID)
	assert.InDelta(t, 0.72, got.Confidence, 1e-9)
	assert.Equal(t, model.ClaimStatusVerified, got.Status)
	require.NotNil(t, got.LastConfirmedAt)
	assert.True(t, got.LastConfirmedAt.Equal(confirmed))
	assert.Nil(t, got.LastDecayAt)
}

func TestSQLiteDuplicateClaimRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateClaim(ctx, &model.DependencyClaim{
		SourceResourceID: "svc-a", TargetResourceID: "svc-b",
	}))
	err := s.CreateClaim(ctx, &model.DependencyClaim{
		SourceResourceID: "svc-a", TargetResourceID: "svc-b",
	})
	require.Error(t, err)
}

func TestSQLiteFusionUpdateKeepsEvidenceHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claim := &model.DependencyClaim{SourceResourceID: "svc-a", TargetResourceID: "svc-b"}
	require.NoError(t, s.CreateClaim(ctx, claim))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := []model.EvidenceRecord{{
		Source:      model.SourceInfrastructure,
		Confidence:  0.9,
		Items:       []string{"sg-rule:5432"},
		CollectedAt: now,
	}}
	require.NoError(t, s.UpdateClaimFusion(ctx, claim.ID, 0.675, model.ClaimStatusVerified, &now, first))

	later := now.Add(time.Hour)
	second := []model.EvidenceRecord{{
		Source:      model.SourceInfrastructure,
		Confidence:  0.5,
		CollectedAt: later,
	}}
	require.NoError(t, s.UpdateClaimFusion(ctx, claim.ID, 0.375, model.ClaimStatusUnverified, &later, second))

	got, err := s.GetClaim(ctx, "svc-a", "svc-b")
	require.NoError(t, err)
	// Only the latest record per source is current; the first stays in history.
	require.Len(t, got.Evidence, 1)
	assert.InDelta(t, 0.5, got.Evidence[0].Confidence, 1e-9)
	assert.Equal(t, model.ClaimStatusUnverified, got.Status)

	var total int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM evidence WHERE claim_id = ?`, claim.ID).Scan(&total))
	assert.Equal(t, 2, total)
}

func TestSQLiteFusionUpdateUnknownClaim(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateClaimFusion(context.Background(), "missing", 0.5, model.ClaimStatusVerified, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteListDecayableClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mk := func(source string, confirmedAt time.Time, decayedAt *time.Time, confidence float64) {
		c := &model.DependencyClaim{
			SourceResourceID: source,
			TargetResourceID: "target",
			Confidence:       confidence,
			LastConfirmedAt:  &confirmedAt,
			LastDecayAt:      decayedAt,
		}
		require.NoError(t, s.CreateClaim(ctx, c))
	}

	recentDecay := now.Add(-time.Hour)
	oldDecay := now.Add(-48 * time.Hour)
	mk("eligible", now.Add(-5*24*time.Hour), nil, 0.7)
	mk("eligible-old-decay", now.Add(-5*24*time.Hour), &oldDecay, 0.7)
	mk("confirmed-recently", now.Add(-time.Hour), nil, 0.7)
	mk("decayed-today", now.Add(-5*24*time.Hour), &recentDecay, 0.7)
	// Fully eroded claims stay eligible so the stale transition can reach them.
	mk("zero-confidence", now.Add(-5*24*time.Hour), nil, 0)

	claims, err := s.ListDecayableClaims(ctx, now.Add(-3*24*time.Hour), now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claims, 3)
	var names []string
	for _, c := range claims {
		names = append(names, c.SourceResourceID)
	}
	assert.ElementsMatch(t, []string{"eligible", "eligible-old-decay", "zero-confidence"}, names)
}

func TestSQLitePredictionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &model.Prediction{
		ResourceID:           "db-orders",
		ResourceType:         "database",
		PredictedProbability: 0.8,
		DeclaredConfidence:   model.ConfidenceHigh,
		PredictedAt:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreatePrediction(ctx, p))

	got, err := s.GetPrediction(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OutcomePending, got.Outcome)

	pending, err := s.ListPendingPredictions(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	validatedAt := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	resolved, err := s.ResolvePrediction(ctx, p.ID, model.OutcomeTruePositive, validatedAt)
	require.NoError(t, err)
	assert.True(t, resolved)

	// Terminal outcomes never flip.
	resolved, err = s.ResolvePrediction(ctx, p.ID, model.OutcomeFalsePositive, validatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, resolved)

	got, err = s.GetPrediction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTruePositive, got.Outcome)
	require.NotNil(t, got.ValidatedAt)

	validated, err := s.ListValidatedPredictions(ctx, validatedAt.Add(-time.Hour), validatedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, validated, 1)
	assert.Equal(t, p.ID, validated[0].ID)
}

func TestSQLiteGetPredictionMissing(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetPrediction(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLiteSaveCalibrationReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []model.CalibrationRecommendation{{
		Metric:              "precision",
		Scope:               "global",
		CurrentValue:        0.6,
		Threshold:           0.85,
		SuggestedAdjustment: "raise_decision_threshold",
		Severity:            model.SeverityHigh,
	}}
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveCalibrationReport(ctx, start, start.AddDate(0, 1, 0), recs))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM calibration_reports`).Scan(&count))
	assert.Equal(t, 1, count)
}
