package calibration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

func newCalibrationFixture(t *testing.T) (*Engine, store.Store, time.Time) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "calibration_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := New(st, config.CalibrationConfig{
		WindowDays:         30,
		PrecisionThreshold: 0.85,
		RecallFloor:        0.70,
		MinSample:          20,
	}).WithNow(func() time.Time { return now })
	return engine, st, now
}

func seedValidated(t *testing.T, st store.Store, now time.Time, resourceType string, confidence model.DeclaredConfidence, outcome model.Outcome, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		p := &model.Prediction{
			ResourceID:           "res",
			ResourceType:         resourceType,
			PredictedProbability: 0.7,
			DeclaredConfidence:   confidence,
			PredictedAt:          now.Add(-72 * time.Hour),
		}
		require.NoError(t, st.CreatePrediction(ctx, p))
		resolved, err := st.ResolvePrediction(ctx, p.ID, outcome, now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.True(t, resolved)
	}
}

func TestAnalyzeInsufficientSampleProducesNoRecommendations(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	// 10 validated predictions, all wrong, but below the 20-sample minimum.
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeFalsePositive, 10)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Global.SampleCount)
	assert.Empty(t, report.Recommendations)
}

func TestAnalyzeFlagsLowPrecision(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	// Precision 15/25 = 0.60, well under the 0.85 target. Recall is 1.0.
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeTruePositive, 15)
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeFalsePositive, 10)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)

	var precRecs []model.CalibrationRecommendation
	for _, rec := range report.Recommendations {
		if rec.Metric == "precision" {
			precRecs = append(precRecs, rec)
		}
	}
	// Global plus the database and high-confidence scopes all qualify.
	require.Len(t, precRecs, 3)
	global := precRecs[0]
	assert.Equal(t, "global", global.Scope)
	assert.InDelta(t, 0.60, global.CurrentValue, 1e-9)
	assert.Equal(t, "raise_decision_threshold", global.SuggestedAdjustment)
	assert.Equal(t, model.SeverityHigh, global.Severity)
}

func TestAnalyzeFlagsLowRecall(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	// Recall 14/22 = 0.636 under the 0.70 floor; precision stays at 1.0.
	seedValidated(t, st, now, "service", model.ConfidenceMedium, model.OutcomeTruePositive, 14)
	seedValidated(t, st, now, "service", model.ConfidenceMedium, model.OutcomeFalseNegative, 8)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)

	found := false
	for _, rec := range report.Recommendations {
		if rec.Metric == "recall" && rec.Scope == "global" {
			found = true
			assert.Equal(t, "lower_decision_threshold", rec.SuggestedAdjustment)
			assert.Equal(t, model.SeverityMedium, rec.Severity)
		}
		assert.NotEqual(t, "precision", rec.Metric)
	}
	assert.True(t, found, "expected a global recall recommendation")
}

func TestAnalyzeHealthySystemProducesNoRecommendations(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeTruePositive, 18)
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeTrueNegative, 12)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, report.Global.SampleCount)
	assert.Empty(t, report.Recommendations)
	assert.InDelta(t, 1.0, report.Global.Precision, 1e-9)
}

func TestSeverityGrading(t *testing.T) {
	assert.Equal(t, model.SeverityLow, severity(0.02))
	assert.Equal(t, model.SeverityMedium, severity(0.05))
	assert.Equal(t, model.SeverityMedium, severity(0.14))
	assert.Equal(t, model.SeverityHigh, severity(0.15))
	assert.Equal(t, model.SeverityHigh, severity(0.40))
}

func TestAnalyzeFlagsConfidenceOrderingInversion(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	// Low band: 20/20 correct. High band: 12/20 correct. High declaring
	// worse accuracy than low inverts the ordering.
	seedValidated(t, st, now, "service", model.ConfidenceLow, model.OutcomeTruePositive, 20)
	seedValidated(t, st, now, "service", model.ConfidenceHigh, model.OutcomeTruePositive, 12)
	seedValidated(t, st, now, "service", model.ConfidenceHigh, model.OutcomeFalseNegative, 8)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)

	found := false
	for _, rec := range report.Recommendations {
		if rec.SuggestedAdjustment == "review_confidence_labeling" {
			found = true
			assert.Equal(t, "declared_confidence:high", rec.Scope)
			assert.InDelta(t, 0.6, rec.CurrentValue, 1e-9)
			assert.Equal(t, model.SeverityHigh, rec.Severity)
		}
	}
	assert.True(t, found, "expected a confidence ordering recommendation")
}

func TestAnalyzeBreaksDownByScope(t *testing.T) {
	engine, st, now := newCalibrationFixture(t)
	seedValidated(t, st, now, "database", model.ConfidenceHigh, model.OutcomeTruePositive, 5)
	seedValidated(t, st, now, "service", model.ConfidenceLow, model.OutcomeFalsePositive, 5)

	report, err := engine.Analyze(context.Background())
	require.NoError(t, err)
	require.Contains(t, report.ByResourceType, "database")
	require.Contains(t, report.ByResourceType, "service")
	assert.Equal(t, 5, report.ByResourceType["database"].SampleCount)
	require.Contains(t, report.ByConfidence, "high")
	require.Contains(t, report.ByConfidence, "low")
}
