package accuracy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

func outcomes(counts map[model.Outcome]int) []model.Prediction {
	var preds []model.Prediction
	for outcome, n := range counts {
		for i := 0; i < n; i++ {
			preds = append(preds, model.Prediction{Outcome: outcome})
		}
	}
	return preds
}

func TestComputeKnownMatrix(t *testing.T) {
	m := Compute(outcomes(map[model.Outcome]int{
		model.OutcomeTruePositive:  8,
		model.OutcomeFalsePositive: 2,
		model.OutcomeTrueNegative:  15,
		model.OutcomeFalseNegative: 1,
	}))

	assert.Equal(t, 26, m.SampleCount)
	assert.InDelta(t, 0.80, m.Precision, 1e-9)        // 8 / (8+2)
	assert.InDelta(t, 8.0/9.0, m.Recall, 1e-9)        // 8 / (8+1)
	assert.InDelta(t, 0.8421, m.F1, 0.0001)           // harmonic mean
	assert.InDelta(t, 23.0/26.0, m.Accuracy, 1e-9)    // (8+15) / 26
}

func TestComputeEmptyAndPendingOnly(t *testing.T) {
	for name, preds := range map[string][]model.Prediction{
		"empty":        nil,
		"pending only": outcomes(map[model.Outcome]int{model.OutcomePending: 5}),
	} {
		t.Run(name, func(t *testing.T) {
			m := Compute(preds)
			assert.Equal(t, 0, m.SampleCount)
			assert.Equal(t, 0.0, m.Precision)
			assert.Equal(t, 0.0, m.Recall)
			assert.Equal(t, 0.0, m.F1)
			assert.Equal(t, 0.0, m.Accuracy)
		})
	}
}

func TestComputeNoPositiveCalls(t *testing.T) {
	m := Compute(outcomes(map[model.Outcome]int{
		model.OutcomeTrueNegative:  4,
		model.OutcomeFalseNegative: 1,
	}))
	// No positive calls: precision has a zero denominator.
	assert.Equal(t, 0.0, m.Precision)
	assert.Equal(t, 0.0, m.Recall)
	assert.Equal(t, 0.0, m.F1)
	assert.InDelta(t, 0.8, m.Accuracy, 1e-9)
}

func TestWindowFiltersByValidationTime(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "accuracy_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seed := func(resource string, validatedAt time.Time, outcome model.Outcome) {
		p := &model.Prediction{
			ResourceID:           resource,
			PredictedProbability: 0.7,
			DeclaredConfidence:   model.ConfidenceMedium,
			PredictedAt:          validatedAt.Add(-48 * time.Hour),
		}
		require.NoError(t, st.CreatePrediction(ctx, p))
		resolved, err := st.ResolvePrediction(ctx, p.ID, outcome, validatedAt)
		require.NoError(t, err)
		require.True(t, resolved)
	}

	seed("in-window-1", now.Add(-2*24*time.Hour), model.OutcomeTruePositive)
	seed("in-window-2", now.Add(-1*24*time.Hour), model.OutcomeFalsePositive)
	seed("out-of-window", now.Add(-40*24*time.Hour), model.OutcomeTruePositive)

	calc := NewCalculator(st).WithNow(func() time.Time { return now })
	m, err := calc.LastDays(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, m.SampleCount)
	assert.InDelta(t, 0.5, m.Precision, 1e-9)
	assert.Equal(t, now.Add(-30*24*time.Hour), m.WindowStart)
}
