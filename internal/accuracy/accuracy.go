// Package accuracy derives classification metrics from validated predictions.
package accuracy

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

// Calculator computes accuracy metrics over windows of validated predictions.
type Calculator struct {
	store store.Store
	now   func() time.Time
}

// NewCalculator creates an accuracy calculator.
func NewCalculator(st store.Store) *Calculator {
	return &Calculator{store: st, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (c *Calculator) WithNow(fn func() time.Time) *Calculator {
	c.now = fn
	return c
}

// Window computes metrics over predictions validated in [start, end]. A
// window with no validated predictions yields zero-valued metrics with
// SampleCount 0, never an error.
func (c *Calculator) Window(ctx context.Context, start, end time.Time) (*model.AccuracyMetrics, error) {
	preds, err := c.store.ListValidatedPredictions(ctx, start, end)
	if err != nil {
		return nil, eris.Wrap(err, "accuracy: list validated predictions")
	}
	m := Compute(preds)
	m.WindowStart = start.UTC()
	m.WindowEnd = end.UTC()
	return m, nil
}

// LastDays computes metrics over the trailing n days.
func (c *Calculator) LastDays(ctx context.Context, days int) (*model.AccuracyMetrics, error) {
	end := c.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	return c.Window(ctx, start, end)
}

// Compute tallies the confusion matrix over the given predictions and derives
// precision, recall, F1, and accuracy. Pending predictions are ignored.
// Denominators of zero yield a zero metric rather than NaN.
func Compute(preds []model.Prediction) *model.AccuracyMetrics {
	m := &model.AccuracyMetrics{}
	for _, p := range preds {
		switch p.Outcome {
		case model.OutcomeTruePositive:
			m.TruePositives++
		case model.OutcomeFalsePositive:
			m.FalsePositives++
		case model.OutcomeTrueNegative:
			m.TrueNegatives++
		case model.OutcomeFalseNegative:
			m.FalseNegatives++
		default:
			continue
		}
		m.SampleCount++
	}

	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Accuracy = ratio(m.TruePositives+m.TrueNegatives, m.SampleCount)
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
