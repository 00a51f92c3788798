// Package calibration analyzes validated prediction history and surfaces
// threshold adjustment recommendations. Recommendations are advisory:
// nothing here rewrites configuration.
package calibration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/accuracy"
	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

// Report is the output of one calibration pass.
type Report struct {
	WindowStart     time.Time                         `json:"window_start"`
	WindowEnd       time.Time                         `json:"window_end"`
	GeneratedAt     time.Time                         `json:"generated_at"`
	Global          *model.AccuracyMetrics            `json:"global"`
	ByResourceType  map[string]*model.AccuracyMetrics `json:"by_resource_type,omitempty"`
	ByConfidence    map[string]*model.AccuracyMetrics `json:"by_declared_confidence,omitempty"`
	Recommendations []model.CalibrationRecommendation `json:"recommendations"`
}

// Engine runs calibration analysis.
type Engine struct {
	store store.Store
	cfg   config.CalibrationConfig
	now   func() time.Time
}

// New creates a calibration engine.
func New(st store.Store, cfg config.CalibrationConfig) *Engine {
	return &Engine{store: st, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	e.now = fn
	return e
}

// Analyze computes accuracy over the calibration window, broken down
// globally, per resource type, and per declared confidence band, and derives
// recommendations for every scope whose sample is large enough to trust. The
// report is persisted for audit.
func (e *Engine) Analyze(ctx context.Context) (*Report, error) {
	now := e.now().UTC()
	start := now.Add(-time.Duration(e.cfg.WindowDays) * 24 * time.Hour)

	preds, err := e.store.ListValidatedPredictions(ctx, start, now)
	if err != nil {
		return nil, eris.Wrap(err, "calibration: list validated predictions")
	}

	report := &Report{
		WindowStart:    start,
		WindowEnd:      now,
		GeneratedAt:    now,
		Global:         accuracy.Compute(preds),
		ByResourceType: groupMetrics(preds, func(p model.Prediction) string { return p.ResourceType }),
		ByConfidence:   groupMetrics(preds, func(p model.Prediction) string { return string(p.DeclaredConfidence) }),
	}

	report.Recommendations = append(report.Recommendations, e.recommend("global", report.Global, now)...)
	for _, scope := range sortedKeys(report.ByResourceType) {
		report.Recommendations = append(report.Recommendations,
			e.recommend("resource_type:"+scope, report.ByResourceType[scope], now)...)
	}
	for _, scope := range sortedKeys(report.ByConfidence) {
		report.Recommendations = append(report.Recommendations,
			e.recommend("declared_confidence:"+scope, report.ByConfidence[scope], now)...)
	}
	if rec := e.checkConfidenceOrdering(report.ByConfidence, now); rec != nil {
		report.Recommendations = append(report.Recommendations, *rec)
	}

	if err := e.store.SaveCalibrationReport(ctx, start, now, report.Recommendations); err != nil {
		return nil, eris.Wrap(err, "calibration: save report")
	}

	zap.L().Info("calibration: analysis complete",
		zap.Int("sample", report.Global.SampleCount),
		zap.Int("recommendations", len(report.Recommendations)),
	)
	return report, nil
}

// recommend derives recommendations for one scope. Scopes with fewer
// validated samples than the configured minimum produce nothing: a
// recommendation built on noise is worse than none.
func (e *Engine) recommend(scope string, m *model.AccuracyMetrics, now time.Time) []model.CalibrationRecommendation {
	if m.SampleCount < e.cfg.MinSample {
		return nil
	}

	var recs []model.CalibrationRecommendation
	if m.Precision < e.cfg.PrecisionThreshold {
		recs = append(recs, model.CalibrationRecommendation{
			Metric:              "precision",
			Scope:               scope,
			CurrentValue:        m.Precision,
			Threshold:           e.cfg.PrecisionThreshold,
			SuggestedAdjustment: "raise_decision_threshold",
			Rationale: fmt.Sprintf("precision %.3f below target %.3f over %d samples; too many at-risk calls on resources that stayed healthy",
				m.Precision, e.cfg.PrecisionThreshold, m.SampleCount),
			Severity:    severity(e.cfg.PrecisionThreshold - m.Precision),
			GeneratedAt: now,
		})
	}
	if m.Recall < e.cfg.RecallFloor {
		recs = append(recs, model.CalibrationRecommendation{
			Metric:              "recall",
			Scope:               scope,
			CurrentValue:        m.Recall,
			Threshold:           e.cfg.RecallFloor,
			SuggestedAdjustment: "lower_decision_threshold",
			Rationale: fmt.Sprintf("recall %.3f below floor %.3f over %d samples; failures are slipping past the at-risk threshold",
				m.Recall, e.cfg.RecallFloor, m.SampleCount),
			Severity:    severity(e.cfg.RecallFloor - m.Recall),
			GeneratedAt: now,
		})
	}
	return recs
}

// checkConfidenceOrdering flags inversions between declared confidence bands:
// predictions declared high-confidence should not be empirically less
// accurate than lower bands. Bands with insufficient sample are left out of
// the comparison.
func (e *Engine) checkConfidenceOrdering(byConfidence map[string]*model.AccuracyMetrics, now time.Time) *model.CalibrationRecommendation {
	order := []string{string(model.ConfidenceLow), string(model.ConfidenceMedium), string(model.ConfidenceHigh)}

	var prevBand string
	prevAccuracy := -1.0
	for _, band := range order {
		m, ok := byConfidence[band]
		if !ok || m.SampleCount < e.cfg.MinSample {
			continue
		}
		if prevAccuracy >= 0 && m.Accuracy < prevAccuracy {
			return &model.CalibrationRecommendation{
				Metric:              "accuracy",
				Scope:               "declared_confidence:" + band,
				CurrentValue:        m.Accuracy,
				Threshold:           prevAccuracy,
				SuggestedAdjustment: "review_confidence_labeling",
				Rationale: fmt.Sprintf("%s-confidence predictions are less accurate (%.3f) than %s-confidence ones (%.3f); the declared bands do not reflect empirical reliability",
					band, m.Accuracy, prevBand, prevAccuracy),
				Severity:    severity(prevAccuracy - m.Accuracy),
				GeneratedAt: now,
			}
		}
		prevBand = band
		prevAccuracy = m.Accuracy
	}
	return nil
}

// severity grades the shortfall between a metric and its threshold.
func severity(shortfall float64) model.Severity {
	switch {
	case shortfall >= 0.15:
		return model.SeverityHigh
	case shortfall >= 0.05:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func groupMetrics(preds []model.Prediction, key func(model.Prediction) string) map[string]*model.AccuracyMetrics {
	groups := make(map[string][]model.Prediction)
	for _, p := range preds {
		k := key(p)
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], p)
	}
	if len(groups) == 0 {
		return nil
	}

	out := make(map[string]*model.AccuracyMetrics, len(groups))
	for k, g := range groups {
		out[k] = accuracy.Compute(g)
	}
	return out
}

func sortedKeys(m map[string]*model.AccuracyMetrics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
