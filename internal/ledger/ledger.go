// Package ledger records failure predictions and resolves them against
// observed outcomes, producing the labeled history the accuracy and
// calibration passes consume.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

// Ledger is the prediction ledger.
type Ledger struct {
	store store.Store
	cfg   config.ValidationConfig
	now   func() time.Time
}

// New creates a prediction ledger.
func New(st store.Store, cfg config.ValidationConfig) *Ledger {
	return &Ledger{
		store: st,
		cfg:   cfg,
		now:   time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (l *Ledger) WithNow(fn func() time.Time) *Ledger {
	l.now = fn
	return l
}

// Record validates and stores a new prediction in the pending state.
func (l *Ledger) Record(ctx context.Context, p *model.Prediction) error {
	if p.ResourceID == "" {
		return eris.Wrap(ErrInvalidPrediction, "resource_id is required")
	}
	if p.PredictedProbability < 0 || p.PredictedProbability > 1 {
		return eris.Wrapf(ErrInvalidPrediction, "probability %v outside [0,1]", p.PredictedProbability)
	}
	if !model.ValidDeclaredConfidence(p.DeclaredConfidence) {
		return eris.Wrapf(ErrInvalidPrediction, "unknown declared confidence %q", p.DeclaredConfidence)
	}

	p.Outcome = model.OutcomePending
	p.ValidatedAt = nil
	if p.PredictedAt.IsZero() {
		p.PredictedAt = l.now().UTC()
	}
	if err := l.store.CreatePrediction(ctx, p); err != nil {
		return eris.Wrap(err, "ledger: record prediction")
	}

	zap.L().Info("ledger: prediction recorded",
		zap.String("id", p.ID),
		zap.String("resource", p.ResourceID),
		zap.Float64("probability", p.PredictedProbability),
	)
	return nil
}

// Get returns a prediction by id, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := l.store.GetPrediction(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get prediction")
	}
	if p == nil {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return p, nil
}

// Validate resolves a pending prediction against the observed health state.
// Resolution is one-way: a terminal prediction is never rewritten, even when
// two validators race.
func (l *Ledger) Validate(ctx context.Context, id string, observed model.HealthState) (*model.Prediction, error) {
	if observed != model.HealthFailed && observed != model.HealthHealthy {
		return nil, eris.Wrapf(ErrInvalidPrediction, "cannot validate against observed state %q", observed)
	}

	p, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Outcome.Terminal() {
		return nil, eris.Wrapf(ErrAlreadyValidated, "id %s resolved as %s", id, p.Outcome)
	}

	outcome := l.Classify(p.PredictedProbability, observed)
	validatedAt := l.now().UTC()

	resolved, err := l.store.ResolvePrediction(ctx, id, outcome, validatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: resolve prediction")
	}
	if !resolved {
		// Lost the race to another validator.
		return nil, eris.Wrapf(ErrAlreadyValidated, "id %s", id)
	}

	p.Outcome = outcome
	p.ValidatedAt = &validatedAt

	zap.L().Info("ledger: prediction validated",
		zap.String("id", id),
		zap.String("outcome", string(outcome)),
		zap.String("observed", string(observed)),
	)
	return p, nil
}

// Classify maps a predicted probability and an observed state onto the
// confusion-matrix outcome. Probabilities at or above the decision threshold
// count as an at-risk call.
func (l *Ledger) Classify(probability float64, observed model.HealthState) model.Outcome {
	atRisk := probability >= l.cfg.DecisionThreshold
	failed := observed == model.HealthFailed

	switch {
	case atRisk && failed:
		return model.OutcomeTruePositive
	case atRisk && !failed:
		return model.OutcomeFalsePositive
	case !atRisk && failed:
		return model.OutcomeFalseNegative
	default:
		return model.OutcomeTrueNegative
	}
}
