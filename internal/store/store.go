package store

import (
	"context"
	"time"

	"github.com/topolens/verity/internal/model"
)

// Store defines the persistence interface for claims, predictions, and
// calibration reports. Claims are keyed by (source, target) resource ids;
// predictions by generated id. Evidence and outcomes are appended, not
// silently overwritten, to support audit and calibration.
type Store interface {
	// Claims
	GetClaim(ctx context.Context, sourceID, targetID string) (*model.DependencyClaim, error)
	CreateClaim(ctx context.Context, c *model.DependencyClaim) error
	UpdateClaimFusion(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, confirmedAt *time.Time, evidence []model.EvidenceRecord) error
	UpdateClaimDecay(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, decayedAt time.Time) error
	ListDecayableClaims(ctx context.Context, confirmedBefore, decayedBefore time.Time, limit int) ([]model.DependencyClaim, error)
	ListStaleClaims(ctx context.Context, confirmedBefore time.Time, limit int) ([]model.DependencyClaim, error)

	// Predictions
	CreatePrediction(ctx context.Context, p *model.Prediction) error
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	// ResolvePrediction transitions a pending prediction to a terminal
	// outcome. Returns false when the prediction is no longer pending, so
	// callers can distinguish a lost race from success.
	ResolvePrediction(ctx context.Context, id string, outcome model.Outcome, validatedAt time.Time) (bool, error)
	ListPendingPredictions(ctx context.Context, predictedBefore time.Time, limit int) ([]model.Prediction, error)
	ListValidatedPredictions(ctx context.Context, start, end time.Time) ([]model.Prediction, error)

	// Calibration audit trail
	SaveCalibrationReport(ctx context.Context, windowStart, windowEnd time.Time, recs []model.CalibrationRecommendation) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
