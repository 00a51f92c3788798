package fusion

import (
	"math"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/model"
)

// Fuse combines the evidence records collected in one verification pass into
// a verification score (weight-normalized mean of per-source confidences)
// and an overall confidence (score scaled by the corroboration multiplier
// for the number of sources that reported). Sources that returned no
// evidence are excluded from both numerator and denominator, never treated
// as zero-confidence observations.
func Fuse(records []model.EvidenceRecord, cfg config.FusionConfig) (score, overall float64, sources int) {
	var weightSum, weighted float64
	for _, rec := range records {
		w := cfg.Weights.Weight(string(rec.Source))
		if w <= 0 {
			continue
		}
		weighted += w * rec.Confidence
		weightSum += w
		sources++
	}

	if sources == 0 || weightSum == 0 {
		return 0, 0, 0
	}

	score = weighted / weightSum
	overall = score * cfg.Multiplier(sources)
	overall = math.Min(math.Max(overall, 0), 1)
	return score, overall, sources
}

// Classify maps a fused confidence onto a claim status.
func Classify(confidence float64, cfg config.FusionConfig) model.ClaimStatus {
	switch {
	case confidence >= cfg.VerifiedThreshold:
		return model.ClaimStatusVerified
	case confidence >= cfg.ReviewThreshold:
		return model.ClaimStatusNeedsReview
	default:
		return model.ClaimStatusUnverified
	}
}
