package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/source"
)

// SweepReport summarizes one validation sweep.
type SweepReport struct {
	Scanned   int       `json:"scanned"`
	Validated int       `json:"validated"`
	Skipped   int       `json:"skipped"`
	RanAt     time.Time `json:"ran_at"`
}

// Sweep resolves pending predictions that have aged past the minimum wait by
// asking the health source what actually happened. Predictions whose outcome
// is still unknown, or whose health source is unreachable, stay pending for
// the next pass.
func (l *Ledger) Sweep(ctx context.Context, health source.HealthSource) (*SweepReport, error) {
	now := l.now().UTC()
	predictedBefore := now.Add(-time.Duration(l.cfg.MinAgeHours) * time.Hour)

	report := &SweepReport{RanAt: now}
	pending, err := l.store.ListPendingPredictions(ctx, predictedBefore, l.cfg.BatchSize)
	if err != nil {
		return report, eris.Wrap(err, "ledger: list pending predictions")
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "ledger: sweep interrupted")
		}
		p := &pending[i]
		report.Scanned++

		observed, err := health.ObservedOutcome(ctx, p.ResourceID, now)
		if err != nil {
			if source.IsUnavailable(err) {
				zap.L().Warn("ledger: health source unavailable, leaving prediction pending",
					zap.String("id", p.ID),
					zap.Error(err),
				)
				report.Skipped++
				continue
			}
			return report, eris.Wrapf(err, "ledger: observe outcome for %s", p.ResourceID)
		}
		if observed == model.HealthUnknown {
			report.Skipped++
			continue
		}

		if _, err := l.Validate(ctx, p.ID, observed); err != nil {
			if eris.Is(err, ErrAlreadyValidated) {
				continue
			}
			return report, err
		}
		report.Validated++
	}

	zap.L().Info("ledger: validation sweep complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("validated", report.Validated),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}
