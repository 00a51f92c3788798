// Package decay erodes the confidence of dependency claims that have not been
// reconfirmed recently, and marks long-unconfirmed claims stale.
package decay

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/fusion"
	"github.com/topolens/verity/internal/locks"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/store"
)

// Report summarizes one decay pass.
type Report struct {
	Scanned     int       `json:"scanned"`
	Decayed     int       `json:"decayed"`
	MarkedStale int       `json:"marked_stale"`
	RanAt       time.Time `json:"ran_at"`
}

// Options overrides parts of the configured decay policy for a single pass.
// Zero values fall back to the configuration.
type Options struct {
	Rate          float64
	DaysThreshold int
}

// Engine applies time-based confidence erosion.
type Engine struct {
	store  store.Store
	fusion config.FusionConfig
	cfg    config.DecayConfig
	locks  *locks.PerKey
	now    func() time.Time
}

// New creates a decay engine. The fusion config supplies the status
// thresholds so decayed claims are reclassified on the same scale fusion
// uses.
func New(st store.Store, fcfg config.FusionConfig, cfg config.DecayConfig, lk *locks.PerKey) *Engine {
	return &Engine{
		store:  st,
		fusion: fcfg,
		cfg:    cfg,
		locks:  lk,
		now:    time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	e.now = fn
	return e
}

// Apply runs one decay pass under the configured policy.
func (e *Engine) Apply(ctx context.Context) (*Report, error) {
	return e.ApplyPolicy(ctx, Options{})
}

// ApplyPolicy runs one decay pass. A claim is eligible when its last
// confirmation is older than the days threshold and it has not already been
// decayed within the same threshold period, so a claim erodes once per
// period no matter how often the pass runs. Each claim is mutated under its
// per-claim lock so a concurrent verification never interleaves with the
// decay write.
func (e *Engine) ApplyPolicy(ctx context.Context, opts Options) (*Report, error) {
	rate := opts.Rate
	if rate <= 0 {
		rate = e.cfg.Rate
	}
	if rate >= 1 {
		return nil, eris.Errorf("decay: rate must be in (0,1), got %v", rate)
	}
	daysThreshold := opts.DaysThreshold
	if daysThreshold <= 0 {
		daysThreshold = e.cfg.DaysThreshold
	}

	now := e.now().UTC()
	period := time.Duration(daysThreshold) * 24 * time.Hour
	confirmedBefore := now.Add(-period)
	decayedBefore := now.Add(-period)

	report := &Report{RanAt: now}
	for {
		claims, err := e.store.ListDecayableClaims(ctx, confirmedBefore, decayedBefore, e.cfg.BatchSize)
		if err != nil {
			return report, eris.Wrap(err, "decay: list claims")
		}
		if len(claims) == 0 {
			break
		}

		for i := range claims {
			if err := ctx.Err(); err != nil {
				return report, eris.Wrap(err, "decay: pass interrupted")
			}
			if err := e.decayOne(ctx, &claims[i], now, rate, period, report); err != nil {
				return report, err
			}
		}

		if len(claims) < e.cfg.BatchSize {
			break
		}
	}

	zap.L().Info("decay: pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("decayed", report.Decayed),
		zap.Int("marked_stale", report.MarkedStale),
	)
	return report, nil
}

func (e *Engine) decayOne(ctx context.Context, c *model.DependencyClaim, now time.Time, rate float64, period time.Duration, report *Report) error {
	key := c.SourceResourceID + "\x00" + c.TargetResourceID
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	report.Scanned++

	// Re-read under the lock; a verification or another decay pass may have
	// just touched it.
	fresh, err := e.store.GetClaim(ctx, c.SourceResourceID, c.TargetResourceID)
	if err != nil {
		return eris.Wrap(err, "decay: reload claim")
	}
	if fresh == nil {
		return nil
	}
	cutoff := now.Add(-period)
	if fresh.LastConfirmedAt != nil && !fresh.LastConfirmedAt.Before(cutoff) {
		return nil
	}
	if fresh.LastDecayAt != nil && !fresh.LastDecayAt.Before(cutoff) {
		return nil
	}

	confidence := fresh.Confidence * (1 - rate)
	status := fusion.Classify(confidence, e.fusion)
	if status == model.ClaimStatusUnverified && e.pastStaleWindow(fresh, now) {
		status = model.ClaimStatusStale
		report.MarkedStale++
	}

	if err := e.store.UpdateClaimDecay(ctx, fresh.ID, confidence, status, now); err != nil {
		return eris.Wrapf(err, "decay: update claim %s", fresh.ID)
	}
	report.Decayed++
	return nil
}

// pastStaleWindow reports whether the claim has gone unconfirmed longer than
// the stale window. Claims never confirmed age from their creation time.
func (e *Engine) pastStaleWindow(c *model.DependencyClaim, now time.Time) bool {
	staleBefore := now.Add(-time.Duration(e.cfg.StaleAfterDays) * 24 * time.Hour)
	anchor := c.CreatedAt
	if c.LastConfirmedAt != nil {
		anchor = *c.LastConfirmedAt
	}
	return anchor.Before(staleBefore)
}

// ListStale returns claims whose last confirmation is older than maxAgeDays,
// oldest first. A non-positive maxAgeDays uses the configured stale window.
func (e *Engine) ListStale(ctx context.Context, maxAgeDays, limit int) ([]model.DependencyClaim, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = e.cfg.StaleAfterDays
	}
	cutoff := e.now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	claims, err := e.store.ListStaleClaims(ctx, cutoff, limit)
	if err != nil {
		return nil, eris.Wrap(err, "decay: list stale claims")
	}
	return claims, nil
}
