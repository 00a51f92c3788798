package fusion

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/topolens/verity/internal/config"
	"github.com/topolens/verity/internal/locks"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/source"
	"github.com/topolens/verity/internal/store"
)

// Engine cross-checks a dependency claim against every configured evidence
// source and persists the fused verdict.
type Engine struct {
	store    store.Store
	registry *source.Registry
	cfg      config.FusionConfig
	locks    *locks.PerKey
	now      func() time.Time
}

// NewEngine creates a fusion engine.
func NewEngine(st store.Store, registry *source.Registry, cfg config.FusionConfig, lk *locks.PerKey) *Engine {
	return &Engine{
		store:    st,
		registry: registry,
		cfg:      cfg,
		locks:    lk,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	e.now = fn
	return e
}

// Verify runs a full verification pass for the dependency from sourceID to
// targetID using the configured evidence lookback window.
func (e *Engine) Verify(ctx context.Context, sourceID, targetID string) (*model.VerificationResult, error) {
	return e.VerifyWindow(ctx, sourceID, targetID, 0)
}

// VerifyWindow runs a full verification pass: evidence is gathered from all
// adapters concurrently over the given lookback window, fused, and the claim
// updated. A non-positive window falls back to the configured one. Adapter
// failures degrade to absent evidence and never abort the pass. The
// per-claim lock is taken only to apply the computed update, never across
// adapter I/O.
func (e *Engine) VerifyWindow(ctx context.Context, sourceID, targetID string, window time.Duration) (*model.VerificationResult, error) {
	if window <= 0 {
		window = e.cfg.EvidenceWindow()
	}
	now := e.now().UTC()
	fresh := e.gatherEvidence(ctx, sourceID, targetID, window)

	score, overall, sources := Fuse(fresh, e.cfg)
	status := Classify(overall, e.cfg)

	key := claimKey(sourceID, targetID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	claim, err := e.store.GetClaim(ctx, sourceID, targetID)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: load claim")
	}
	if claim == nil {
		claim = &model.DependencyClaim{
			SourceResourceID: sourceID,
			TargetResourceID: targetID,
			Status:           model.ClaimStatusPending,
		}
		if err := e.store.CreateClaim(ctx, claim); err != nil {
			return nil, eris.Wrap(err, "fusion: create claim")
		}
	}

	var confirmedAt *time.Time
	if sources > 0 {
		confirmedAt = &now
	}
	if err := e.store.UpdateClaimFusion(ctx, claim.ID, overall, status, confirmedAt, fresh); err != nil {
		return nil, eris.Wrap(err, "fusion: persist verdict")
	}

	zap.L().Info("fusion: verification complete",
		zap.String("source", sourceID),
		zap.String("target", targetID),
		zap.Int("sources_with_evidence", sources),
		zap.Float64("overall_confidence", overall),
		zap.String("status", string(status)),
	)

	return &model.VerificationResult{
		SourceResourceID:    sourceID,
		TargetResourceID:    targetID,
		IsVerified:          status == model.ClaimStatusVerified,
		OverallConfidence:   overall,
		VerificationScore:   score,
		Status:              status,
		SourcesWithEvidence: sources,
		Evidence:            mergeEvidence(claim.Evidence, fresh),
		VerifiedAt:          now,
	}, nil
}

// gatherEvidence queries every registered adapter concurrently, bounded by
// the per-verification timeout. A source that errors or times out simply
// contributes nothing.
func (e *Engine) gatherEvidence(ctx context.Context, sourceID, targetID string, window time.Duration) []model.EvidenceRecord {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout())
	defer cancel()

	var (
		mu     sync.Mutex
		byKind = make(map[model.SourceKind]model.EvidenceRecord)
	)

	g, gCtx := errgroup.WithContext(fetchCtx)
	for _, adapter := range e.registry.All() {
		g.Go(func() error {
			rec, err := adapter.FetchEvidence(gCtx, sourceID, targetID, window)
			if err != nil {
				if source.IsUnavailable(err) {
					zap.L().Warn("fusion: source unavailable, treating as no evidence",
						zap.String("source", string(adapter.Kind())),
						zap.Error(err),
					)
				} else {
					zap.L().Warn("fusion: adapter error, treating as no evidence",
						zap.String("source", string(adapter.Kind())),
						zap.Error(err),
					)
				}
				return nil
			}
			if rec != nil {
				mu.Lock()
				byKind[adapter.Kind()] = *rec
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Stable source order keeps fusion deterministic and evidence readable.
	var records []model.EvidenceRecord
	for _, kind := range model.AllSourceKinds() {
		if rec, ok := byKind[kind]; ok {
			records = append(records, rec)
		}
	}
	return records
}

// mergeEvidence overlays this pass's records onto the claim's prior current
// records; sources that did not report this pass keep their prior record.
func mergeEvidence(prior, fresh []model.EvidenceRecord) []model.EvidenceRecord {
	byKind := make(map[model.SourceKind]model.EvidenceRecord, len(prior)+len(fresh))
	for _, rec := range prior {
		byKind[rec.Source] = rec
	}
	for _, rec := range fresh {
		byKind[rec.Source] = rec
	}

	var merged []model.EvidenceRecord
	for _, kind := range model.AllSourceKinds() {
		if rec, ok := byKind[kind]; ok {
			merged = append(merged, rec)
		}
	}
	return merged
}

func claimKey(sourceID, targetID string) string {
	return sourceID + "\x00" + targetID
}
