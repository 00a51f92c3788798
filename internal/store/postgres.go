package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/topolens/verity/internal/db"
	"github.com/topolens/verity/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_resource_id TEXT NOT NULL,
	target_resource_id TEXT NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	last_confirmed_at  TIMESTAMPTZ,
	last_decay_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_resource_id, target_resource_id)
);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	claim_id     TEXT NOT NULL REFERENCES claims(id),
	source       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	items        JSONB NOT NULL DEFAULT '[]',
	collected_at TIMESTAMPTZ NOT NULL,
	current      BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	resource_id         TEXT NOT NULL,
	resource_type       TEXT NOT NULL DEFAULT '',
	predicted_at        TIMESTAMPTZ NOT NULL,
	probability         DOUBLE PRECISION NOT NULL,
	declared_confidence TEXT NOT NULL,
	outcome             TEXT NOT NULL DEFAULT 'pending',
	validated_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS calibration_reports (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	window_start    TIMESTAMPTZ NOT NULL,
	window_end      TIMESTAMPTZ NOT NULL,
	generated_at    TIMESTAMPTZ NOT NULL,
	recommendations JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_last_confirmed ON claims(last_confirmed_at);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_evidence_claim ON evidence(claim_id, current);
CREATE INDEX IF NOT EXISTS idx_predictions_outcome ON predictions(outcome, predicted_at);
CREATE INDEX IF NOT EXISTS idx_predictions_validated ON predictions(validated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, sourceID, targetID string) (*model.DependencyClaim, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims WHERE source_resource_id = $1 AND target_resource_id = $2`,
		sourceID, targetID,
	)

	c, err := scanPgClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get claim")
	}

	if err := s.loadEvidence(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) CreateClaim(ctx context.Context, c *model.DependencyClaim) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ClaimStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO claims (id, source_resource_id, target_resource_id, confidence, status, last_confirmed_at, last_decay_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SourceResourceID, c.TargetResourceID, c.Confidence, string(c.Status),
		c.LastConfirmedAt, c.LastDecayAt, now, now,
	)
	return eris.Wrapf(err, "postgres: insert claim %s->%s", c.SourceResourceID, c.TargetResourceID)
}

func (s *PostgresStore) UpdateClaimFusion(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, confirmedAt *time.Time, evidence []model.EvidenceRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin fusion update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var tag pgconn.CommandTag
	if confirmedAt != nil {
		tag, err = tx.Exec(ctx,
			`UPDATE claims SET confidence = $1, status = $2, last_confirmed_at = $3, updated_at = now() WHERE id = $4`,
			confidence, string(status), confirmedAt.UTC(), claimID,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE claims SET confidence = $1, status = $2, updated_at = now() WHERE id = $3`,
			confidence, string(status), claimID,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update claim %s", claimID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("claim not found: %s", claimID)
	}

	for _, rec := range evidence {
		if _, err := tx.Exec(ctx,
			`UPDATE evidence SET current = false WHERE claim_id = $1 AND source = $2 AND current`,
			claimID, string(rec.Source),
		); err != nil {
			return eris.Wrapf(err, "postgres: supersede evidence %s/%s", claimID, rec.Source)
		}

		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		itemsJSON, err := json.Marshal(rec.Items)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal evidence items")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO evidence (id, claim_id, source, confidence, items, collected_at, current) VALUES ($1, $2, $3, $4, $5, $6, true)`,
			id, claimID, string(rec.Source), rec.Confidence, string(itemsJSON), rec.CollectedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert evidence %s/%s", claimID, rec.Source)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit fusion update")
}

func (s *PostgresStore) UpdateClaimDecay(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, decayedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claims SET confidence = $1, status = $2, last_decay_at = $3, updated_at = now() WHERE id = $4`,
		confidence, string(status), decayedAt.UTC(), claimID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: decay claim %s", claimID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("claim not found: %s", claimID)
	}
	return nil
}

func (s *PostgresStore) ListDecayableClaims(ctx context.Context, confirmedBefore, decayedBefore time.Time, limit int) ([]model.DependencyClaim, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims
		 WHERE (last_confirmed_at IS NULL OR last_confirmed_at < $1)
		   AND (last_decay_at IS NULL OR last_decay_at < $2)
		 ORDER BY last_confirmed_at ASC NULLS FIRST
		 LIMIT $3`,
		confirmedBefore.UTC(), decayedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decayable claims")
	}
	defer rows.Close()
	return collectPgClaims(rows)
}

func (s *PostgresStore) ListStaleClaims(ctx context.Context, confirmedBefore time.Time, limit int) ([]model.DependencyClaim, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims
		 WHERE last_confirmed_at IS NULL OR last_confirmed_at < $1
		 ORDER BY last_confirmed_at ASC NULLS FIRST
		 LIMIT $2`,
		confirmedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale claims")
	}
	defer rows.Close()
	return collectPgClaims(rows)
}

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Outcome == "" {
		p.Outcome = model.OutcomePending
	}
	if p.PredictedAt.IsZero() {
		p.PredictedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO predictions (id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ResourceID, p.ResourceType, p.PredictedAt.UTC(), p.PredictedProbability,
		string(p.DeclaredConfidence), string(p.Outcome), p.ValidatedAt,
	)
	return eris.Wrapf(err, "postgres: insert prediction %s", p.ID)
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions WHERE id = $1`,
		id,
	)
	p, err := scanPgPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prediction %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ResolvePrediction(ctx context.Context, id string, outcome model.Outcome, validatedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET outcome = $1, validated_at = $2 WHERE id = $3 AND outcome = 'pending'`,
		string(outcome), validatedAt.UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: resolve prediction %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListPendingPredictions(ctx context.Context, predictedBefore time.Time, limit int) ([]model.Prediction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions
		 WHERE outcome = 'pending' AND predicted_at < $1
		 ORDER BY predicted_at ASC
		 LIMIT $2`,
		predictedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending predictions")
	}
	defer rows.Close()
	return collectPgPredictions(rows)
}

func (s *PostgresStore) ListValidatedPredictions(ctx context.Context, start, end time.Time) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions
		 WHERE validated_at IS NOT NULL AND validated_at >= $1 AND validated_at <= $2
		 ORDER BY validated_at ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list validated predictions")
	}
	defer rows.Close()
	return collectPgPredictions(rows)
}

func (s *PostgresStore) SaveCalibrationReport(ctx context.Context, windowStart, windowEnd time.Time, recs []model.CalibrationRecommendation) error {
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal calibration report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO calibration_reports (id, window_start, window_end, generated_at, recommendations) VALUES ($1, $2, $3, now(), $4)`,
		uuid.New().String(), windowStart.UTC(), windowEnd.UTC(), string(recsJSON),
	)
	return eris.Wrap(err, "postgres: save calibration report")
}

func (s *PostgresStore) loadEvidence(ctx context.Context, c *model.DependencyClaim) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, confidence, items, collected_at FROM evidence
		 WHERE claim_id = $1 AND current
		 ORDER BY collected_at ASC`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load evidence %s", c.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.EvidenceRecord
		var itemsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Confidence, &itemsJSON, &rec.CollectedAt); err != nil {
			return eris.Wrap(err, "postgres: scan evidence")
		}
		if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
			return eris.Wrap(err, "postgres: unmarshal evidence items")
		}
		c.Evidence = append(c.Evidence, rec)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate evidence")
}

func scanPgClaim(row pgx.Row) (*model.DependencyClaim, error) {
	var c model.DependencyClaim
	err := row.Scan(&c.ID, &c.SourceResourceID, &c.TargetResourceID, &c.Confidence, &c.Status,
		&c.LastConfirmedAt, &c.LastDecayAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectPgClaims(rows pgx.Rows) ([]model.DependencyClaim, error) {
	var claims []model.DependencyClaim
	for rows.Next() {
		c, err := scanPgClaim(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		claims = append(claims, *c)
	}
	return claims, eris.Wrap(rows.Err(), "postgres: iterate claims")
}

func scanPgPrediction(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	err := row.Scan(&p.ID, &p.ResourceID, &p.ResourceType, &p.PredictedAt, &p.PredictedProbability,
		&p.DeclaredConfidence, &p.Outcome, &p.ValidatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPgPredictions(rows pgx.Rows) ([]model.Prediction, error) {
	var preds []model.Prediction
	for rows.Next() {
		p, err := scanPgPrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction")
		}
		preds = append(preds, *p)
	}
	return preds, eris.Wrap(rows.Err(), "postgres: iterate predictions")
}
