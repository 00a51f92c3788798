package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/topolens/verity/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id                 TEXT PRIMARY KEY,
	source_resource_id TEXT NOT NULL,
	target_resource_id TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	last_confirmed_at  DATETIME,
	last_decay_at      DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source_resource_id, target_resource_id)
);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	claim_id     TEXT NOT NULL REFERENCES claims(id),
	source       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	items        TEXT NOT NULL DEFAULT '[]',
	collected_at DATETIME NOT NULL,
	current      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	resource_id         TEXT NOT NULL,
	resource_type       TEXT NOT NULL DEFAULT '',
	predicted_at        DATETIME NOT NULL,
	probability         REAL NOT NULL,
	declared_confidence TEXT NOT NULL,
	outcome             TEXT NOT NULL DEFAULT 'pending',
	validated_at        DATETIME
);

CREATE TABLE IF NOT EXISTS calibration_reports (
	id              TEXT PRIMARY KEY,
	window_start    DATETIME NOT NULL,
	window_end      DATETIME NOT NULL,
	generated_at    DATETIME NOT NULL,
	recommendations TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_last_confirmed ON claims(last_confirmed_at);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_evidence_claim ON evidence(claim_id, current);
CREATE INDEX IF NOT EXISTS idx_predictions_outcome ON predictions(outcome, predicted_at);
CREATE INDEX IF NOT EXISTS idx_predictions_validated ON predictions(validated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetClaim(ctx context.Context, sourceID, targetID string) (*model.DependencyClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims WHERE source_resource_id = ? AND target_resource_id = ?`,
		sourceID, targetID,
	)

	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get claim")
	}

	if err := s.loadEvidence(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c *model.DependencyClaim) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ClaimStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, source_resource_id, target_resource_id, confidence, status, last_confirmed_at, last_decay_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceResourceID, c.TargetResourceID, c.Confidence, string(c.Status),
		c.LastConfirmedAt, c.LastDecayAt, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert claim %s->%s", c.SourceResourceID, c.TargetResourceID)
}

// UpdateClaimFusion applies a fusion result: new evidence records supersede
// the claim's current record for the same source, prior records stay in
// history.
func (s *SQLiteStore) UpdateClaimFusion(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, confirmedAt *time.Time, evidence []model.EvidenceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin fusion update")
	}
	defer tx.Rollback() //nolint:errcheck

	var res sql.Result
	if confirmedAt != nil {
		res, err = tx.ExecContext(ctx,
			`UPDATE claims SET confidence = ?, status = ?, last_confirmed_at = ?, updated_at = ? WHERE id = ?`,
			confidence, string(status), confirmedAt.UTC(), time.Now().UTC(), claimID,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE claims SET confidence = ?, status = ?, updated_at = ? WHERE id = ?`,
			confidence, string(status), time.Now().UTC(), claimID,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update claim %s", claimID)
	}
	if err := checkRowsAffected(res, "claim", claimID); err != nil {
		return err
	}

	for _, rec := range evidence {
		if _, err := tx.ExecContext(ctx,
			`UPDATE evidence SET current = 0 WHERE claim_id = ? AND source = ? AND current = 1`,
			claimID, string(rec.Source),
		); err != nil {
			return eris.Wrapf(err, "sqlite: supersede evidence %s/%s", claimID, rec.Source)
		}

		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		itemsJSON, err := json.Marshal(rec.Items)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal evidence items")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evidence (id, claim_id, source, confidence, items, collected_at, current) VALUES (?, ?, ?, ?, ?, ?, 1)`,
			id, claimID, string(rec.Source), rec.Confidence, string(itemsJSON), rec.CollectedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert evidence %s/%s", claimID, rec.Source)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit fusion update")
}

func (s *SQLiteStore) UpdateClaimDecay(ctx context.Context, claimID string, confidence float64, status model.ClaimStatus, decayedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claims SET confidence = ?, status = ?, last_decay_at = ?, updated_at = ? WHERE id = ?`,
		confidence, string(status), decayedAt.UTC(), time.Now().UTC(), claimID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: decay claim %s", claimID)
	}
	return checkRowsAffected(res, "claim", claimID)
}

func (s *SQLiteStore) ListDecayableClaims(ctx context.Context, confirmedBefore, decayedBefore time.Time, limit int) ([]model.DependencyClaim, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims
		 WHERE (last_confirmed_at IS NULL OR last_confirmed_at < ?)
		   AND (last_decay_at IS NULL OR last_decay_at < ?)
		 ORDER BY last_confirmed_at ASC
		 LIMIT ?`,
		confirmedBefore.UTC(), decayedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decayable claims")
	}
	defer rows.Close()
	return collectClaims(rows)
}

func (s *SQLiteStore) ListStaleClaims(ctx context.Context, confirmedBefore time.Time, limit int) ([]model.DependencyClaim, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_resource_id, target_resource_id, confidence, status,
		        last_confirmed_at, last_decay_at, created_at, updated_at
		 FROM claims
		 WHERE last_confirmed_at IS NULL OR last_confirmed_at < ?
		 ORDER BY last_confirmed_at ASC
		 LIMIT ?`,
		confirmedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale claims")
	}
	defer rows.Close()
	return collectClaims(rows)
}

func (s *SQLiteStore) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Outcome == "" {
		p.Outcome = model.OutcomePending
	}
	if p.PredictedAt.IsZero() {
		p.PredictedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ResourceID, p.ResourceType, p.PredictedAt.UTC(), p.PredictedProbability,
		string(p.DeclaredConfidence), string(p.Outcome), p.ValidatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert prediction %s", p.ID)
}

func (s *SQLiteStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions WHERE id = ?`,
		id,
	)
	p, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prediction %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) ResolvePrediction(ctx context.Context, id string, outcome model.Outcome, validatedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET outcome = ?, validated_at = ? WHERE id = ? AND outcome = 'pending'`,
		string(outcome), validatedAt.UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: resolve prediction %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListPendingPredictions(ctx context.Context, predictedBefore time.Time, limit int) ([]model.Prediction, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions
		 WHERE outcome = 'pending' AND predicted_at < ?
		 ORDER BY predicted_at ASC
		 LIMIT ?`,
		predictedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending predictions")
	}
	defer rows.Close()
	return collectPredictions(rows)
}

func (s *SQLiteStore) ListValidatedPredictions(ctx context.Context, start, end time.Time) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, resource_id, resource_type, predicted_at, probability, declared_confidence, outcome, validated_at
		 FROM predictions
		 WHERE validated_at IS NOT NULL AND validated_at >= ? AND validated_at <= ?
		 ORDER BY validated_at ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list validated predictions")
	}
	defer rows.Close()
	return collectPredictions(rows)
}

func (s *SQLiteStore) SaveCalibrationReport(ctx context.Context, windowStart, windowEnd time.Time, recs []model.CalibrationRecommendation) error {
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal calibration report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calibration_reports (id, window_start, window_end, generated_at, recommendations) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), windowStart.UTC(), windowEnd.UTC(), time.Now().UTC(), string(recsJSON),
	)
	return eris.Wrap(err, "sqlite: save calibration report")
}

// loadEvidence attaches the claim's current evidence records, oldest first.
func (s *SQLiteStore) loadEvidence(ctx context.Context, c *model.DependencyClaim) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, confidence, items, collected_at FROM evidence
		 WHERE claim_id = ? AND current = 1
		 ORDER BY collected_at ASC`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load evidence %s", c.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.EvidenceRecord
		var itemsJSON string
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Confidence, &itemsJSON, &rec.CollectedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan evidence")
		}
		if err := json.Unmarshal([]byte(itemsJSON), &rec.Items); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal evidence items")
		}
		c.Evidence = append(c.Evidence, rec)
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate evidence")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanClaim(row scannable) (*model.DependencyClaim, error) {
	var c model.DependencyClaim
	var confirmed, decayed sql.NullTime
	err := row.Scan(&c.ID, &c.SourceResourceID, &c.TargetResourceID, &c.Confidence, &c.Status,
		&confirmed, &decayed, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if confirmed.Valid {
		t := confirmed.Time
		c.LastConfirmedAt = &t
	}
	if decayed.Valid {
		t := decayed.Time
		c.LastDecayAt = &t
	}
	return &c, nil
}

func collectClaims(rows *sql.Rows) ([]model.DependencyClaim, error) {
	var claims []model.DependencyClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim")
		}
		claims = append(claims, *c)
	}
	return claims, eris.Wrap(rows.Err(), "sqlite: iterate claims")
}

func scanPrediction(row scannable) (*model.Prediction, error) {
	var p model.Prediction
	var validated sql.NullTime
	err := row.Scan(&p.ID, &p.ResourceID, &p.ResourceType, &p.PredictedAt, &p.PredictedProbability,
		&p.DeclaredConfidence, &p.Outcome, &validated)
	if err != nil {
		return nil, err
	}
	if validated.Valid {
		t := validated.Time
		p.ValidatedAt = &t
	}
	return &p, nil
}

func collectPredictions(rows *sql.Rows) ([]model.Prediction, error) {
	var preds []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		preds = append(preds, *p)
	}
	return preds, eris.Wrap(rows.Err(), "sqlite: iterate predictions")
}
