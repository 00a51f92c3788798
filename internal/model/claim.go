package model

import "time"

// SourceKind identifies a telemetry backend that can supply evidence.
type SourceKind string

const (
	SourceInfrastructure SourceKind = "infrastructure"
	SourcePipelineConfig SourceKind = "pipeline_config"
	SourceTrace          SourceKind = "trace"
	SourceMetrics        SourceKind = "metrics"
)

// AllSourceKinds lists every configured evidence source, in fusion order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceInfrastructure, SourcePipelineConfig, SourceTrace, SourceMetrics}
}

// ValidSourceKind reports whether s is a known source kind.
func ValidSourceKind(s SourceKind) bool {
	switch s {
	case SourceInfrastructure, SourcePipelineConfig, SourceTrace, SourceMetrics:
		return true
	}
	return false
}

// ClaimStatus represents the trust classification of a dependency claim.
type ClaimStatus string

const (
	ClaimStatusPending     ClaimStatus = "pending"
	ClaimStatusVerified    ClaimStatus = "verified"
	ClaimStatusNeedsReview ClaimStatus = "needs_review"
	ClaimStatusUnverified  ClaimStatus = "unverified"
	ClaimStatusStale       ClaimStatus = "stale"
)

// EvidenceRecord is a single source-attributed observation supporting a
// dependency claim. Records are immutable once collected; a claim holds at
// most one current record per source kind, older records are retained in
// history for audit.
type EvidenceRecord struct {
	ID          string     `json:"id"`
	Source      SourceKind `json:"source"`
	Confidence  float64    `json:"confidence"`
	Items       []string   `json:"items,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
}

// DependencyClaim is an asserted dependency edge between two resources,
// uniquely keyed by (SourceResourceID, TargetResourceID). Confidence is the
// last value written by fusion or decay; Status follows from Confidence.
// Claims are never hard-deleted — low-confidence claims are marked stale or
// unverified and retained.
type DependencyClaim struct {
	ID               string           `json:"id"`
	SourceResourceID string           `json:"source_resource_id"`
	TargetResourceID string           `json:"target_resource_id"`
	Confidence       float64          `json:"confidence"`
	Status           ClaimStatus      `json:"status"`
	LastConfirmedAt  *time.Time       `json:"last_confirmed_at,omitempty"`
	LastDecayAt      *time.Time       `json:"last_decay_at,omitempty"`
	Evidence         []EvidenceRecord `json:"evidence,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EvidenceFor returns the current evidence record for the given source, or
// nil if the claim has none.
func (c *DependencyClaim) EvidenceFor(kind SourceKind) *EvidenceRecord {
	for i := range c.Evidence {
		if c.Evidence[i].Source == kind {
			return &c.Evidence[i]
		}
	}
	return nil
}

// VerificationResult is the outcome of a fusion pass over one claim.
// VerificationScore is the weight-normalized mean of per-source scores;
// OverallConfidence applies the corroboration multiplier on top of it.
type VerificationResult struct {
	SourceResourceID    string           `json:"source_resource_id"`
	TargetResourceID    string           `json:"target_resource_id"`
	IsVerified          bool             `json:"is_verified"`
	OverallConfidence   float64          `json:"overall_confidence"`
	VerificationScore   float64          `json:"verification_score"`
	Status              ClaimStatus      `json:"status"`
	SourcesWithEvidence int              `json:"sources_with_evidence"`
	Evidence            []EvidenceRecord `json:"evidence,omitempty"`
	VerifiedAt          time.Time        `json:"verified_at"`
}

// HealthState is the observed condition of a resource as reported by the
// platform's health source.
type HealthState string

const (
	HealthFailed  HealthState = "failed"
	HealthHealthy HealthState = "healthy"
	HealthUnknown HealthState = "unknown"
)
