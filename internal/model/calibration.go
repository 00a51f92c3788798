package model

import "time"

// Severity grades how far a calibration metric has drifted from its
// threshold.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// CalibrationRecommendation is a suggested threshold or configuration change
// surfaced to operators. Generated, never mutated, never auto-applied.
type CalibrationRecommendation struct {
	Metric              string    `json:"metric"`
	Scope               string    `json:"scope"`
	CurrentValue        float64   `json:"current_value"`
	Threshold           float64   `json:"threshold"`
	SuggestedAdjustment string    `json:"suggested_adjustment"`
	Rationale           string    `json:"rationale"`
	Severity            Severity  `json:"severity"`
	GeneratedAt         time.Time `json:"generated_at"`
}
