package model

import "time"

// DeclaredConfidence is the confidence band the predictor attached to its
// own prediction at submission time.
type DeclaredConfidence string

const (
	ConfidenceLow    DeclaredConfidence = "low"
	ConfidenceMedium DeclaredConfidence = "medium"
	ConfidenceHigh   DeclaredConfidence = "high"
)

// ValidDeclaredConfidence reports whether d is a known confidence band.
func ValidDeclaredConfidence(d DeclaredConfidence) bool {
	switch d {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Outcome classifies a validated prediction against observed reality.
type Outcome string

const (
	OutcomePending       Outcome = "pending"
	OutcomeTruePositive  Outcome = "true_positive"
	OutcomeTrueNegative  Outcome = "true_negative"
	OutcomeFalsePositive Outcome = "false_positive"
	OutcomeFalseNegative Outcome = "false_negative"
)

// Terminal reports whether the outcome is a final classification.
func (o Outcome) Terminal() bool {
	return o != OutcomePending && o != ""
}

// Prediction is a recorded failure/risk prediction awaiting or holding a
// validated outcome. Created pending, resolved exactly once by validation,
// never mutated thereafter.
type Prediction struct {
	ID                   string             `json:"id"`
	ResourceID           string             `json:"resource_id"`
	ResourceType         string             `json:"resource_type,omitempty"`
	PredictedAt          time.Time          `json:"predicted_at"`
	PredictedProbability float64            `json:"predicted_probability"`
	DeclaredConfidence   DeclaredConfidence `json:"declared_confidence"`
	Outcome              Outcome            `json:"outcome"`
	ValidatedAt          *time.Time         `json:"validated_at,omitempty"`
}

// AccuracyMetrics holds classification metrics derived from validated
// predictions within a window. Recomputed on demand, never the source of
// truth.
type AccuracyMetrics struct {
	Precision      float64   `json:"precision"`
	Recall         float64   `json:"recall"`
	F1             float64   `json:"f1"`
	Accuracy       float64   `json:"accuracy"`
	SampleCount    int       `json:"sample_count"`
	TruePositives  int       `json:"true_positives"`
	FalsePositives int       `json:"false_positives"`
	TrueNegatives  int       `json:"true_negatives"`
	FalseNegatives int       `json:"false_negatives"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}
