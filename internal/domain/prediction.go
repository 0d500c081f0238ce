package domain

import (
	"time"
)

// PredictionResult is the outcome of scoring one transaction.
type PredictionResult struct {
	TransactionID string `json:"transaction_id"`

	// 1 if FraudProbability >= threshold at scoring time, else 0.
	// The boundary is inclusive: probability == threshold is fraud.
	IsFraud int `json:"is_fraud"`

	FraudProbability float64 `json:"fraud_probability"`

	// Version of the normalization/classifier model pair that produced
	// this result. The model feature order is versioned alongside it.
	ModelVersion string `json:"model_version,omitempty"`

	// Reasons attached by screening rules, if any. Screening never alters
	// the verdict or probability.
	Reasons []string `json:"reasons,omitempty"`

	ScoredAt time.Time `json:"scored_at"`
}

// Alert kinds raised by the alert evaluator.
const (
	AlertHighFraudRate = "HIGH_FRAUD_RATE"
)

// Alert records a detection-rate threshold breach.
type Alert struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	ObservedRate float64   `json:"observed_rate"`
	Threshold    float64   `json:"threshold"`
	Timestamp    time.Time `json:"timestamp"`
}
