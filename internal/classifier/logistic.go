package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Logistic is a logistic-regression classifier over the normalized feature
// vector. Weights and bias are fitted offline and loaded once; the model is
// read-only and safe for concurrent use.
type Logistic struct {
	version string
	weights []float64
	bias    float64
}

// logisticFile is the on-disk JSON layout of a fitted logistic model.
type logisticFile struct {
	Version string    `json:"version"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// NewLogistic creates a logistic classifier from fitted parameters.
func NewLogistic(version string, weights []float64, bias float64) (*Logistic, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("logistic model has no weights")
	}
	return &Logistic{
		version: version,
		weights: append([]float64(nil), weights...),
		bias:    bias,
	}, nil
}

// LoadLogistic reads a fitted logistic model from a JSON file.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier model: %w", err)
	}

	var file logisticFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse classifier model %s: %w", path, err)
	}
	return NewLogistic(file.Version, file.Weights, file.Bias)
}

// Version returns the model version.
func (l *Logistic) Version() string {
	return l.version
}

// ScoreProbability implements domain.Classifier: sigmoid(w·x + b).
// Rejects vectors whose dimension does not match the fitted weights.
func (l *Logistic) ScoreProbability(ctx context.Context, vector []float64) (float64, error) {
	if len(vector) != len(l.weights) {
		return 0, fmt.Errorf("feature vector has %d dimensions, model expects %d",
			len(vector), len(l.weights))
	}

	z := l.bias
	for i, w := range l.weights {
		z += w * vector[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}
