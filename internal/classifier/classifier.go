// Package classifier provides concrete implementations of the classifier
// port and loading of fitted model artifacts.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Func adapts a plain function to domain.Classifier. Used for deterministic
// stubs in tests and for wrapping external inference clients.
type Func func(ctx context.Context, vector []float64) (float64, error)

// ScoreProbability implements domain.Classifier.
func (f Func) ScoreProbability(ctx context.Context, vector []float64) (float64, error) {
	return f(ctx, vector)
}

// Fixed returns a classifier that always reports the given probability.
func Fixed(probability float64) domain.Classifier {
	return Func(func(ctx context.Context, vector []float64) (float64, error) {
		return probability, nil
	})
}

// LoadNormalizationModel reads a fitted normalization model from a JSON
// file exported at training time.
func LoadNormalizationModel(path string) (*domain.NormalizationModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalization model: %w", err)
	}

	var model domain.NormalizationModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse normalization model %s: %w", path, err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalization model %s: %w", path, err)
	}
	return &model, nil
}
