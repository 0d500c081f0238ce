package domain

import (
	"context"
	"fmt"
)

// Classifier is the single contractual operation the core requires from an
// inference-capable model: normalized feature vector in, fraud probability
// out. Implementations must be side-effect free from the caller's
// perspective and safe for concurrent use.
type Classifier interface {
	// ScoreProbability returns a fraud probability in [0, 1].
	ScoreProbability(ctx context.Context, vector []float64) (float64, error)
}

// NormalizationModel holds the per-feature affine transform fitted at
// training time. Loaded once at startup, read-only for the process lifetime.
type NormalizationModel struct {
	Version  string    `json:"version"`
	Features []string  `json:"features"`
	Means    []float64 `json:"means"`
	Scales   []float64 `json:"scales"`
}

// Validate checks internal consistency: one (mean, scale) pair per feature
// and no zero scales.
func (m *NormalizationModel) Validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("normalization model has no features")
	}
	if len(m.Means) != len(m.Features) || len(m.Scales) != len(m.Features) {
		return fmt.Errorf("normalization model shape mismatch: %d features, %d means, %d scales",
			len(m.Features), len(m.Means), len(m.Scales))
	}
	for i, s := range m.Scales {
		if s == 0 {
			return fmt.Errorf("normalization model: zero scale for feature %q", m.Features[i])
		}
	}
	return nil
}
