package feature

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ModelFeatureOrder is the stable, versioned layout the classifier expects.
// The same logical feature always occupies the same index; any change here
// must ship with a retrained model.
var ModelFeatureOrder = []string{
	"amount",
	"amount_log",
	"transactions_1h",
	"transactions_24h",
	"card_present",
	"hour",
	"is_weekend",
	"amount_deviation",
}

// Normalizer applies the pre-fitted (x - mean) / scale transform and
// produces the exact input layout the classifier was trained on. The model
// is read-only after construction.
type Normalizer struct {
	model *domain.NormalizationModel
}

// NewNormalizer creates a normalizer over a fitted model. The model's
// feature order must match ModelFeatureOrder exactly; a mismatch means the
// model was trained against a different feature contract.
func NewNormalizer(model *domain.NormalizationModel) (*Normalizer, error) {
	if model == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if len(model.Features) != len(ModelFeatureOrder) {
		return nil, fmt.Errorf("normalization model expects %d features, engine provides %d",
			len(model.Features), len(ModelFeatureOrder))
	}
	for i, name := range ModelFeatureOrder {
		if model.Features[i] != name {
			return nil, fmt.Errorf("normalization model feature %d is %q, expected %q",
				i, model.Features[i], name)
		}
	}
	return &Normalizer{model: model}, nil
}

// ModelVersion returns the version of the loaded model.
func (n *Normalizer) ModelVersion() string {
	if n == nil || n.model == nil {
		return ""
	}
	return n.model.Version
}

// Normalize selects the model features in ModelFeatureOrder and rescales
// each as (x - mean) / scale. Fails with domain.ErrModelNotLoaded if the
// normalizer has no model.
func (n *Normalizer) Normalize(fs *FeatureSet) ([]float64, error) {
	if n == nil || n.model == nil {
		return nil, domain.ErrModelNotLoaded
	}

	raw := []float64{
		fs.Amount,
		fs.AmountLog,
		fs.Transactions1h,
		fs.Transactions24h,
		fs.CardPresent,
		fs.Hour,
		fs.IsWeekend,
		fs.AmountDeviation,
	}

	vector := make([]float64, len(raw))
	for i, x := range raw {
		vector[i] = (x - n.model.Means[i]) / n.model.Scales[i]
	}
	return vector, nil
}
