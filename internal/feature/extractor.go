// Package feature derives the numeric feature vector a transaction is
// scored on, and normalizes it into the layout the classifier was trained
// against.
package feature

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// eps guards the divisions below against zero means and zero deviations.
// Negligible relative to realistic amount scales.
const eps = 1e-5

// FeatureSet is the full named feature set derived from one transaction.
// Only the subset listed in ModelFeatureOrder is fed to the classifier; the
// rest are extractor-level conveniences.
type FeatureSet struct {
	// Temporal
	Hour       float64
	DayOfWeek  float64 // Monday = 0
	IsWeekend  float64
	IsNight    float64
	DayOfMonth float64

	// Amount
	Amount           float64
	AmountLog        float64
	AmountNormalized float64
	AmountDeviation  float64

	// Frequency
	Transactions1h  float64
	Transactions24h float64
	AvgTxnPerHour   float64

	// Categorical / risk
	CardPresent  float64
	TypeCode     float64
	LocationRisk float64
}

// Extractor is a pure transformation from (transaction, history) to a
// FeatureSet. No I/O, deterministic given identical inputs.
type Extractor struct {
	typeCodes map[string]float64
	highRisk  map[string]struct{}
}

// NewExtractor creates an extractor with the given transaction-type codes
// and high-risk location set. Nil typeCodes falls back to the default
// enumeration the model was trained against.
func NewExtractor(typeCodes map[string]float64, highRiskLocations []string) *Extractor {
	if typeCodes == nil {
		typeCodes = domain.DefaultTypeCodes()
	}
	codes := make(map[string]float64, len(typeCodes))
	for k, v := range typeCodes {
		codes[strings.ToLower(k)] = v
	}

	risk := make(map[string]struct{}, len(highRiskLocations))
	for _, loc := range highRiskLocations {
		risk[loc] = struct{}{}
	}

	return &Extractor{
		typeCodes: codes,
		highRisk:  risk,
	}
}

// Extract derives the feature set for a transaction against its customer
// history. Fails with domain.ErrInvalidTimestamp if the timestamp cannot be
// parsed.
func (e *Extractor) Extract(tx *domain.Transaction, hist *domain.CustomerHistory) (*FeatureSet, error) {
	ts, err := domain.ParseTimestamp(tx.Timestamp)
	if err != nil {
		return nil, err
	}

	fs := &FeatureSet{}

	// Temporal
	hour := float64(ts.Hour())
	day := float64((int(ts.Weekday()) + 6) % 7) // Monday = 0
	fs.Hour = hour
	fs.DayOfWeek = day
	if day >= 5 {
		fs.IsWeekend = 1
	}
	if hour >= 22 || hour <= 5 {
		fs.IsNight = 1
	}
	fs.DayOfMonth = float64(ts.Day())

	// Amount. An empty history is treated as the single-sample [amount]:
	// the deviation is a defined 0 and no division hits zero.
	amounts := hist.Amounts
	if len(amounts) == 0 {
		amounts = []float64{tx.Amount}
	}
	histMean := mean(amounts)
	histStd := stddev(amounts, histMean)

	fs.Amount = tx.Amount
	fs.AmountLog = math.Log1p(tx.Amount)
	fs.AmountNormalized = tx.Amount / (histMean + eps)
	fs.AmountDeviation = math.Abs(tx.Amount-histMean) / (histStd + eps)

	// Frequency: counts are passed through from the history, not recomputed.
	fs.Transactions1h = float64(hist.Transactions1h)
	fs.Transactions24h = float64(hist.Transactions24h)
	fs.AvgTxnPerHour = float64(hist.Transactions24h) / 24

	// Categorical / risk
	if tx.CardPresent {
		fs.CardPresent = 1
	}
	fs.TypeCode = e.typeCodes[strings.ToLower(tx.Type)]
	if _, ok := e.highRisk[tx.Location]; ok {
		fs.LocationRisk = 1
	}

	return fs, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation, matching the statistics the
// normalization model was fitted with.
func stddev(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
