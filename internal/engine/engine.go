// Package engine implements the fraud decision engine: feature extraction,
// normalization, classification, and the final fraud verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/screen"
)

const (
	defaultThreshold         = 0.5
	defaultClassifierTimeout = 200 * time.Millisecond
	defaultBatchWorkers      = 8
	defaultPredictionTTL     = time.Hour
)

// HistoryProvider supplies a customer's recent transaction history for
// feature extraction. The transaction being scored is identified by
// excludeTxID and must not appear in the returned history: scoring is
// always against prior activity.
type HistoryProvider interface {
	GetCustomerHistory(ctx context.Context, customerID string, now time.Time, excludeTxID string) (*domain.CustomerHistory, error)
}

// Config holds decision engine tunables.
type Config struct {
	Threshold         float64
	ClassifierTimeout time.Duration
	BatchWorkers      int
	PredictionTTL     time.Duration
}

// Engine scores transactions. The fraud threshold may be retuned at runtime;
// all other collaborators are fixed at construction. Safe for concurrent use.
type Engine struct {
	extractor  *feature.Extractor
	normalizer *feature.Normalizer
	classifier domain.Classifier
	screener   *screen.Screener
	history    HistoryProvider
	cache      domain.Cache
	metrics    *metrics.Collector

	mu        sync.RWMutex
	threshold float64

	classifierTimeout time.Duration
	batchWorkers      int
	predictionTTL     time.Duration
}

// New creates a decision engine. The normalizer and classifier are required;
// screener, history provider, and cache are optional.
func New(
	cfg Config,
	extractor *feature.Extractor,
	normalizer *feature.Normalizer,
	classifier domain.Classifier,
	screener *screen.Screener,
	history HistoryProvider,
	cache domain.Cache,
	collector *metrics.Collector,
) (*Engine, error) {
	if normalizer == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if extractor == nil {
		extractor = feature.NewExtractor(nil, nil)
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}

	timeout := cfg.ClassifierTimeout
	if timeout <= 0 {
		timeout = defaultClassifierTimeout
	}
	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	ttl := cfg.PredictionTTL
	if ttl <= 0 {
		ttl = defaultPredictionTTL
	}

	return &Engine{
		extractor:         extractor,
		normalizer:        normalizer,
		classifier:        classifier,
		screener:          screener,
		history:           history,
		cache:             cache,
		metrics:           collector,
		threshold:         threshold,
		classifierTimeout: timeout,
		batchWorkers:      workers,
		predictionTTL:     ttl,
	}, nil
}

func validateThreshold(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %v is outside [0, 1]", domain.ErrInvalidThreshold, v)
	}
	return nil
}

// Threshold returns the current fraud threshold.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// SetThreshold updates the fraud threshold. Values outside [0, 1] are
// rejected and leave the current threshold unchanged.
func (e *Engine) SetThreshold(v float64) error {
	if err := validateThreshold(v); err != nil {
		return err
	}
	e.mu.Lock()
	e.threshold = v
	e.mu.Unlock()

	slog.Info("fraud threshold updated", "threshold", v)
	return nil
}

// Metrics exposes the engine's metrics collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// ModelVersion returns the version of the loaded normalization model.
func (e *Engine) ModelVersion() string {
	return e.normalizer.ModelVersion()
}

// ScoreOne runs the full scoring pipeline for a single transaction. A cached
// prediction for the same transaction ID is returned without rescoring.
// A non-nil hist is used as the customer history verbatim; with a nil hist
// the configured provider is consulted, and a customer with no prior
// activity gets an empty history. Every failure is reported through the
// error return; there is no fallback verdict.
func (e *Engine) ScoreOne(ctx context.Context, tx *domain.Transaction, hist *domain.CustomerHistory) (*domain.PredictionResult, error) {
	start := time.Now()

	if tx == nil {
		e.metrics.RecordError()
		return nil, &domain.ValidationError{Field: "transaction", Reason: "is required"}
	}
	if err := tx.Validate(); err != nil {
		e.metrics.RecordError()
		return nil, err
	}

	if e.cache != nil {
		if cached, err := e.cache.GetPrediction(ctx, tx.ID); err == nil && cached != nil {
			return cached, nil
		}
	}

	eventTime, err := domain.ParseTimestamp(tx.Timestamp)
	if err != nil {
		e.metrics.RecordError()
		return nil, err
	}

	if hist == nil {
		hist = &domain.CustomerHistory{}
		if e.history != nil {
			hist, err = e.history.GetCustomerHistory(ctx, tx.CustomerID, eventTime, tx.ID)
			if err != nil {
				e.metrics.RecordError()
				return nil, err
			}
		}
	}

	fs, err := e.extractor.Extract(tx, hist)
	if err != nil {
		e.metrics.RecordError()
		return nil, err
	}

	vector, err := e.normalizer.Normalize(fs)
	if err != nil {
		e.metrics.RecordError()
		return nil, err
	}

	probability, err := e.classify(ctx, vector)
	if err != nil {
		e.metrics.RecordError()
		return nil, err
	}

	isFraud := 0
	if probability >= e.Threshold() {
		isFraud = 1
	}

	result := &domain.PredictionResult{
		TransactionID:    tx.ID,
		IsFraud:          isFraud,
		FraudProbability: probability,
		ModelVersion:     e.normalizer.ModelVersion(),
		Reasons:          e.screener.Screen(ctx, tx, fs),
		ScoredAt:         time.Now().UTC(),
	}

	if e.cache != nil {
		if err := e.cache.SetPrediction(ctx, tx.ID, result, e.predictionTTL); err != nil {
			slog.Warn("failed to cache prediction", "transaction_id", tx.ID, "error", err)
		}
	}

	e.metrics.RecordPrediction(isFraud, probability)
	e.metrics.RecordLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	return result, nil
}

func (e *Engine) classify(ctx context.Context, vector []float64) (float64, error) {
	cctx, cancel := context.WithTimeout(ctx, e.classifierTimeout)
	defer cancel()

	probability, err := e.classifier.ScoreProbability(cctx, vector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w after %s", domain.ErrClassifierTimeout, e.classifierTimeout)
		}
		return 0, &domain.ClassifierError{Err: err}
	}
	if probability < 0 || probability > 1 {
		return 0, &domain.ClassifierError{
			Err: fmt.Errorf("probability %v is outside [0, 1]", probability),
		}
	}
	return probability, nil
}

// BatchItem pairs a batch element's outcome with its position in the input.
// Exactly one of Result and Err is set.
type BatchItem struct {
	Index         int                      `json:"index"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Result        *domain.PredictionResult `json:"result,omitempty"`
	Err           error                    `json:"-"`
}

// ScoreBatch scores transactions concurrently with bounded parallelism.
// histories pairs with txs by index; it may be nil, shorter than txs, or
// hold nil elements, and every transaction without a supplied history falls
// back to the provider. Results keep input order and a failing element
// never affects its neighbors.
func (e *Engine) ScoreBatch(ctx context.Context, txs []*domain.Transaction, histories []*domain.CustomerHistory) []BatchItem {
	results := make([]BatchItem, len(txs))
	if len(txs) == 0 {
		return results
	}

	sem := make(chan struct{}, e.batchWorkers)
	var wg sync.WaitGroup

	for i, tx := range txs {
		var hist *domain.CustomerHistory
		if i < len(histories) {
			hist = histories[i]
		}

		wg.Add(1)
		go func(i int, tx *domain.Transaction, hist *domain.CustomerHistory) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item := BatchItem{Index: i}
			if tx != nil {
				item.TransactionID = tx.ID
			}
			item.Result, item.Err = e.ScoreOne(ctx, tx, hist)
			results[i] = item
		}(i, tx, hist)
	}

	wg.Wait()
	return results
}
