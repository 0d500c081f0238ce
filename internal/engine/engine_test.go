package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/screen"
)

func identityNormalizer(t *testing.T) *feature.Normalizer {
	t.Helper()

	n := len(feature.ModelFeatureOrder)
	means := make([]float64, n)
	scales := make([]float64, n)
	for i := range scales {
		scales[i] = 1
	}

	normalizer, err := feature.NewNormalizer(&domain.NormalizationModel{
		Version:  "test-model",
		Features: feature.ModelFeatureOrder,
		Means:    means,
		Scales:   scales,
	})
	if err != nil {
		t.Fatalf("failed to build normalizer: %v", err)
	}
	return normalizer
}

func newTestEngine(t *testing.T, cls domain.Classifier) *Engine {
	t.Helper()

	eng, err := New(Config{}, nil, identityNormalizer(t), cls, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng
}

func sampleTransaction(id string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		CustomerID:  "cust-001",
		Amount:      250.0,
		MerchantID:  "merch-001",
		Timestamp:   "2025-06-14T10:00:00Z",
		Location:    "US",
		Type:        "pos",
		CardPresent: true,
	}
}

func TestScoreOne(t *testing.T) {
	ctx := context.Background()

	t.Run("FraudAboveThreshold", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.9))

		result, err := eng.ScoreOne(ctx, sampleTransaction("tx-1"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if result.IsFraud != 1 {
			t.Errorf("expected fraud verdict, got %d", result.IsFraud)
		}
		if result.FraudProbability != 0.9 {
			t.Errorf("expected probability 0.9, got %v", result.FraudProbability)
		}
		if result.ModelVersion != "test-model" {
			t.Errorf("expected model version test-model, got %q", result.ModelVersion)
		}
	})

	t.Run("LegitimateBelowThreshold", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.1))

		result, err := eng.ScoreOne(ctx, sampleTransaction("tx-2"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if result.IsFraud != 0 {
			t.Errorf("expected legitimate verdict, got %d", result.IsFraud)
		}
	})

	t.Run("ThresholdIsInclusive", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.5))

		result, err := eng.ScoreOne(ctx, sampleTransaction("tx-3"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if result.IsFraud != 1 {
			t.Errorf("probability equal to threshold must be fraud, got %d", result.IsFraud)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.5))

		tx := sampleTransaction("tx-4")
		tx.Amount = -5

		var validationErr *domain.ValidationError
		if _, err := eng.ScoreOne(ctx, tx, nil); !errors.As(err, &validationErr) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.5))

		tx := sampleTransaction("tx-5")
		tx.Timestamp = "not-a-timestamp"

		if _, err := eng.ScoreOne(ctx, tx, nil); !errors.Is(err, domain.ErrInvalidTimestamp) {
			t.Errorf("expected ErrInvalidTimestamp, got %v", err)
		}
	})

	t.Run("ClassifierFailurePropagates", func(t *testing.T) {
		failing := classifier.Func(func(ctx context.Context, vector []float64) (float64, error) {
			return 0, errors.New("model backend unavailable")
		})
		eng := newTestEngine(t, failing)

		var classifierErr *domain.ClassifierError
		if _, err := eng.ScoreOne(ctx, sampleTransaction("tx-6"), nil); !errors.As(err, &classifierErr) {
			t.Errorf("expected ClassifierError, got %v", err)
		}
		if eng.Metrics().Snapshot().TotalErrors != 1 {
			t.Error("expected classifier failure to be counted as an error")
		}
	})

	t.Run("ClassifierTimeout", func(t *testing.T) {
		slow := classifier.Func(func(ctx context.Context, vector []float64) (float64, error) {
			select {
			case <-time.After(time.Second):
				return 0.5, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})

		eng, err := New(Config{ClassifierTimeout: 10 * time.Millisecond},
			nil, identityNormalizer(t), slow, nil, nil, nil, nil)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		if _, err := eng.ScoreOne(ctx, sampleTransaction("tx-7"), nil); !errors.Is(err, domain.ErrClassifierTimeout) {
			t.Errorf("expected ErrClassifierTimeout, got %v", err)
		}
	})

	t.Run("OutOfRangeProbabilityRejected", func(t *testing.T) {
		broken := classifier.Func(func(ctx context.Context, vector []float64) (float64, error) {
			return 1.5, nil
		})
		eng := newTestEngine(t, broken)

		var classifierErr *domain.ClassifierError
		if _, err := eng.ScoreOne(ctx, sampleTransaction("tx-8"), nil); !errors.As(err, &classifierErr) {
			t.Errorf("expected ClassifierError for out-of-range probability, got %v", err)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		eng := newTestEngine(t, classifier.Fixed(0.42))

		first, err := eng.ScoreOne(ctx, sampleTransaction("tx-9"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		second, err := eng.ScoreOne(ctx, sampleTransaction("tx-9"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if first.FraudProbability != second.FraudProbability || first.IsFraud != second.IsFraud {
			t.Errorf("repeated scoring disagrees: %+v vs %+v", first, second)
		}
	})
}

type stubHistoryProvider struct {
	hist        *domain.CustomerHistory
	err         error
	calls       int
	lastExclude string
}

func (s *stubHistoryProvider) GetCustomerHistory(ctx context.Context, customerID string, now time.Time, excludeTxID string) (*domain.CustomerHistory, error) {
	s.calls++
	s.lastExclude = excludeTxID
	if s.err != nil {
		return nil, s.err
	}
	if s.hist != nil {
		return s.hist, nil
	}
	return &domain.CustomerHistory{}, nil
}

func TestScoreOneSuppliedHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("UsedForFeatures", func(t *testing.T) {
		var captured []float64
		capturing := classifier.Func(func(ctx context.Context, vector []float64) (float64, error) {
			captured = vector
			return 0.1, nil
		})

		provider := &stubHistoryProvider{err: errors.New("store unavailable")}
		eng, err := New(Config{}, nil, identityNormalizer(t), capturing, nil, provider, nil, nil)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		tx := sampleTransaction("tx-hist")
		tx.Amount = 5000

		hist := &domain.CustomerHistory{
			Amounts:         []float64{50, 75, 120},
			Transactions1h:  2,
			Transactions24h: 5,
		}

		if _, err := eng.ScoreOne(ctx, tx, hist); err != nil {
			t.Fatalf("ScoreOne with supplied history failed: %v", err)
		}
		if provider.calls != 0 {
			t.Errorf("supplied history must bypass the provider, got %d calls", provider.calls)
		}

		// Identity normalizer: the vector is the raw feature layout.
		if captured[2] != 2 || captured[3] != 5 {
			t.Errorf("expected velocity counts 2/5 from supplied history, got %v/%v", captured[2], captured[3])
		}
		if captured[7] < 100 {
			t.Errorf("expected a large amount deviation against [50 75 120], got %v", captured[7])
		}
	})

	t.Run("NilFallsBackToProvider", func(t *testing.T) {
		provider := &stubHistoryProvider{err: errors.New("store unavailable")}
		eng, err := New(Config{}, nil, identityNormalizer(t), classifier.Fixed(0.1), nil, provider, nil, nil)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		if _, err := eng.ScoreOne(ctx, sampleTransaction("tx-hist-2"), nil); err == nil {
			t.Error("expected provider failure to propagate")
		}
		if provider.calls != 1 {
			t.Errorf("expected 1 provider call, got %d", provider.calls)
		}
	})

	t.Run("ProviderExcludesScoredTransaction", func(t *testing.T) {
		provider := &stubHistoryProvider{}
		eng, err := New(Config{}, nil, identityNormalizer(t), classifier.Fixed(0.1), nil, provider, nil, nil)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		if _, err := eng.ScoreOne(ctx, sampleTransaction("tx-excl"), nil); err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if provider.lastExclude != "tx-excl" {
			t.Errorf("expected the scored transaction id to be excluded, got %q", provider.lastExclude)
		}
	})
}

func TestScoreOneUsesCache(t *testing.T) {
	calls := 0
	counting := classifier.Func(func(ctx context.Context, vector []float64) (float64, error) {
		calls++
		return 0.3, nil
	})

	c := cache.NewLRUCache(100)
	eng, err := New(Config{}, nil, identityNormalizer(t), counting, nil, nil, c, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	ctx := context.Background()
	tx := sampleTransaction("tx-cached")

	if _, err := eng.ScoreOne(ctx, tx, nil); err != nil {
		t.Fatalf("ScoreOne failed: %v", err)
	}
	if _, err := eng.ScoreOne(ctx, tx, nil); err != nil {
		t.Fatalf("ScoreOne failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected 1 classifier call with a warm cache, got %d", calls)
	}
}

func TestScoreOneScreeningReasons(t *testing.T) {
	screener, err := screen.NewScreener([]domain.ScreeningRule{
		{ID: "big", Expression: `amount > 100.0`, Reason: "amount above review limit", Enabled: true},
	})
	if err != nil {
		t.Fatalf("NewScreener failed: %v", err)
	}

	eng, err := New(Config{}, nil, identityNormalizer(t), classifier.Fixed(0.2), screener, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	result, err := eng.ScoreOne(context.Background(), sampleTransaction("tx-screen"), nil)
	if err != nil {
		t.Fatalf("ScoreOne failed: %v", err)
	}

	if len(result.Reasons) != 1 || result.Reasons[0] != "amount above review limit" {
		t.Errorf("expected screening reason attached, got %v", result.Reasons)
	}
	if result.IsFraud != 0 {
		t.Error("screening reasons must not change the verdict")
	}
}

func TestSetThreshold(t *testing.T) {
	eng := newTestEngine(t, classifier.Fixed(0.6))

	t.Run("RejectsOutOfRange", func(t *testing.T) {
		if err := eng.SetThreshold(1.5); !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Errorf("expected ErrInvalidThreshold, got %v", err)
		}
		if err := eng.SetThreshold(-0.1); !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Errorf("expected ErrInvalidThreshold, got %v", err)
		}
		if eng.Threshold() != 0.5 {
			t.Errorf("rejected update must not change threshold, got %v", eng.Threshold())
		}
	})

	t.Run("AppliesToVerdict", func(t *testing.T) {
		if err := eng.SetThreshold(0.7); err != nil {
			t.Fatalf("SetThreshold failed: %v", err)
		}

		result, err := eng.ScoreOne(context.Background(), sampleTransaction("tx-thresh"), nil)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if result.IsFraud != 0 {
			t.Errorf("probability 0.6 under threshold 0.7 must be legitimate, got %d", result.IsFraud)
		}
	})
}

func TestScoreBatch(t *testing.T) {
	eng := newTestEngine(t, classifier.Fixed(0.8))
	ctx := context.Background()

	t.Run("PreservesOrder", func(t *testing.T) {
		txs := []*domain.Transaction{
			sampleTransaction("batch-1"),
			sampleTransaction("batch-2"),
			sampleTransaction("batch-3"),
		}

		items := eng.ScoreBatch(ctx, txs, nil)
		if len(items) != 3 {
			t.Fatalf("expected 3 results, got %d", len(items))
		}
		for i, item := range items {
			if item.Err != nil {
				t.Fatalf("element %d failed: %v", i, item.Err)
			}
			if item.Result.TransactionID != txs[i].ID {
				t.Errorf("element %d: expected %s, got %s", i, txs[i].ID, item.Result.TransactionID)
			}
		}
	})

	t.Run("IsolatesFailures", func(t *testing.T) {
		bad := sampleTransaction("batch-bad")
		bad.Timestamp = "garbage"

		txs := []*domain.Transaction{
			sampleTransaction("batch-ok-1"),
			bad,
			sampleTransaction("batch-ok-2"),
		}

		items := eng.ScoreBatch(ctx, txs, nil)
		if items[0].Err != nil || items[2].Err != nil {
			t.Errorf("healthy elements must not fail: %v, %v", items[0].Err, items[2].Err)
		}
		if !errors.Is(items[1].Err, domain.ErrInvalidTimestamp) {
			t.Errorf("expected ErrInvalidTimestamp for bad element, got %v", items[1].Err)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		if items := eng.ScoreBatch(ctx, nil, nil); len(items) != 0 {
			t.Errorf("expected empty result, got %d items", len(items))
		}
	})

	t.Run("PartialHistories", func(t *testing.T) {
		txs := []*domain.Transaction{
			sampleTransaction("batch-h1"),
			sampleTransaction("batch-h2"),
			sampleTransaction("batch-h3"),
		}
		histories := []*domain.CustomerHistory{
			{Amounts: []float64{100, 200}, Transactions24h: 2},
		}

		items := eng.ScoreBatch(ctx, txs, histories)
		for i, item := range items {
			if item.Err != nil {
				t.Errorf("element %d failed with partial histories: %v", i, item.Err)
			}
		}
	})
}
