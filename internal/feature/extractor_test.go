package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:          "tx-001",
		CustomerID:  "cust-001",
		Amount:      100.50,
		MerchantID:  "merch-001",
		Timestamp:   "2025-06-14T23:30:00Z", // Saturday, 23:30
		Location:    "US",
		DeviceID:    "dev-001",
		Type:        "pos",
		CardPresent: true,
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestExtractTemporalFeatures(t *testing.T) {
	ex := NewExtractor(nil, nil)
	hist := &domain.CustomerHistory{}

	fs, err := ex.Extract(testTransaction(), hist)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if fs.Hour != 23 {
		t.Errorf("expected hour 23, got %v", fs.Hour)
	}
	if fs.DayOfWeek != 5 {
		t.Errorf("expected day-of-week 5 for Saturday, got %v", fs.DayOfWeek)
	}
	if fs.IsWeekend != 1 {
		t.Errorf("expected is_weekend 1, got %v", fs.IsWeekend)
	}
	if fs.IsNight != 1 {
		t.Errorf("expected is_night 1 at 23:30, got %v", fs.IsNight)
	}
	if fs.DayOfMonth != 14 {
		t.Errorf("expected day-of-month 14, got %v", fs.DayOfMonth)
	}
}

func TestExtractNightBoundaries(t *testing.T) {
	ex := NewExtractor(nil, nil)
	hist := &domain.CustomerHistory{}

	cases := []struct {
		timestamp string
		isNight   float64
	}{
		{"2025-06-16T22:00:00Z", 1}, // Monday 22:00
		{"2025-06-16T05:59:00Z", 1},
		{"2025-06-16T06:00:00Z", 0},
		{"2025-06-16T21:59:00Z", 0},
	}

	for _, tc := range cases {
		tx := testTransaction()
		tx.Timestamp = tc.timestamp
		fs, err := ex.Extract(tx, hist)
		if err != nil {
			t.Fatalf("extract failed for %s: %v", tc.timestamp, err)
		}
		if fs.IsNight != tc.isNight {
			t.Errorf("%s: expected is_night %v, got %v", tc.timestamp, tc.isNight, fs.IsNight)
		}
		if fs.IsWeekend != 0 {
			t.Errorf("%s: expected is_weekend 0 for Monday, got %v", tc.timestamp, fs.IsWeekend)
		}
	}
}

func TestExtractInvalidTimestamp(t *testing.T) {
	ex := NewExtractor(nil, nil)
	tx := testTransaction()
	tx.Timestamp = "not-a-timestamp"

	_, err := ex.Extract(tx, &domain.CustomerHistory{})
	if !errors.Is(err, domain.ErrInvalidTimestamp) {
		t.Errorf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestExtractZonelessTimestamp(t *testing.T) {
	ex := NewExtractor(nil, nil)
	tx := testTransaction()
	tx.Timestamp = "2025-06-14T23:30:00.123456"

	fs, err := ex.Extract(tx, &domain.CustomerHistory{})
	if err != nil {
		t.Fatalf("expected zone-less ISO-8601 to parse, got %v", err)
	}
	if fs.Hour != 23 {
		t.Errorf("expected hour 23, got %v", fs.Hour)
	}
}

func TestExtractAmountFeatures(t *testing.T) {
	ex := NewExtractor(nil, nil)

	t.Run("WithHistory", func(t *testing.T) {
		hist := &domain.CustomerHistory{Amounts: []float64{50, 75, 120}}
		fs, err := ex.Extract(testTransaction(), hist)
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}

		if fs.Amount != 100.50 {
			t.Errorf("expected raw amount 100.50, got %v", fs.Amount)
		}
		if !almostEqual(fs.AmountLog, math.Log1p(100.50), 1e-9) {
			t.Errorf("expected log1p(100.50), got %v", fs.AmountLog)
		}
		// history mean 81.667, population stddev 28.964
		if !almostEqual(fs.AmountNormalized, 1.23061, 1e-3) {
			t.Errorf("expected amount_normalized ~1.2306, got %v", fs.AmountNormalized)
		}
		if !almostEqual(fs.AmountDeviation, 0.65024, 1e-3) {
			t.Errorf("expected amount_deviation ~0.6502, got %v", fs.AmountDeviation)
		}
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		tx := testTransaction()
		tx.Amount = 100
		fs, err := ex.Extract(tx, &domain.CustomerHistory{})
		if err != nil {
			t.Fatalf("extract failed: %v", err)
		}

		if fs.AmountDeviation != 0 {
			t.Errorf("expected deviation 0 for single-sample history, got %v", fs.AmountDeviation)
		}
		// Normalized against a single-sample history equal to the amount itself.
		if !almostEqual(fs.AmountNormalized, 1.0, 1e-6) {
			t.Errorf("expected amount_normalized ~1.0, got %v", fs.AmountNormalized)
		}
	})
}

func TestExtractFrequencyFeatures(t *testing.T) {
	ex := NewExtractor(nil, nil)
	hist := &domain.CustomerHistory{Transactions1h: 2, Transactions24h: 15}

	fs, err := ex.Extract(testTransaction(), hist)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if fs.Transactions1h != 2 {
		t.Errorf("expected transactions_1h 2, got %v", fs.Transactions1h)
	}
	if fs.Transactions24h != 15 {
		t.Errorf("expected transactions_24h 15, got %v", fs.Transactions24h)
	}
	if !almostEqual(fs.AvgTxnPerHour, 15.0/24, 1e-9) {
		t.Errorf("expected avg_txn_per_hour 0.625, got %v", fs.AvgTxnPerHour)
	}
}

func TestExtractCategoricalFeatures(t *testing.T) {
	ex := NewExtractor(nil, []string{"high_risk_country"})
	hist := &domain.CustomerHistory{}

	t.Run("TypeCodeCaseInsensitive", func(t *testing.T) {
		tx := testTransaction()
		tx.Type = "POS"
		fs, _ := ex.Extract(tx, hist)
		if fs.TypeCode != 3 {
			t.Errorf("expected type code 3 for POS, got %v", fs.TypeCode)
		}
	})

	t.Run("UnknownTypeEncodesZero", func(t *testing.T) {
		tx := testTransaction()
		tx.Type = "crypto"
		fs, _ := ex.Extract(tx, hist)
		if fs.TypeCode != 0 {
			t.Errorf("expected type code 0 for unknown type, got %v", fs.TypeCode)
		}
	})

	t.Run("HighRiskLocation", func(t *testing.T) {
		tx := testTransaction()
		tx.Location = "high_risk_country"
		fs, _ := ex.Extract(tx, hist)
		if fs.LocationRisk != 1 {
			t.Errorf("expected location risk 1, got %v", fs.LocationRisk)
		}
	})

	t.Run("SafeLocation", func(t *testing.T) {
		fs, _ := ex.Extract(testTransaction(), hist)
		if fs.LocationRisk != 0 {
			t.Errorf("expected location risk 0, got %v", fs.LocationRisk)
		}
	})

	t.Run("CardPresent", func(t *testing.T) {
		tx := testTransaction()
		tx.CardPresent = false
		fs, _ := ex.Extract(tx, hist)
		if fs.CardPresent != 0 {
			t.Errorf("expected card_present 0, got %v", fs.CardPresent)
		}
	})
}

func TestExtractDeterminism(t *testing.T) {
	ex := NewExtractor(nil, []string{"suspicious_region"})
	tx := testTransaction()
	hist := &domain.CustomerHistory{Amounts: []float64{10, 20, 30}, Transactions1h: 1, Transactions24h: 7}

	first, err := ex.Extract(tx, hist)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	second, err := ex.Extract(tx, hist)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if *first != *second {
		t.Errorf("expected identical feature sets, got %+v and %+v", first, second)
	}
}
