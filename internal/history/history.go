// Package history builds customer transaction histories for feature
// extraction and maintains velocity counters in the cache.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service assembles per-customer history from the repository. Velocity
// counters are kept in the cache so the hot path can read them without a
// repository round trip.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a history service. The cache is optional; without it
// velocity counters are derived from the repository alone.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetCustomerHistory returns the customer's amounts and transaction counts
// over the last 24 hours, measured from now. The transaction identified by
// excludeTxID is skipped, so a transaction persisted before scoring never
// counts toward its own history. A customer with no prior transactions gets
// an empty history.
func (s *Service) GetCustomerHistory(ctx context.Context, customerID string, now time.Time, excludeTxID string) (*domain.CustomerHistory, error) {
	if customerID == "" {
		return &domain.CustomerHistory{}, nil
	}

	since := now.Add(-24 * time.Hour)
	transactions, err := s.repo.GetCustomerTransactions(ctx, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer history: %w", err)
	}

	history := &domain.CustomerHistory{
		Amounts: make([]float64, 0, len(transactions)),
	}

	oneHourAgo := now.Add(-time.Hour)
	for _, tx := range transactions {
		if excludeTxID != "" && tx.ID == excludeTxID {
			continue
		}
		history.Amounts = append(history.Amounts, tx.Amount)
		history.Transactions24h++

		eventTime, err := domain.ParseTimestamp(tx.Timestamp)
		if err != nil {
			// Stored transactions were validated on write; a parse
			// failure here means manual data edits. Count it in the
			// 24h window only.
			slog.Warn("unparseable timestamp in stored transaction",
				"transaction_id", tx.ID,
				"timestamp", tx.Timestamp,
			)
			continue
		}
		if !eventTime.Before(oneHourAgo) {
			history.Transactions1h++
		}
	}

	return history, nil
}

// RecordTransaction bumps the customer's velocity counters. Counter errors
// are logged and swallowed; counters are advisory.
func (s *Service) RecordTransaction(ctx context.Context, tx *domain.Transaction) {
	if s.cache == nil || tx == nil || tx.CustomerID == "" {
		return
	}

	for _, window := range []struct {
		suffix string
		d      time.Duration
	}{
		{"1h", time.Hour},
		{"24h", 24 * time.Hour},
	} {
		key := "velocity:" + tx.CustomerID + ":" + window.suffix
		if _, err := s.cache.IncrementCounter(ctx, key, window.d); err != nil {
			slog.Warn("failed to increment velocity counter",
				"customer_id", tx.CustomerID,
				"window", window.suffix,
				"error", err,
			)
		}
	}
}
