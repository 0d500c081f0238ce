// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Transaction is an incoming transaction to be scored.
// It is validated once at the ingestion boundary and immutable afterwards.
type Transaction struct {
	ID         string `json:"transaction_id"`
	CustomerID string `json:"customer_id"`

	Amount     float64 `json:"amount"`
	MerchantID string  `json:"merchant_id"`

	// ISO-8601 timestamp as received on the wire. Parsed during feature
	// extraction; an unparseable value fails scoring with ErrInvalidTimestamp.
	Timestamp string `json:"timestamp"`

	Location string `json:"location"`
	DeviceID string `json:"device_id"`

	// Free-text type ("online", "atm", "pos", "transfer", ...), encoded to a
	// risk code during feature extraction.
	Type string `json:"transaction_type"`

	CardPresent bool `json:"card_present"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate enforces the invariants the scoring core owns: a positive amount
// and the presence of required identifiers. Timestamp parseability is checked
// by the feature extractor, which is the first consumer of the value.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "transaction_id", Reason: "is required"}
	}
	if t.CustomerID == "" {
		return &ValidationError{Field: "customer_id", Reason: "is required"}
	}
	if t.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be positive, got %v", t.Amount)}
	}
	if t.Timestamp == "" {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}

// CustomerHistory is a rolling summary of a customer's recent activity,
// supplied by an external store. Immutable per scoring request.
type CustomerHistory struct {
	// Amounts of recent transactions, most recent last. May be empty.
	Amounts []float64 `json:"amounts"`

	// Transaction counts in the trailing windows.
	Transactions1h  int `json:"txn_1h"`
	Transactions24h int `json:"txn_24h"`
}

// ParseTimestamp parses an ISO-8601 transaction timestamp. RFC 3339 is tried
// first, then the zone-less layouts produced by common serializers.
func ParseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}
