package domain

import (
	"context"
	"time"
)

// Repository is the persistence boundary: the transaction ledger, scored
// predictions, and the alert log.
type Repository interface {
	// Transaction ledger
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// GetCustomerTransactions returns a customer's transactions with a
	// timestamp at or after since, most recent first.
	GetCustomerTransactions(ctx context.Context, customerID string, since time.Time) ([]*Transaction, error)

	// Prediction results
	SavePrediction(ctx context.Context, result *PredictionResult) error
	GetPrediction(ctx context.Context, txID string) (*PredictionResult, error)

	// Alert log
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
