// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction. The raw timestamp is kept verbatim;
// a parsed copy is stored in event_time for windowed history queries.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	eventTime, err := domain.ParseTimestamp(tx.Timestamp)
	if err != nil {
		return err
	}

	cardPresent := 0
	if tx.CardPresent {
		cardPresent = 1
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (
			id, customer_id, amount, merchant_id, timestamp, event_time,
			location, device_id, transaction_type, card_present, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, tx.Amount, tx.MerchantID,
		tx.Timestamp, eventTime.UTC(),
		tx.Location, tx.DeviceID, tx.Type, cardPresent,
		createdAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, customer_id, amount, merchant_id, timestamp,
			   location, device_id, transaction_type, card_present, created_at
		FROM transactions
		WHERE id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// GetCustomerTransactions retrieves a customer's transactions since the
// given time, most recent first.
func (r *SQLRepository) GetCustomerTransactions(ctx context.Context, customerID string, since time.Time) ([]*domain.Transaction, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, customer_id, amount, merchant_id, timestamp,
			   location, device_id, transaction_type, card_present, created_at
		FROM transactions
		WHERE customer_id = ?
		  AND event_time >= ?
		ORDER BY event_time DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SavePrediction stores a prediction result, upserting on rescoring.
func (r *SQLRepository) SavePrediction(ctx context.Context, result *domain.PredictionResult) error {
	if result == nil || result.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(result.Reasons)

	scoredAt := result.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO predictions (
			transaction_id, is_fraud, probability, model_version, reasons, scored_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE SET
			is_fraud = excluded.is_fraud,
			probability = excluded.probability,
			model_version = excluded.model_version,
			reasons = excluded.reasons,
			scored_at = excluded.scored_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.TransactionID, result.IsFraud, result.FraudProbability,
		result.ModelVersion, string(reasons), scoredAt,
	)
	return err
}

// GetPrediction retrieves a prediction by transaction ID.
func (r *SQLRepository) GetPrediction(ctx context.Context, txID string) (*domain.PredictionResult, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		SELECT transaction_id, is_fraud, probability, model_version, reasons, scored_at
		FROM predictions
		WHERE transaction_id = ?
	`

	var result domain.PredictionResult
	var modelVersion sql.NullString
	var reasons string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&result.TransactionID, &result.IsFraud, &result.FraudProbability,
		&modelVersion, &reasons, &result.ScoredAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.ModelVersion = modelVersion.String
	if reasons != "" {
		json.Unmarshal([]byte(reasons), &result.Reasons)
	}

	return &result, nil
}

// SaveAlert stores a detection-rate alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (id, kind, observed_rate, threshold, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.Kind, alert.ObservedRate, alert.Threshold, alert.Timestamp,
	)
	return err
}

// ListAlerts retrieves the most recent alerts, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, kind, observed_rate, threshold, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.Kind, &a.ObservedRate, &a.Threshold, &a.Timestamp); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var cardPresent int

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Amount, &tx.MerchantID, &tx.Timestamp,
		&tx.Location, &tx.DeviceID, &tx.Type, &cardPresent, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.CardPresent = cardPresent == 1
	return &tx, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
