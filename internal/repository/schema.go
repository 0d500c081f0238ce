package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    amount REAL NOT NULL,
    merchant_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    event_time TIMESTAMP NOT NULL,
    location TEXT NOT NULL,
    device_id TEXT NOT NULL,
    transaction_type TEXT NOT NULL,
    card_present INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_event_time ON transactions(customer_id, event_time);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    transaction_id TEXT PRIMARY KEY,
    is_fraud INTEGER NOT NULL,
    probability REAL NOT NULL,
    model_version TEXT,
    reasons TEXT,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_is_fraud ON predictions(is_fraud);
CREATE INDEX IF NOT EXISTS idx_predictions_scored_at ON predictions(scored_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    observed_rate REAL NOT NULL,
    threshold REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaPredictions,
		schemaAlerts,
	}
}
