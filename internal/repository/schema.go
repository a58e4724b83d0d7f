package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

// schemaLedgerEntries stores scored transactions per account. Amounts are
// decimal strings so no precision is lost across drivers.
const schemaLedgerEntries = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    account_number TEXT NOT NULL,
    receiver_account_number TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    fraud_percentage REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_number, updated_at);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'completed',
    error TEXT NOT NULL DEFAULT '',
    tx_id TEXT NOT NULL DEFAULT '',
    account_number TEXT NOT NULL DEFAULT '',
    model_scores TEXT NOT NULL,
    spike_score TEXT NOT NULL,
    ai_location_score REAL NOT NULL,
    fraud_percentage REAL NOT NULL,
    mode TEXT NOT NULL,
    alerted INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_account ON assessments(account_number, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLedgerEntries,
		schemaAssessments,
	}
}
