// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// MaxLedgerLimit caps RecentLedgerEntries.
const MaxLedgerLimit = 1000

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

// SaveLedgerEntry appends a scored transaction. Re-saving the same id
// replaces the entry.
func (r *SQLRepository) SaveLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e == nil || e.ID == "" || e.AccountNumber == "" {
		return fmt.Errorf("%w: ledger entry needs id and account number", ErrInvalidInput)
	}

	query := `
		INSERT INTO ledger_entries (
			id, account_number, receiver_account_number, amount, location,
			fraud_percentage, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			location = excluded.location,
			fraud_percentage = excluded.fraud_percentage,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.AccountNumber, e.ReceiverAccountNumber,
		e.Amount.String(), e.Location, e.FraudPercentage,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	return err
}

// RecentLedgerEntries returns up to limit entries for an account, most
// recently updated first.
func (r *SQLRepository) RecentLedgerEntries(ctx context.Context, accountNumber string, limit int) ([]*domain.LedgerEntry, error) {
	if accountNumber == "" {
		return nil, fmt.Errorf("%w: account number is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > MaxLedgerLimit {
		limit = MaxLedgerLimit
	}

	query := `
		SELECT id, account_number, receiver_account_number, amount, location,
			   fraud_percentage, created_at, updated_at
		FROM ledger_entries
		WHERE account_number = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var amount string

		if err := rows.Scan(
			&e.ID, &e.AccountNumber, &e.ReceiverAccountNumber, &amount, &e.Location,
			&e.FraudPercentage, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}

		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount of ledger entry %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// SaveAssessment stores a completed assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.StoredAssessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	scores, err := json.Marshal(a.ModelScores)
	if err != nil {
		return fmt.Errorf("failed to encode model scores: %w", err)
	}
	spike, err := json.Marshal(a.SpikeScore)
	if err != nil {
		return fmt.Errorf("failed to encode spike score: %w", err)
	}

	alerted := 0
	if a.Alerted {
		alerted = 1
	}
	status := a.Status
	if status == "" {
		status = domain.StatusCompleted
	}

	query := `
		INSERT INTO assessments (
			id, status, error, tx_id, account_number, model_scores, spike_score,
			ai_location_score, fraud_percentage, mode, alerted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, status, a.Error, a.TxID, a.AccountNumber, string(scores), string(spike),
		a.AILocationScore, a.FraudPercentage, string(a.Mode), alerted,
		a.CreatedAt.UTC(),
	)
	return err
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.StoredAssessment, error) {
	query := `
		SELECT id, status, error, tx_id, account_number, model_scores, spike_score,
			   ai_location_score, fraud_percentage, mode, alerted, created_at
		FROM assessments
		WHERE id = ?
	`

	var a domain.StoredAssessment
	var scores, spike, mode string
	var alerted int

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&a.ID, &a.Status, &a.Error, &a.TxID, &a.AccountNumber, &scores, &spike,
		&a.AILocationScore, &a.FraudPercentage, &mode, &alerted,
		&a.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scores), &a.ModelScores); err != nil {
		return nil, fmt.Errorf("failed to parse model scores: %w", err)
	}
	if err := json.Unmarshal([]byte(spike), &a.SpikeScore); err != nil {
		return nil, fmt.Errorf("failed to parse spike score: %w", err)
	}
	a.Mode = domain.ScoringMode(mode)
	a.Alerted = alerted == 1

	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
