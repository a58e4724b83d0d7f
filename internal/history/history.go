// Package history resolves an account's prior transactions for the spike
// and geofeasibility branches and appends scored transactions to the ledger.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultLimit caps ledger rows loaded per lookup.
const DefaultLimit = 50

// Source tells where a resolved history came from.
type Source string

const (
	SourceRequest Source = "request"
	SourceLedger  Source = "ledger"
	SourceNone    Source = "none"
)

// Service reads and writes account history.
type Service struct {
	repo  domain.Repository
	limit int
	now   func() time.Time
}

// NewService creates a history service. A nil repository means history
// only ever comes from the request.
func NewService(repo domain.Repository, limit int) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{repo: repo, limit: limit, now: time.Now}
}

// Resolve returns the history for txn. History carried by the request wins;
// otherwise the ledger is consulted by account number. Lookup failures
// degrade to an empty history.
func (s *Service) Resolve(ctx context.Context, txn *domain.TransactionRecord) ([]domain.PreviousTransaction, Source) {
	if len(txn.PreviousTransactions) > 0 {
		return txn.PreviousTransactions, SourceRequest
	}
	if s.repo == nil || txn.AccountNumber == "" {
		return nil, SourceNone
	}

	entries, err := s.repo.RecentLedgerEntries(ctx, txn.AccountNumber, s.limit)
	if err != nil {
		slog.Warn("history lookup failed",
			"stage", "history",
			"txID", txn.ID,
			"account", domain.MaskAccount(txn.AccountNumber),
			"error", err,
		)
		return nil, SourceNone
	}
	if len(entries) == 0 {
		return nil, SourceNone
	}

	out := make([]domain.PreviousTransaction, len(entries))
	for i, e := range entries {
		out[i] = e.ToPrevious()
	}
	return out, SourceLedger
}

// Record appends the scored transaction to the account's ledger.
// Transactions without an account number are not recorded.
func (s *Service) Record(ctx context.Context, txn *domain.TransactionRecord, a *domain.FraudAssessment) error {
	if s.repo == nil || txn.AccountNumber == "" {
		return nil
	}

	at := s.now().UTC()
	if txn.Timestamp != nil {
		at = txn.Timestamp.UTC()
	}
	id := txn.ID
	if id == "" {
		id = uuid.New().String()
	}

	entry := &domain.LedgerEntry{
		ID:                    id,
		AccountNumber:         txn.AccountNumber,
		ReceiverAccountNumber: txn.ReceiverAccountNumber,
		Amount:                amountOf(txn),
		Location:              txn.Location,
		CreatedAt:             at,
		UpdatedAt:             at,
	}
	if a != nil {
		entry.FraudPercentage = a.FraudPercentage
	}

	if err := s.repo.SaveLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Persist records the ledger entry and stores the assessment. Both writes
// are attempted; their errors are joined.
func (s *Service) Persist(ctx context.Context, txn *domain.TransactionRecord, a *domain.FraudAssessment, alerted bool) error {
	if s.repo == nil || a == nil {
		return nil
	}
	var errs []error
	if err := s.Record(ctx, txn, a); err != nil {
		errs = append(errs, err)
	}
	if err := s.repo.SaveAssessment(ctx, a.ToStored(txn.AccountNumber, alerted)); err != nil {
		errs = append(errs, fmt.Errorf("failed to save assessment: %w", err))
	}
	return errors.Join(errs...)
}

// PersistFailure stores a failed assessment under id so pollers can tell
// a failed submission from a pending one. The ledger is left untouched.
func (s *Service) PersistFailure(ctx context.Context, id string, txn *domain.TransactionRecord, reason string) error {
	if s.repo == nil {
		return nil
	}
	stored := &domain.StoredAssessment{
		ID:        id,
		Status:    domain.StatusFailed,
		Error:     reason,
		CreatedAt: s.now().UTC(),
	}
	if txn != nil {
		stored.TxID = txn.ID
		stored.AccountNumber = txn.AccountNumber
	}
	if err := s.repo.SaveAssessment(ctx, stored); err != nil {
		return fmt.Errorf("failed to save failed assessment: %w", err)
	}
	return nil
}

// amountOf prefers the legacy amount, falling back to the boosted one.
func amountOf(txn *domain.TransactionRecord) decimal.Decimal {
	switch {
	case txn.TransactionAmount != nil:
		return decimal.NewFromFloat(*txn.TransactionAmount)
	case txn.Amount != nil:
		return decimal.NewFromFloat(*txn.Amount)
	default:
		return decimal.Zero
	}
}
