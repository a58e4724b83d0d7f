package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

type memRepo struct {
	mu          sync.Mutex
	entries     []*domain.LedgerEntry
	assessments []*domain.StoredAssessment
	err         error
	saveErr     error
}

func (m *memRepo) SaveLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepo) RecentLedgerEntries(ctx context.Context, account string, limit int) ([]*domain.LedgerEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.AccountNumber == account {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) SaveAssessment(ctx context.Context, a *domain.StoredAssessment) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments = append(m.assessments, a)
	return nil
}

func (m *memRepo) GetAssessment(ctx context.Context, id string) (*domain.StoredAssessment, error) {
	return nil, nil
}

func (m *memRepo) Ping(ctx context.Context) error { return nil }

func (m *memRepo) Close() error { return nil }

func amount(v float64) *float64 { return &v }

func TestResolve(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{}
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		repo.entries = append(repo.entries, &domain.LedgerEntry{
			ID:            "l" + string(rune('0'+i)),
			AccountNumber: "ACC-1",
			Amount:        decimal.NewFromInt(int64(100 * (i + 1))),
			Location:      "Mumbai",
			CreatedAt:     at,
			UpdatedAt:     at,
		})
	}
	svc := NewService(repo, 3)

	t.Run("RequestHistoryWins", func(t *testing.T) {
		txn := &domain.TransactionRecord{
			AccountNumber:        "ACC-1",
			PreviousTransactions: []domain.PreviousTransaction{{Location: "Delhi"}},
		}
		h, src := svc.Resolve(ctx, txn)
		if src != SourceRequest || len(h) != 1 || h[0].Location != "Delhi" {
			t.Errorf("expected request history, got %s with %d entries", src, len(h))
		}
	})

	t.Run("LedgerFallback", func(t *testing.T) {
		h, src := svc.Resolve(ctx, &domain.TransactionRecord{AccountNumber: "ACC-1"})
		if src != SourceLedger {
			t.Fatalf("expected ledger source, got %s", src)
		}
		if len(h) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(h))
		}
		if !h[0].Amount.Equal(decimal.NewFromInt(500)) {
			t.Errorf("expected most recent entry first, got %s", h[0].Amount)
		}
		if h[0].SenderAccountNumber != "ACC-1" {
			t.Errorf("expected sender ACC-1, got %s", h[0].SenderAccountNumber)
		}
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		h, src := svc.Resolve(ctx, &domain.TransactionRecord{AccountNumber: "ACC-2"})
		if src != SourceNone || len(h) != 0 {
			t.Errorf("expected no history, got %s with %d entries", src, len(h))
		}
	})

	t.Run("NoAccount", func(t *testing.T) {
		_, src := svc.Resolve(ctx, &domain.TransactionRecord{})
		if src != SourceNone {
			t.Errorf("expected none, got %s", src)
		}
	})

	t.Run("LookupErrorDegrades", func(t *testing.T) {
		broken := NewService(&memRepo{err: errors.New("db down")}, 10)
		h, src := broken.Resolve(ctx, &domain.TransactionRecord{AccountNumber: "ACC-1"})
		if src != SourceNone || h != nil {
			t.Errorf("expected empty history on error, got %s", src)
		}
	})

	t.Run("NilRepository", func(t *testing.T) {
		_, src := NewService(nil, 0).Resolve(ctx, &domain.TransactionRecord{AccountNumber: "ACC-1"})
		if src != SourceNone {
			t.Errorf("expected none, got %s", src)
		}
	})
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	svc := NewService(repo, 0)
	fixed := time.Date(2024, 6, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	txn := &domain.TransactionRecord{
		ID:                "tx-42",
		AccountNumber:     "ACC-9",
		TransactionAmount: amount(1250.5),
		Amount:            amount(99),
		Location:          "Pune",
	}
	if err := svc.Record(ctx, txn, &domain.FraudAssessment{FraudPercentage: 0.33}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}

	e := repo.entries[0]
	if e.ID != "tx-42" {
		t.Errorf("expected id tx-42, got %s", e.ID)
	}
	if !e.Amount.Equal(decimal.NewFromFloat(1250.5)) {
		t.Errorf("expected legacy amount 1250.5, got %s", e.Amount)
	}
	if !e.UpdatedAt.Equal(fixed) {
		t.Errorf("expected clock time, got %v", e.UpdatedAt)
	}
	if e.FraudPercentage != 0.33 {
		t.Errorf("expected 0.33, got %v", e.FraudPercentage)
	}

	t.Run("BoostedAmountAndTimestamp", func(t *testing.T) {
		ts := fixed.Add(-time.Hour)
		txn := &domain.TransactionRecord{AccountNumber: "ACC-9", Amount: amount(80), Timestamp: &ts}
		if err := svc.Record(ctx, txn, nil); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		e := repo.entries[1]
		if e.ID == "" {
			t.Error("expected generated id")
		}
		if !e.Amount.Equal(decimal.NewFromInt(80)) || !e.UpdatedAt.Equal(ts) {
			t.Errorf("unexpected entry %+v", e)
		}
	})

	t.Run("NoAccountSkipped", func(t *testing.T) {
		before := len(repo.entries)
		if err := svc.Record(ctx, &domain.TransactionRecord{ID: "anon"}, nil); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if len(repo.entries) != before {
			t.Error("expected no ledger write without an account")
		}
	})
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	txn := &domain.TransactionRecord{ID: "tx-7", AccountNumber: "ACC-1", TransactionAmount: amount(42)}
	a := &domain.FraudAssessment{ID: "as-7", TxID: "tx-7", FraudPercentage: 0.8, Mode: domain.ModeBlended}

	t.Run("WritesBoth", func(t *testing.T) {
		repo := &memRepo{}
		if err := NewService(repo, 0).Persist(ctx, txn, a, true); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		if len(repo.entries) != 1 {
			t.Errorf("expected 1 ledger entry, got %d", len(repo.entries))
		}
		if len(repo.assessments) != 1 {
			t.Fatalf("expected 1 stored assessment, got %d", len(repo.assessments))
		}
		stored := repo.assessments[0]
		if stored.ID != "as-7" || stored.AccountNumber != "ACC-1" || !stored.Alerted {
			t.Errorf("unexpected stored assessment: %+v", stored)
		}
	})

	t.Run("SaveFailureStillRecordsLedger", func(t *testing.T) {
		repo := &memRepo{saveErr: errors.New("disk full")}
		err := NewService(repo, 0).Persist(ctx, txn, a, false)
		if err == nil {
			t.Fatal("expected error")
		}
		if len(repo.entries) != 1 {
			t.Errorf("expected ledger entry despite save failure, got %d", len(repo.entries))
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		if err := NewService(nil, 0).Persist(ctx, txn, a, false); err != nil {
			t.Errorf("expected nil error without repository, got %v", err)
		}
	})
}

func TestPersistFailure(t *testing.T) {
	ctx := context.Background()
	txn := &domain.TransactionRecord{ID: "tx-8", AccountNumber: "ACC-1", TransactionAmount: amount(42)}

	t.Run("StoresFailedStatus", func(t *testing.T) {
		repo := &memRepo{}
		if err := NewService(repo, 0).PersistFailure(ctx, "req-8", txn, "model inference failed"); err != nil {
			t.Fatalf("PersistFailure failed: %v", err)
		}
		if len(repo.entries) != 0 {
			t.Errorf("expected no ledger entry, got %d", len(repo.entries))
		}
		if len(repo.assessments) != 1 {
			t.Fatalf("expected 1 stored assessment, got %d", len(repo.assessments))
		}
		stored := repo.assessments[0]
		if stored.ID != "req-8" || stored.Status != domain.StatusFailed || stored.Error != "model inference failed" {
			t.Errorf("unexpected stored assessment: %+v", stored)
		}
		if stored.TxID != "tx-8" || stored.CreatedAt.IsZero() {
			t.Errorf("expected tx id and timestamp, got %+v", stored)
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		if err := NewService(nil, 0).PersistFailure(ctx, "req-8", txn, "x"); err != nil {
			t.Errorf("expected nil without a repository, got %v", err)
		}
	})
}
