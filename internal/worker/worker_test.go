package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ensemble"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/models"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/spike"
)

type memRepo struct {
	mu          sync.Mutex
	entries     []*domain.LedgerEntry
	assessments map[string]*domain.StoredAssessment
}

func newMemRepo() *memRepo {
	return &memRepo{assessments: make(map[string]*domain.StoredAssessment)}
}

func (m *memRepo) SaveLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepo) RecentLedgerEntries(ctx context.Context, account string, limit int) ([]*domain.LedgerEntry, error) {
	return nil, nil
}

func (m *memRepo) SaveAssessment(ctx context.Context, a *domain.StoredAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[a.ID] = a
	return nil
}

func (m *memRepo) GetAssessment(ctx context.Context, id string) (*domain.StoredAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assessments[id], nil
}

func (m *memRepo) Ping(ctx context.Context) error { return nil }

func (m *memRepo) Close() error { return nil }

func newAssessor(t *testing.T, hist *history.Service) *pipeline.Assessor {
	t.Helper()
	store, err := models.LoadStore("../../artifacts", "manifest.yaml")
	if err != nil {
		t.Fatalf("LoadStore failed: %v", err)
	}
	bank, err := models.NewBankFromStore(store)
	if err != nil {
		t.Fatalf("NewBankFromStore failed: %v", err)
	}
	combiner, err := ensemble.NewCombiner(domain.ModeBlended, domain.DefaultWeights())
	if err != nil {
		t.Fatalf("NewCombiner failed: %v", err)
	}
	a, err := pipeline.NewAssessor(pipeline.Config{
		Preparer: features.NewPreparer(store.Vocabulary()),
		Bank:     bank,
		Analyzer: spike.NewAnalyzer(0),
		History:  hist,
		Combiner: combiner,
	})
	if err != nil {
		t.Fatalf("NewAssessor failed: %v", err)
	}
	return a
}

func mustPolicy(t *testing.T, expr string) *policy.Policy {
	t.Helper()
	p, err := policy.New(expr)
	if err != nil {
		t.Fatalf("policy.New failed: %v", err)
	}
	return p
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }
func intp(v int) *int        { return &v }

func transaction(id string) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:                       id,
		AccountNumber:            "ACC-00098765",
		Location:                 "Lisbon",
		TransactionAmount:        f64(250),
		TransactionType:          str("Credit"),
		CustomerOccupation:       str("Doctor"),
		AccountBalance:           f64(18000),
		DayOfWeek:                str("Friday"),
		Hour:                     intp(9),
		TimeGap:                  f64(12),
		HourOfTransaction:        intp(9),
		AgeGroup:                 str("Senior"),
		DaysSinceLastTransaction: intp(2),
		Amount:                   f64(250),
		OldBalanceOrig:           f64(18000),
		NewBalanceOrig:           f64(17750),
		OldBalanceDest:           f64(500),
		NewBalanceDest:           f64(750),
		ErrorBalanceOrig:         f64(0),
		ErrorBalanceDest:         f64(0),
	}
}

func publishTransaction(t *testing.T, eventBus domain.EventBus, requestID string, txn *domain.TransactionRecord) {
	t.Helper()
	payload, _ := json.Marshal(domain.TransactionEnvelope{RequestID: requestID, Transaction: txn})
	if err := eventBus.Publish(context.Background(), domain.TopicTransactionReceived, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func collect(t *testing.T, eventBus domain.EventBus, topic string) (func() []domain.AssessmentEvent, func()) {
	t.Helper()
	var mu sync.Mutex
	var events []domain.AssessmentEvent
	sub, err := eventBus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.AssessmentEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Errorf("failed to parse event: %v", err)
			return err
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	get := func() []domain.AssessmentEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.AssessmentEvent(nil), events...)
	}
	return get, func() { _ = sub.Unsubscribe() }
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		hist := history.NewService(nil, 0)
		worker := NewWorker(eventBus, newAssessor(t, hist), hist, nil)

		if err := worker.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionReceived {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionReceived, stats.Topics[0])
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if err := worker.Stop(); err != nil {
			t.Errorf("second Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		repo := newMemRepo()
		hist := history.NewService(repo, 0)
		w := NewWorker(eventBus, newAssessor(t, hist), hist, mustPolicy(t, "fraud_percentage > 2.0"))
		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed, stopCompleted := collect(t, eventBus, domain.TopicAssessmentCompleted)
		defer stopCompleted()
		alerts, stopAlerts := collect(t, eventBus, domain.TopicAlert)
		defer stopAlerts()

		publishTransaction(t, eventBus, "req-001", transaction("tx-001"))

		eventually(t, func() bool { return len(completed()) == 1 })

		ev := completed()[0]
		if ev.RequestID != "req-001" {
			t.Errorf("expected requestID 'req-001', got '%s'", ev.RequestID)
		}
		if ev.TxID != "tx-001" {
			t.Errorf("expected txID 'tx-001', got '%s'", ev.TxID)
		}
		if ev.Account != "****8765" {
			t.Errorf("expected masked account, got '%s'", ev.Account)
		}
		if ev.Assessment == nil || ev.Assessment.ID != "req-001" {
			t.Fatalf("expected assessment keyed by request id, got %+v", ev.Assessment)
		}
		if len(ev.Assessment.ModelScores) != 5 {
			t.Errorf("expected 5 model scores, got %d", len(ev.Assessment.ModelScores))
		}
		if ev.Alerted {
			t.Error("expected no alert for an unreachable threshold")
		}

		stored, _ := repo.GetAssessment(context.Background(), "req-001")
		if stored == nil {
			t.Fatal("expected stored assessment")
		}
		if len(repo.entries) != 1 {
			t.Errorf("expected 1 ledger entry, got %d", len(repo.entries))
		}

		time.Sleep(20 * time.Millisecond)
		if n := len(alerts()); n != 0 {
			t.Errorf("expected no alerts, got %d", n)
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		repo := newMemRepo()
		hist := history.NewService(repo, 0)
		w := NewWorker(eventBus, newAssessor(t, hist), hist, mustPolicy(t, "fraud_percentage >= 0.0"))
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		alerts, stopAlerts := collect(t, eventBus, domain.TopicAlert)
		defer stopAlerts()

		publishTransaction(t, eventBus, "req-alert", transaction("tx-alert"))

		eventually(t, func() bool { return len(alerts()) == 1 })

		if !alerts()[0].Alerted {
			t.Error("expected alert event to be flagged")
		}
		eventually(t, func() bool {
			stored, _ := repo.GetAssessment(context.Background(), "req-alert")
			return stored != nil && stored.Alerted
		})
	})

	t.Run("InvalidPayloadIsSkipped", func(t *testing.T) {
		hist := history.NewService(nil, 0)
		w := NewWorker(eventBus, newAssessor(t, hist), hist, nil)
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed, stop := collect(t, eventBus, domain.TopicAssessmentCompleted)
		defer stop()

		eventBus.Publish(context.Background(), domain.TopicTransactionReceived, []byte("not json"))
		eventBus.Publish(context.Background(), domain.TopicTransactionReceived, []byte(`{"requestId":"empty"}`))

		bad := transaction("tx-bad")
		bad.TransactionAmount = nil
		publishTransaction(t, eventBus, "req-bad", bad)

		publishTransaction(t, eventBus, "req-good", transaction("tx-good"))

		eventually(t, func() bool { return len(completed()) == 1 })
		if got := completed()[0].RequestID; got != "req-good" {
			t.Errorf("expected only the valid transaction to complete, got %s", got)
		}
	})

	t.Run("FailedAssessmentIsRecorded", func(t *testing.T) {
		repo := newMemRepo()
		hist := history.NewService(repo, 0)
		w := NewWorker(eventBus, newAssessor(t, hist), hist, nil)
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		failed, stop := collect(t, eventBus, domain.TopicAssessmentFailed)
		defer stop()

		bad := transaction("tx-fail")
		bad.DayOfWeek = str("Caturday")
		publishTransaction(t, eventBus, "req-fail", bad)

		eventually(t, func() bool { return len(failed()) == 1 })

		ev := failed()[0]
		if ev.RequestID != "req-fail" || ev.Assessment != nil {
			t.Errorf("unexpected failure event %+v", ev)
		}
		if !strings.Contains(ev.Error, "DayOfWeek") {
			t.Errorf("expected failure reason to name the field, got %q", ev.Error)
		}

		stored, _ := repo.GetAssessment(context.Background(), "req-fail")
		if stored == nil {
			t.Fatal("expected failed assessment to be stored")
		}
		if stored.Status != domain.StatusFailed {
			t.Errorf("expected status %q, got %q", domain.StatusFailed, stored.Status)
		}
		if stored.TxID != "tx-fail" {
			t.Errorf("expected txID 'tx-fail', got %q", stored.TxID)
		}
		repo.mu.Lock()
		entries := len(repo.entries)
		repo.mu.Unlock()
		if entries != 0 {
			t.Errorf("expected no ledger entry for a failed assessment, got %d", entries)
		}
	})
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Schema", domain.NewSchemaError("Hour", "required"), `schema error: field "Hour": required`},
		{"Model", &domain.ModelInferenceError{Model: "svm", Err: errors.New("boom")}, "model inference failed"},
		{"Other", errors.New("db down"), "assessment failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(fmt.Errorf("wrapped: %w", tt.err)); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWorkerConcurrentLoad(t *testing.T) {
	eventBus := bus.NewChannelBus(1000)
	defer eventBus.Close()

	hist := history.NewService(nil, 0)
	w := NewWorker(eventBus, newAssessor(t, hist), hist, nil)
	if err := w.Start(Config{WorkerCount: 4}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var processed atomic.Int32
	eventBus.Subscribe(context.Background(), domain.TopicAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
		processed.Add(1)
		return nil
	})

	const count = 40
	for i := 0; i < count; i++ {
		publishTransaction(t, eventBus, "", transaction("tx-load"))
	}

	eventually(t, func() bool { return processed.Load() == count })
}
