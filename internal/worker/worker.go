// Package worker provides async assessment processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
)

// DefaultWorkerCount is the pool size when none is configured.
const DefaultWorkerCount = 4

// Worker assesses transactions received from the EventBus.
type Worker struct {
	bus      domain.EventBus
	assessor *pipeline.Assessor
	history  *history.Service
	policy   *policy.Policy

	jobs          chan *domain.Message
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	stopOnce      sync.Once
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of concurrent assessments.
	WorkerCount int

	// QueueSize bounds messages waiting for a free worker.
	QueueSize int
}

// NewWorker creates a new async worker. A nil policy never alerts.
func NewWorker(bus domain.EventBus, assessor *pipeline.Assessor, hist *history.Service, pol *policy.Policy) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if hist == nil {
		hist = assessor.History()
	}
	return &Worker{
		bus:      bus,
		assessor: assessor,
		history:  hist,
		policy:   pol,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to received transactions and starts the pool.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * 16
	}

	w.jobs = make(chan *domain.Message, cfg.QueueSize)
	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionReceived, w.enqueue)
	if err != nil {
		w.cancel()
		w.wg.Wait()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("workers started",
		"worker_count", cfg.WorkerCount,
		"topic", domain.TopicTransactionReceived,
	)
	return nil
}

// enqueue hands a message to the pool, blocking while the queue is full.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.jobs:
			if err := w.processTransaction(w.ctx, msg); err != nil {
				slog.Error("transaction processing failed",
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// processTransaction assesses one transaction and publishes the outcome.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var env domain.TransactionEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("failed to parse transaction message: %w", err)
	}
	if env.Transaction == nil {
		return fmt.Errorf("message %s carries no transaction", msg.ID)
	}
	if env.RequestID == "" {
		env.RequestID = msg.ID
	}
	txn := env.Transaction

	slog.Debug("processing transaction",
		"txID", txn.ID,
		"request_id", env.RequestID,
	)

	assessment, err := w.assessor.Assess(ctx, txn)
	if err != nil {
		w.recordFailure(ctx, env, err)
		return fmt.Errorf("assessment failed: %w", err)
	}
	// The request id doubles as the assessment id so callers can poll for it.
	assessment.ID = env.RequestID

	alerted := false
	if w.policy != nil {
		alerted, err = w.policy.Evaluate(assessment)
		if err != nil {
			slog.Error("alert policy evaluation failed",
				"txID", txn.ID,
				"error", err,
			)
		}
	}

	if err := w.history.Persist(ctx, txn, assessment, alerted); err != nil {
		slog.Error("failed to persist assessment",
			"txID", txn.ID,
			"error", err,
		)
	}

	event := domain.AssessmentEvent{
		RequestID:  env.RequestID,
		TxID:       txn.ID,
		Account:    domain.MaskAccount(txn.AccountNumber),
		Assessment: assessment,
		Alerted:    alerted,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment event: %w", err)
	}

	if err := w.bus.Publish(ctx, domain.TopicAssessmentCompleted, payload); err != nil {
		slog.Error("failed to publish assessment",
			"txID", txn.ID,
			"error", err,
		)
	}

	if alerted {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"txID", txn.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction processed",
		"txID", txn.ID,
		"request_id", env.RequestID,
		"fraud_percentage", assessment.FraudPercentage,
		"alerted", alerted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers. Queued messages not yet picked up are
// dropped.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		for _, sub := range w.subscriptions {
			if err := sub.Unsubscribe(); err != nil {
				slog.Error("failed to unsubscribe",
					"topic", sub.Topic(),
					"error", err,
				)
			}
		}
		w.subscriptions = nil

		w.cancel()
		w.wg.Wait()

		slog.Info("workers stopped")
	})
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Queued            int      `json:"queued"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Queued:            len(w.jobs),
	}
}

// recordFailure stores and announces a submission that could not be
// assessed, so GET /assessments/{id} stops answering 404.
func (w *Worker) recordFailure(ctx context.Context, env domain.TransactionEnvelope, cause error) {
	txn := env.Transaction
	reason := failureReason(cause)

	if err := w.history.PersistFailure(ctx, env.RequestID, txn, reason); err != nil {
		slog.Error("failed to persist failed assessment",
			"txID", txn.ID,
			"request_id", env.RequestID,
			"error", err,
		)
	}

	payload, err := json.Marshal(domain.AssessmentEvent{
		RequestID: env.RequestID,
		TxID:      txn.ID,
		Account:   domain.MaskAccount(txn.AccountNumber),
		Error:     reason,
	})
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicAssessmentFailed, payload); err != nil {
		slog.Error("failed to publish assessment failure",
			"txID", txn.ID,
			"error", err,
		)
	}
}

// failureReason is the caller-facing message for a failed assessment.
// Schema errors name the field; anything else stays generic.
func failureReason(err error) string {
	var schemaErr *domain.SchemaError
	var modelErr *domain.ModelInferenceError
	switch {
	case errors.As(err, &schemaErr):
		return schemaErr.Error()
	case errors.As(err, &modelErr):
		return "model inference failed"
	default:
		return "assessment failed"
	}
}
