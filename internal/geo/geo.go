// Package geo asks the language model whether an account's recent
// transaction locations are physically reachable in the elapsed time.
package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/llm"
	"github.com/opensource-finance/harrier/internal/spike"
)

// DefaultMaxHistory is the number of prior transactions sent to the model.
const DefaultMaxHistory = 10

// Verdict strings. Anything else is treated as feasible.
const (
	VerdictInfeasible = "1"
	VerdictFeasible   = "0"
)

// Checker produces the ai_location_score signal.
// It fails open: skipped checks, timeouts, gateway errors and malformed
// replies all contribute 0.
type Checker struct {
	completer  llm.Completer
	timeout    time.Duration
	maxHistory int
	memo       domain.Cache
	memoTTL    time.Duration
	now        func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerdictMemo caches verdicts by prompt so identical histories skip
// the model call.
func WithVerdictMemo(c domain.Cache, ttl time.Duration) Option {
	return func(ch *Checker) {
		if ttl > 0 {
			ch.memo = c
			ch.memoTTL = ttl
		}
	}
}

// WithClock sets the receive-time source used for untimestamped transactions.
func WithClock(now func() time.Time) Option {
	return func(ch *Checker) {
		if now != nil {
			ch.now = now
		}
	}
}

// NewChecker creates a checker. A nil completer disables the check.
func NewChecker(completer llm.Completer, timeout time.Duration, maxHistory int, opts ...Option) *Checker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	c := &Checker{completer: completer, timeout: timeout, maxHistory: maxHistory, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns 1 when the model reports infeasible travel, else 0.
func (c *Checker) Check(ctx context.Context, txn *domain.TransactionRecord, history []domain.PreviousTransaction) float64 {
	if len(history) == 0 {
		return 0
	}
	if c.completer == nil {
		slog.Debug("geofeasibility check disabled", "txID", txn.ID)
		return 0
	}

	prompt := BuildPrompt(txn, c.recent(history), c.now())
	key := promptKey(prompt)

	if c.memo != nil {
		if raw, err := c.memo.Get(ctx, domain.NamespaceGeo, key); err == nil && raw != nil {
			score, _ := ParseVerdict(string(raw))
			return score
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply, err := c.completer.Complete(callCtx, prompt)
	if err != nil {
		slog.Warn("geofeasibility check failed open",
			"stage", "geo",
			"txID", txn.ID,
			"account", domain.MaskAccount(txn.AccountNumber),
			"error", err,
		)
		return 0
	}

	score, ok := ParseVerdict(reply)
	if !ok {
		slog.Warn("geofeasibility reply malformed",
			"stage", "geo",
			"txID", txn.ID,
			"error", domain.ErrMalformedUpstreamResponse,
			"replyLength", len(reply),
		)
		return 0
	}

	if c.memo != nil {
		if err := c.memo.Set(ctx, domain.NamespaceGeo, key, []byte(reply), c.memoTTL); err != nil {
			slog.Debug("geofeasibility memo write failed", "error", err)
		}
	}
	return score
}

func (c *Checker) recent(history []domain.PreviousTransaction) []domain.PreviousTransaction {
	sorted := spike.SortByRecency(history)
	if len(sorted) > c.maxHistory {
		sorted = sorted[:c.maxHistory]
	}
	return sorted
}

// ParseVerdict maps the exact strings "1" and "0"; anything else is 0 and
// reported as not ok.
func ParseVerdict(reply string) (float64, bool) {
	switch reply {
	case VerdictInfeasible:
		return 1, true
	case VerdictFeasible:
		return 0, true
	default:
		return 0, false
	}
}

// BuildPrompt renders the feasibility question. recent must already be
// ordered most recent first. received stands in for a missing transaction
// timestamp.
func BuildPrompt(txn *domain.TransactionRecord, recent []domain.PreviousTransaction, received time.Time) string {
	var b strings.Builder
	b.WriteString("You check bank transactions for impossible travel.\n")
	b.WriteString("Transactions of one account, most recent first:\n")

	if txn != nil && txn.Location != "" {
		at := received
		if txn.Timestamp != nil {
			at = *txn.Timestamp
		}
		when := at.UTC().Format(time.RFC3339)
		amount := "unknown"
		if txn.TransactionAmount != nil {
			amount = fmt.Sprintf("%.2f", *txn.TransactionAmount)
		}
		fmt.Fprintf(&b, "current: location=%q amount=%s time=%s\n", txn.Location, amount, when)
	}
	for i, tx := range recent {
		fmt.Fprintf(&b, "%d: location=%q amount=%s time=%s\n",
			i+1, tx.Location, tx.Amount.StringFixed(2), tx.UpdatedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("For each consecutive pair, compare the distance between the locations with the time between them. ")
	b.WriteString("Answer 1 if any pair could not be travelled in the elapsed time. ")
	b.WriteString("Answer 0 if every pair is feasible or the location does not change.\n")
	b.WriteString("Reply with the single digit 0 or 1 and nothing else.")
	return b.String()
}

func promptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
