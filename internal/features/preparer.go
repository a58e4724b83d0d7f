// Package features maps an incoming transaction onto the column sets the
// pretrained models were fitted against.
package features

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Trained column names of the legacy feature set, in order.
// "Hour of Transaction" carries a space in the trained schema while the
// request field is Hour_of_Transaction.
var LegacyColumns = []string{
	"TransactionAmount",
	"TransactionType",
	"CustomerOccupation",
	"AccountBalance",
	"DayOfWeek",
	"Hour",
	"Time_Gap",
	"Hour of Transaction",
	"AgeGroup",
	"Days_Since_Last_Transaction",
}

// BoostedColumns are the gradient-boosted model inputs, in order.
var BoostedColumns = []string{
	"amount",
	"oldBalanceOrig",
	"newBalanceOrig",
	"oldBalanceDest",
	"newBalanceDest",
	"errorBalanceOrig",
	"errorBalanceDest",
}

// Value is one cell of a legacy row.
type Value struct {
	Num         float64
	Str         string
	Categorical bool
}

// LegacyRow is the ordered legacy feature vector keyed by trained column name.
type LegacyRow struct {
	Columns []string
	Values  []Value
}

// Lookup returns the value of a trained column.
func (r LegacyRow) Lookup(column string) (Value, bool) {
	i := slices.Index(r.Columns, column)
	if i < 0 {
		return Value{}, false
	}
	return r.Values[i], true
}

// Prepared holds both feature sets derived from one transaction.
type Prepared struct {
	TxID    string
	Legacy  LegacyRow
	Boosted []float64
}

// Vocabulary lists the known categories per trained column.
type Vocabulary map[string][]string

// Preparer validates and reorders transaction fields.
// It holds no mutable state and is safe for concurrent use.
type Preparer struct {
	vocab Vocabulary
}

// NewPreparer creates a preparer. A nil vocabulary skips category checks.
func NewPreparer(vocab Vocabulary) *Preparer {
	return &Preparer{vocab: vocab}
}

// Prepare returns the legacy and boosted feature sets for txn.
func (p *Preparer) Prepare(txn *domain.TransactionRecord) (*Prepared, error) {
	if txn == nil {
		return nil, domain.NewSchemaError("transaction", "missing")
	}

	amount, err := requireFloat("TransactionAmount", txn.TransactionAmount)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, domain.NewSchemaError("TransactionAmount", "must be positive")
	}
	txType, err := p.requireCategory("TransactionType", "TransactionType", txn.TransactionType)
	if err != nil {
		return nil, err
	}
	occupation, err := p.requireCategory("CustomerOccupation", "CustomerOccupation", txn.CustomerOccupation)
	if err != nil {
		return nil, err
	}
	balance, err := requireFloat("AccountBalance", txn.AccountBalance)
	if err != nil {
		return nil, err
	}
	day, err := p.requireCategory("DayOfWeek", "DayOfWeek", txn.DayOfWeek)
	if err != nil {
		return nil, err
	}
	hour, err := requireHour("Hour", txn.Hour)
	if err != nil {
		return nil, err
	}
	gap, err := requireFloat("Time_Gap", txn.TimeGap)
	if err != nil {
		return nil, err
	}
	hourOfTx, err := requireHour("Hour_of_Transaction", txn.HourOfTransaction)
	if err != nil {
		return nil, err
	}
	age, err := p.requireCategory("AgeGroup", "AgeGroup", txn.AgeGroup)
	if err != nil {
		return nil, err
	}
	if txn.DaysSinceLastTransaction == nil {
		return nil, domain.NewSchemaError("Days_Since_Last_Transaction", "required")
	}
	if *txn.DaysSinceLastTransaction < 0 {
		return nil, domain.NewSchemaError("Days_Since_Last_Transaction", "must not be negative")
	}

	legacy := LegacyRow{
		Columns: LegacyColumns,
		Values: []Value{
			{Num: amount},
			{Str: txType, Categorical: true},
			{Str: occupation, Categorical: true},
			{Num: balance},
			{Str: day, Categorical: true},
			{Num: float64(hour)},
			{Num: gap},
			{Num: float64(hourOfTx)},
			{Str: age, Categorical: true},
			{Num: float64(*txn.DaysSinceLastTransaction)},
		},
	}

	boostedInputs := []*float64{
		txn.Amount,
		txn.OldBalanceOrig,
		txn.NewBalanceOrig,
		txn.OldBalanceDest,
		txn.NewBalanceDest,
		txn.ErrorBalanceOrig,
		txn.ErrorBalanceDest,
	}
	boosted := make([]float64, len(BoostedColumns))
	for i, v := range boostedInputs {
		f, err := requireFloat(BoostedColumns[i], v)
		if err != nil {
			return nil, err
		}
		boosted[i] = f
	}
	if boosted[0] <= 0 {
		return nil, domain.NewSchemaError("amount", "must be positive")
	}

	return &Prepared{TxID: txn.ID, Legacy: legacy, Boosted: boosted}, nil
}

func requireFloat(field string, v *float64) (float64, error) {
	if v == nil {
		return 0, domain.NewSchemaError(field, "required")
	}
	return *v, nil
}

func requireHour(field string, v *int) (int, error) {
	if v == nil {
		return 0, domain.NewSchemaError(field, "required")
	}
	if *v < 0 || *v > 23 {
		return 0, domain.NewSchemaError(field, fmt.Sprintf("hour %d out of range 0-23", *v))
	}
	return *v, nil
}

func (p *Preparer) requireCategory(field, column string, v *string) (string, error) {
	if v == nil || *v == "" {
		return "", domain.NewSchemaError(field, "required")
	}
	if known, ok := p.vocab[column]; ok && !slices.Contains(known, *v) {
		return "", domain.NewSchemaError(field, fmt.Sprintf("unknown category %q", *v))
	}
	return *v, nil
}
