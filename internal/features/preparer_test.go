package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }
func intp(v int) *int        { return &v }

func validRecord() *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:                       "tx-1",
		TransactionAmount:        f64(250.5),
		TransactionType:          str("Debit"),
		CustomerOccupation:       str("Engineer"),
		AccountBalance:           f64(9000),
		DayOfWeek:                str("Monday"),
		Hour:                     intp(14),
		TimeGap:                  f64(3.5),
		HourOfTransaction:        intp(14),
		AgeGroup:                 str("Adult"),
		DaysSinceLastTransaction: intp(2),
		Amount:                   f64(250.5),
		OldBalanceOrig:           f64(9000),
		NewBalanceOrig:           f64(8749.5),
		OldBalanceDest:           f64(100),
		NewBalanceDest:           f64(350.5),
		ErrorBalanceOrig:         f64(0),
		ErrorBalanceDest:         f64(0),
	}
}

func TestPrepare(t *testing.T) {
	p := NewPreparer(nil)

	prepared, err := p.Prepare(validRecord())
	require.NoError(t, err)

	assert.Equal(t, "tx-1", prepared.TxID)
	assert.Equal(t, LegacyColumns, prepared.Legacy.Columns)
	require.Len(t, prepared.Legacy.Values, len(LegacyColumns))
	assert.Equal(t, 250.5, prepared.Legacy.Values[0].Num)
	assert.Equal(t, "Debit", prepared.Legacy.Values[1].Str)
	assert.True(t, prepared.Legacy.Values[1].Categorical)
	assert.Equal(t, []float64{250.5, 9000, 8749.5, 100, 350.5, 0, 0}, prepared.Boosted)
}

func TestPrepareRenamesHourOfTransaction(t *testing.T) {
	txn := validRecord()
	txn.Hour = intp(9)
	txn.HourOfTransaction = intp(21)

	prepared, err := NewPreparer(nil).Prepare(txn)
	require.NoError(t, err)

	v, ok := prepared.Legacy.Lookup("Hour of Transaction")
	require.True(t, ok)
	assert.Equal(t, 21.0, v.Num)

	_, ok = prepared.Legacy.Lookup("Hour_of_Transaction")
	assert.False(t, ok, "incoming name must not survive preparation")
}

func TestPrepareSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.TransactionRecord)
		field  string
	}{
		{"missing amount", func(r *domain.TransactionRecord) { r.TransactionAmount = nil }, "TransactionAmount"},
		{"non-positive amount", func(r *domain.TransactionRecord) { r.TransactionAmount = f64(0) }, "TransactionAmount"},
		{"missing type", func(r *domain.TransactionRecord) { r.TransactionType = nil }, "TransactionType"},
		{"empty occupation", func(r *domain.TransactionRecord) { r.CustomerOccupation = str("") }, "CustomerOccupation"},
		{"hour out of range", func(r *domain.TransactionRecord) { r.Hour = intp(24) }, "Hour"},
		{"hour of transaction negative", func(r *domain.TransactionRecord) { r.HourOfTransaction = intp(-1) }, "Hour_of_Transaction"},
		{"missing days since", func(r *domain.TransactionRecord) { r.DaysSinceLastTransaction = nil }, "Days_Since_Last_Transaction"},
		{"missing boosted balance", func(r *domain.TransactionRecord) { r.NewBalanceDest = nil }, "newBalanceDest"},
		{"missing error balance", func(r *domain.TransactionRecord) { r.ErrorBalanceOrig = nil }, "errorBalanceOrig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := validRecord()
			tt.mutate(txn)

			_, err := NewPreparer(nil).Prepare(txn)
			require.Error(t, err)

			var se *domain.SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestPrepareVocabulary(t *testing.T) {
	p := NewPreparer(Vocabulary{
		"TransactionType": {"Credit", "Debit"},
		"AgeGroup":        {"Young", "Adult", "Senior"},
	})

	_, err := p.Prepare(validRecord())
	require.NoError(t, err)

	txn := validRecord()
	txn.TransactionType = str("Wire")
	_, err = p.Prepare(txn)
	require.Error(t, err)
	assert.True(t, domain.IsSchemaError(err))

	// Columns absent from the vocabulary are not checked.
	txn = validRecord()
	txn.DayOfWeek = str("Someday")
	_, err = p.Prepare(txn)
	assert.NoError(t, err)
}

func TestPrepareNil(t *testing.T) {
	_, err := NewPreparer(nil).Prepare(nil)
	assert.True(t, domain.IsSchemaError(err))
}
