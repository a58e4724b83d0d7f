package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// LabelledRow is one replayable transaction with its ground truth.
type LabelledRow struct {
	Transaction *domain.TransactionRecord
	IsFraud     bool
}

// Header aliases, lower-cased. PaySim exports spell the origin balance
// "oldbalanceOrg" and some exports keep the trained "Hour of Transaction".
var columnAliases = map[string]string{
	"oldbalanceorg":       "oldbalanceorig",
	"hour of transaction": "hour_of_transaction",
}

func readLabelledCSV(path string, limit int, fraudOnly bool) ([]LabelledRow, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return parseLabelled(file, limit, fraudOnly)
}

func parseLabelled(r io.Reader, limit int, fraudOnly bool) ([]LabelledRow, int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		colIndex[name] = i
	}
	if _, ok := colIndex["isfraud"]; !ok {
		return nil, 0, errors.New("missing isFraud column")
	}

	var rows []LabelledRow
	skipped := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		row, err := parseRow(colIndex, record, line)
		if err != nil {
			skipped++
			continue
		}
		if fraudOnly && !row.IsFraud {
			continue
		}

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, skipped, nil
}

type rowReader struct {
	cols   map[string]int
	record []string
	err    error
}

func (r *rowReader) raw(col string) (string, bool) {
	i, ok := r.cols[col]
	if !ok || i >= len(r.record) {
		return "", false
	}
	return strings.TrimSpace(r.record[i]), true
}

func (r *rowReader) number(col string) *float64 {
	s, ok := r.raw(col)
	if !ok || s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.err = errors.Join(r.err, fmt.Errorf("%s: %w", col, err))
		return nil
	}
	return &v
}

func (r *rowReader) integer(col string) *int {
	f := r.number(col)
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

func (r *rowReader) text(col string) *string {
	s, ok := r.raw(col)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func parseRow(cols map[string]int, record []string, line int) (LabelledRow, error) {
	r := &rowReader{cols: cols, record: record}

	txn := &domain.TransactionRecord{
		ID:                       fmt.Sprintf("bench-%d", line),
		TransactionAmount:        r.number("transactionamount"),
		TransactionType:          r.text("transactiontype"),
		CustomerOccupation:       r.text("customeroccupation"),
		AccountBalance:           r.number("accountbalance"),
		DayOfWeek:                r.text("dayofweek"),
		Hour:                     r.integer("hour"),
		TimeGap:                  r.number("time_gap"),
		HourOfTransaction:        r.integer("hour_of_transaction"),
		AgeGroup:                 r.text("agegroup"),
		DaysSinceLastTransaction: r.integer("days_since_last_transaction"),
		Amount:                   r.number("amount"),
		OldBalanceOrig:           r.number("oldbalanceorig"),
		NewBalanceOrig:           r.number("newbalanceorig"),
		OldBalanceDest:           r.number("oldbalancedest"),
		NewBalanceDest:           r.number("newbalancedest"),
		ErrorBalanceOrig:         r.number("errorbalanceorig"),
		ErrorBalanceDest:         r.number("errorbalancedest"),
	}
	if s := r.text("location"); s != nil {
		txn.Location = *s
	}
	if s := r.text("nameorig"); s != nil {
		txn.AccountNumber = *s
	}
	if s := r.text("namedest"); s != nil {
		txn.ReceiverAccountNumber = *s
	}
	deriveErrorBalances(txn)

	label, _ := r.raw("isfraud")
	if r.err != nil {
		return LabelledRow{}, r.err
	}
	if txn.Amount == nil {
		return LabelledRow{}, errors.New("amount is required")
	}

	return LabelledRow{Transaction: txn, IsFraud: label == "1"}, nil
}

// deriveErrorBalances fills the balance discrepancy features when the
// export only carries raw balances.
func deriveErrorBalances(txn *domain.TransactionRecord) {
	if txn.Amount == nil {
		return
	}
	amount := *txn.Amount
	if txn.ErrorBalanceOrig == nil && txn.OldBalanceOrig != nil && txn.NewBalanceOrig != nil {
		v := *txn.NewBalanceOrig + amount - *txn.OldBalanceOrig
		txn.ErrorBalanceOrig = &v
	}
	if txn.ErrorBalanceDest == nil && txn.OldBalanceDest != nil && txn.NewBalanceDest != nil {
		v := *txn.OldBalanceDest + amount - *txn.NewBalanceDest
		txn.ErrorBalanceDest = &v
	}
}
