package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is the unit of work submitted for scoring.
//
// Model inputs are pointers so the feature preparer can tell an absent
// field from a zero value.
type TransactionRecord struct {
	// Optional identifiers
	ID                    string     `json:"id,omitempty"`
	AccountNumber         string     `json:"accountNumber,omitempty"`
	ReceiverAccountNumber string     `json:"receiverAccountNumber,omitempty"`
	Timestamp             *time.Time `json:"timestamp,omitempty"`

	// Legacy feature set
	TransactionAmount        *float64 `json:"TransactionAmount"`
	TransactionType          *string  `json:"TransactionType"`
	CustomerOccupation       *string  `json:"CustomerOccupation"`
	AccountBalance           *float64 `json:"AccountBalance"`
	DayOfWeek                *string  `json:"DayOfWeek"`
	Hour                     *int     `json:"Hour"`
	TimeGap                  *float64 `json:"Time_Gap"`
	HourOfTransaction        *int     `json:"Hour_of_Transaction"`
	AgeGroup                 *string  `json:"AgeGroup"`
	DaysSinceLastTransaction *int     `json:"Days_Since_Last_Transaction"`

	// Boosted feature set
	Amount           *float64 `json:"amount"`
	OldBalanceOrig   *float64 `json:"oldBalanceOrig"`
	NewBalanceOrig   *float64 `json:"newBalanceOrig"`
	OldBalanceDest   *float64 `json:"oldBalanceDest"`
	NewBalanceDest   *float64 `json:"newBalanceDest"`
	ErrorBalanceOrig *float64 `json:"errorBalanceOrig"`
	ErrorBalanceDest *float64 `json:"errorBalanceDest"`

	Location string `json:"location"`

	PreviousTransactions []PreviousTransaction `json:"previousTransactions"`
}

// PreviousTransaction is an immutable fact from the requester's history.
type PreviousTransaction struct {
	SenderAccountNumber   string          `json:"senderAccountNumber,omitempty"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Location              string          `json:"location"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// LedgerEntry is a scored transaction appended to an account's history.
type LedgerEntry struct {
	ID                    string          `json:"id"`
	AccountNumber         string          `json:"accountNumber"`
	ReceiverAccountNumber string          `json:"receiverAccountNumber"`
	Amount                decimal.Decimal `json:"amount"`
	Location              string          `json:"location"`
	FraudPercentage       float64         `json:"fraudPercentage"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// ToPrevious converts a stored ledger entry into history for a later request.
func (e *LedgerEntry) ToPrevious() PreviousTransaction {
	return PreviousTransaction{
		SenderAccountNumber:   e.AccountNumber,
		ReceiverAccountNumber: e.ReceiverAccountNumber,
		Amount:                e.Amount,
		Location:              e.Location,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

// MaskAccount returns an account number safe for logs.
func MaskAccount(account string) string {
	if account == "" {
		return ""
	}
	if len(account) <= 4 {
		return "****"
	}
	return "****" + account[len(account)-4:]
}
