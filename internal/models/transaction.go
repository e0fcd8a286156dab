package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one immutable row in the fare ledger. Entry taps carry a
// zero amount; exit taps carry the settled fare and point back at the entry
// they close. Rows are never updated or deleted.
type Transaction struct {
	ID                  int             `json:"id" db:"id"`
	TransactionID       string          `json:"transaction_id" db:"transaction_id"`
	UserID              string          `json:"user_id" db:"user_id"`
	CardID              string          `json:"card_id" db:"card_id"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	Station             string          `json:"station,omitempty" db:"station"`
	Type                string          `json:"type" db:"type"`
	OccurredAt          time.Time       `json:"occurred_at" db:"occurred_at"`
	PairedTransactionID string          `json:"paired_transaction_id,omitempty" db:"paired_transaction_id"`
}

// Transaction types
const (
	TxTypeEntry = "entry"
	TxTypeExit  = "exit"
	TxTypeTopUp = "top-up"
)

// Trip is a matched (entry, exit) pair with its settled fare, produced by
// replaying a card's transaction log.
type Trip struct {
	Entry TripLeg         `json:"entry"`
	Exit  TripLeg         `json:"exit"`
	Fare  decimal.Decimal `json:"fare"`
}

// TripLeg is one end of a trip.
type TripLeg struct {
	Station string    `json:"station"`
	Date    time.Time `json:"date"`
}
