package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FarePolicy is the system-wide per-station fare rate. Exactly one row
// exists; it is created with DefaultFareRate on first use.
type FarePolicy struct {
	ID        int             `json:"id" db:"id"`
	Rate      decimal.Decimal `json:"rate" db:"rate"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// DefaultFareRate is the rate installed when no fare policy exists yet.
var DefaultFareRate = decimal.NewFromInt(5)

// FareRateRequest represents an admin rate change
type FareRateRequest struct {
	Rate string `json:"rate" validate:"required"`
}
