package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card represents an RFID fare card
type Card struct {
	ID         int             `json:"id" db:"id"`
	CardID     string          `json:"card_id" db:"card_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Balance    decimal.Decimal `json:"balance" db:"balance"`
	Status     string          `json:"status" db:"status"`
	IssuedAt   time.Time       `json:"issued_at" db:"issued_at"`
	ExpiresAt  time.Time       `json:"expires_at" db:"expires_at"`
	LastUsedAt *time.Time      `json:"last_used_at" db:"last_used_at"`
}

// CardIssueRequest represents new card issuance
type CardIssueRequest struct {
	UserID         string `json:"userId" validate:"required"`
	InitialBalance string `json:"initialBalance" validate:"omitempty"`
	Status         string `json:"status" validate:"omitempty,oneof=active inactive blocked"`
}

// TopUpRequest represents a balance top-up
type TopUpRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// CardStatusRequest represents a status change
type CardStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive blocked"`
}

// Card status values
const (
	CardStatusActive   = "active"
	CardStatusInactive = "inactive"
	CardStatusBlocked  = "blocked"
)

// IsUsable reports whether the card may open a new trip.
func (c *Card) IsUsable() bool {
	return c.Status == CardStatusActive
}
