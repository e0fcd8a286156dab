package services

import "errors"

// Domain errors surfaced by the fare ledger engine. Each is a distinct,
// recoverable condition; handlers map them to HTTP statuses. A failed exit
// leaves the card's open entry untouched so the rider can retry the tap.
var (
	ErrInvalidStation    = errors.New("unknown station name")
	ErrCardNotFound      = errors.New("card not found")
	ErrCardNotUsable     = errors.New("card is not active")
	ErrFarePolicyUnset   = errors.New("fare rate not set")
	ErrNoOpenEntry       = errors.New("no matching entry transaction found")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidRate       = errors.New("fare rate must be positive")
	ErrInvalidAmount     = errors.New("amount must be positive")
)
