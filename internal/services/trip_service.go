package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/metropass/backend/internal/models"
	"github.com/shopspring/decimal"
)

// TripEngine pairs entry taps with exit taps and settles the fare. Per-card
// state is not stored anywhere: a card is "entry open" exactly when its most
// recent entry transaction has no later exit, which the exit path derives
// from the log itself.
type TripEngine struct {
	db        *sql.DB
	stations  *StationTable
	fares     *FarePolicyStore
	ledger    *CardLedger
	validator *ValidationHelper
}

// TapRequest is a single entry or exit scan event.
type TapRequest struct {
	CardID  string `json:"cardId" validate:"required"`
	Station string `json:"station" validate:"required"`
}

// NewTripEngine wires the engine to its collaborators.
func NewTripEngine(db *sql.DB, stations *StationTable, fares *FarePolicyStore, ledger *CardLedger) *TripEngine {
	return &TripEngine{
		db:        db,
		stations:  stations,
		fares:     fares,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// ProcessEntry records an entry tap. Entry is free; the fare is settled on
// exit. The fare policy must already be configured so the rider cannot be
// stranded at a station that cannot price the exit. Repeated entries without
// an interleaving exit are tolerated: the latest entry becomes the one the
// next exit settles against.
func (te *TripEngine) ProcessEntry(ctx context.Context, cardID, station string, at time.Time) (*models.Transaction, error) {
	if _, err := te.stations.Resolve(station); err != nil {
		return nil, err
	}

	card, err := te.ledger.Lookup(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !card.IsUsable() {
		return nil, ErrCardNotUsable
	}

	if _, err := te.fares.CurrentRate(ctx); err != nil {
		return nil, err
	}

	entry := &models.Transaction{
		TransactionID: uuid.NewString(),
		UserID:        card.UserID,
		CardID:        card.CardID,
		Amount:        decimal.Zero,
		Station:       station,
		Type:          models.TxTypeEntry,
		OccurredAt:    at,
	}

	tx, err := te.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertTransactionTx(tx, entry); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		UPDATE cards SET last_used_at = $1 WHERE card_id = $2
	`, at, card.CardID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[TRIP] Entry recorded for card %s at %s", card.CardID, station)
	return entry, nil
}

// ProcessExit closes the card's open entry: it computes the fare from the
// station distance and current rate, debits the card and appends the exit
// record as one atomic unit. On any failure nothing is written and the open
// entry stays open, so the rider can retry the tap.
func (te *TripEngine) ProcessExit(ctx context.Context, cardID, station string, at time.Time) (*models.Transaction, error) {
	exitOrdinal, err := te.stations.Resolve(station)
	if err != nil {
		return nil, err
	}

	card, err := te.ledger.Lookup(ctx, cardID)
	if err != nil {
		return nil, err
	}

	rate, err := te.fares.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := te.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Serialize exits per card: without the row lock two concurrent taps
	// could both read the same open entry and settle it twice.
	var lockedID int
	err = tx.QueryRow(`
		SELECT id FROM cards WHERE card_id = $1 FOR UPDATE
	`, card.CardID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}

	entryID, entryStation, err := te.findOpenEntryTx(tx, card.CardID)
	if err != nil {
		return nil, err
	}

	entryOrdinal, err := te.stations.Resolve(entryStation)
	if err != nil {
		return nil, err
	}

	distance := exitOrdinal - entryOrdinal
	if distance < 0 {
		distance = -distance
	}
	fare := rate.Mul(decimal.NewFromInt(int64(distance))).Round(2)

	// A zero-distance trip (or zero rate) is a fare of 0, not an error;
	// a debit of 0 always succeeds.
	if err := te.ledger.DebitTx(tx, card.CardID, fare); err != nil {
		return nil, err
	}

	exit := &models.Transaction{
		TransactionID:       uuid.NewString(),
		UserID:              card.UserID,
		CardID:              card.CardID,
		Amount:              fare,
		Station:             station,
		Type:                models.TxTypeExit,
		OccurredAt:          at,
		PairedTransactionID: entryID,
	}
	if err := insertTransactionTx(tx, exit); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[TRIP] Exit recorded for card %s: %s -> %s, %d stations, fare %s",
		card.CardID, entryStation, station, distance, fare)
	return exit, nil
}

// findOpenEntryTx returns the card's open entry: the most recent entry tap,
// provided no exit has been recorded after it.
func (te *TripEngine) findOpenEntryTx(tx *sql.Tx, cardID string) (string, string, error) {
	var entryID, station string
	err := tx.QueryRow(`
		SELECT transaction_id, station
		FROM transactions
		WHERE card_id = $1 AND type = 'entry'
		  AND occurred_at > COALESCE((
			SELECT MAX(occurred_at) FROM transactions
			WHERE card_id = $1 AND type = 'exit'
		  ), 'epoch'::timestamptz)
		ORDER BY occurred_at DESC
		LIMIT 1
	`, cardID).Scan(&entryID, &station)
	if err == sql.ErrNoRows {
		return "", "", ErrNoOpenEntry
	}
	if err != nil {
		return "", "", err
	}
	return entryID, station, nil
}

// RecordEntry handles an entry tap event
// @Summary Record entry tap
// @Description Validate the card and open a trip at the given station
// @Tags taps
// @Accept json
// @Produce json
// @Param tap body TapRequest true "Tap data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /taps/entry [post]
func (te *TripEngine) RecordEntry(w http.ResponseWriter, r *http.Request) {
	req, ok := te.decodeTap(w, r)
	if !ok {
		return
	}

	txn, err := te.ProcessEntry(r.Context(), req.CardID, req.Station, time.Now())
	if err != nil {
		te.writeTapError(w, "entry", req.CardID, err)
		return
	}

	SendJSON(w, http.StatusCreated, txn)
}

// RecordExit handles an exit tap event
// @Summary Record exit tap
// @Description Close the open trip, compute the fare and debit the card
// @Tags taps
// @Accept json
// @Produce json
// @Param tap body TapRequest true "Tap data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} map[string]string
// @Failure 402 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /taps/exit [post]
func (te *TripEngine) RecordExit(w http.ResponseWriter, r *http.Request) {
	req, ok := te.decodeTap(w, r)
	if !ok {
		return
	}

	txn, err := te.ProcessExit(r.Context(), req.CardID, req.Station, time.Now())
	if err != nil {
		te.writeTapError(w, "exit", req.CardID, err)
		return
	}

	SendJSON(w, http.StatusCreated, txn)
}

func (te *TripEngine) decodeTap(w http.ResponseWriter, r *http.Request) (*TapRequest, bool) {
	var req TapRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := te.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

func (te *TripEngine) writeTapError(w http.ResponseWriter, op, cardID string, err error) {
	switch err {
	case ErrInvalidStation:
		SendErrorResponse(w, "Invalid station name", http.StatusBadRequest, nil)
	case ErrCardNotFound:
		SendErrorResponse(w, "Invalid RFID card", http.StatusNotFound, nil)
	case ErrCardNotUsable:
		SendErrorResponse(w, "Card is not active", http.StatusForbidden, nil)
	case ErrFarePolicyUnset:
		SendErrorResponse(w, "Fare rate not set", http.StatusConflict, nil)
	case ErrNoOpenEntry:
		SendErrorResponse(w, "No matching entry transaction found", http.StatusConflict, nil)
	case ErrInsufficientFunds:
		SendErrorResponse(w, "Insufficient balance", http.StatusPaymentRequired, nil)
	default:
		log.Printf("[TRIP] %s failed for card %s: %v", op, cardID, err)
		SendErrorResponse(w, "Failed to process tap", http.StatusInternalServerError, nil)
	}
}
