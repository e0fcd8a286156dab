package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/metropass/backend/internal/models"
	"github.com/shopspring/decimal"
)

// issueBalance is granted to new cards when no initial balance is supplied,
// matching the balance loaded onto cards issued at signup.
var issueBalance = decimal.NewFromInt(100)

// CardLedger owns card balances and statuses. Balance changes go through
// Debit/Credit only; the check-then-mutate step of a debit is a single
// conditional UPDATE so that concurrent debits against one card can never
// both pass a stale balance check.
type CardLedger struct {
	db        *sql.DB
	validator *ValidationHelper
}

// NewCardLedger creates the ledger service.
func NewCardLedger(db *sql.DB) *CardLedger {
	return &CardLedger{
		db:        db,
		validator: NewValidationHelper(),
	}
}

const cardColumns = `id, card_id, user_id, balance, status, issued_at, expires_at, last_used_at`

func scanCard(row *sql.Row) (*models.Card, error) {
	card := &models.Card{}
	err := row.Scan(&card.ID, &card.CardID, &card.UserID, &card.Balance,
		&card.Status, &card.IssuedAt, &card.ExpiresAt, &card.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// Lookup fetches a card by its card id.
func (cl *CardLedger) Lookup(ctx context.Context, cardID string) (*models.Card, error) {
	row := cl.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards WHERE card_id = $1
	`, cardID)
	return scanCard(row)
}

// Debit atomically subtracts amount from the card balance. It succeeds only
// if the current balance covers the amount; the balance check and the write
// are one conditional UPDATE.
func (cl *CardLedger) Debit(ctx context.Context, cardID string, amount decimal.Decimal) (*models.Card, error) {
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	row := cl.db.QueryRowContext(ctx, `
		UPDATE cards
		SET balance = balance - $1, last_used_at = $2
		WHERE card_id = $3 AND balance >= $1
		RETURNING `+cardColumns+`
	`, amount, time.Now(), cardID)

	card, err := scanCard(row)
	if err == ErrCardNotFound {
		// No row matched: either the card does not exist or the balance
		// check failed. Distinguish for the caller.
		if _, lerr := cl.Lookup(ctx, cardID); lerr == nil {
			return nil, ErrInsufficientFunds
		}
		return nil, ErrCardNotFound
	}
	return card, err
}

// DebitTx is Debit inside an existing database transaction; the trip engine
// uses it so the debit and the exit record commit or roll back together.
func (cl *CardLedger) DebitTx(tx *sql.Tx, cardID string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	result, err := tx.Exec(`
		UPDATE cards
		SET balance = balance - $1, last_used_at = $2
		WHERE card_id = $3 AND balance >= $1
	`, amount, time.Now(), cardID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the card balance. Top-ups succeed regardless of
// card status.
func (cl *CardLedger) Credit(ctx context.Context, cardID string, amount decimal.Decimal) (*models.Card, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := cl.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	card, err := cl.creditTx(tx, cardID, amount)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return card, nil
}

// creditTx is the only write path for balance credits; Credit and TopUp both
// go through it.
func (cl *CardLedger) creditTx(tx *sql.Tx, cardID string, amount decimal.Decimal) (*models.Card, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	row := tx.QueryRow(`
		UPDATE cards
		SET balance = balance + $1
		WHERE card_id = $2
		RETURNING `+cardColumns+`
	`, amount, cardID)
	return scanCard(row)
}

// SetStatus changes a card's status.
func (cl *CardLedger) SetStatus(ctx context.Context, cardID, status string) (*models.Card, error) {
	row := cl.db.QueryRowContext(ctx, `
		UPDATE cards SET status = $1 WHERE card_id = $2
		RETURNING `+cardColumns+`
	`, status, cardID)
	return scanCard(row)
}

// insertTransactionTx appends one ledger row inside an open transaction.
// The ledger is a log: this is the only write path for the table.
func insertTransactionTx(tx *sql.Tx, txn *models.Transaction) error {
	var station, paired any
	if txn.Station != "" {
		station = txn.Station
	}
	if txn.PairedTransactionID != "" {
		paired = txn.PairedTransactionID
	}

	return tx.QueryRow(`
		INSERT INTO transactions
		(transaction_id, user_id, card_id, amount, station, type, occurred_at, paired_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, txn.TransactionID, txn.UserID, txn.CardID, txn.Amount, station,
		txn.Type, txn.OccurredAt, paired).Scan(&txn.ID)
}

// IssueCard creates a new fare card
// @Summary Issue a card
// @Description Create a new RFID fare card for a user
// @Tags cards
// @Accept json
// @Produce json
// @Param card body models.CardIssueRequest true "Card issuance data"
// @Success 201 {object} models.Card
// @Failure 400 {object} map[string]string
// @Router /cards [post]
func (cl *CardLedger) IssueCard(w http.ResponseWriter, r *http.Request) {
	var req models.CardIssueRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := cl.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	balance := issueBalance
	if req.InitialBalance != "" {
		parsed, err := decimal.NewFromString(req.InitialBalance)
		if err != nil || parsed.Sign() < 0 {
			SendErrorResponse(w, "Initial balance must be a non-negative decimal", http.StatusBadRequest, nil)
			return
		}
		balance = parsed
	}

	status := req.Status
	if status == "" {
		status = models.CardStatusInactive
	}

	now := time.Now()
	card := &models.Card{
		CardID:    "MET-" + uuid.NewString(),
		UserID:    req.UserID,
		Balance:   balance,
		Status:    status,
		IssuedAt:  now,
		ExpiresAt: now.AddDate(1, 0, 0),
	}

	tx, err := cl.db.Begin()
	if err != nil {
		log.Printf("[LEDGER] Failed to begin issuance: %v", err)
		SendErrorResponse(w, "Failed to issue card", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		INSERT INTO cards (card_id, user_id, balance, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, card.CardID, card.UserID, card.Balance, card.Status, card.IssuedAt, card.ExpiresAt).Scan(&card.ID)
	if err != nil {
		log.Printf("[LEDGER] Failed to insert card: %v", err)
		SendErrorResponse(w, "Failed to issue card", http.StatusInternalServerError, nil)
		return
	}

	// The opening balance is part of the ledger too, so that the balance is
	// always reconstructible as top-ups minus exit fares.
	if card.Balance.Sign() > 0 {
		opening := &models.Transaction{
			TransactionID: uuid.NewString(),
			UserID:        card.UserID,
			CardID:        card.CardID,
			Amount:        card.Balance,
			Type:          models.TxTypeTopUp,
			OccurredAt:    now,
		}
		if err := insertTransactionTx(tx, opening); err != nil {
			log.Printf("[LEDGER] Failed to record opening balance: %v", err)
			SendErrorResponse(w, "Failed to issue card", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit issuance: %v", err)
		SendErrorResponse(w, "Failed to issue card", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LEDGER] Issued card %s for user %s", card.CardID, card.UserID)
	SendJSON(w, http.StatusCreated, card)
}

// TopUpCard credits a card balance
// @Summary Top up a card
// @Description Add funds to a card and append a top-up transaction
// @Tags cards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param topup body models.TopUpRequest true "Top-up amount"
// @Success 200 {object} models.Card
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/topup [post]
func (cl *CardLedger) TopUpCard(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var req models.TopUpRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := cl.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		SendErrorResponse(w, "Amount must be a positive decimal", http.StatusBadRequest, nil)
		return
	}

	card, err := cl.TopUp(r.Context(), cardID, amount)
	if err != nil {
		if err == ErrCardNotFound {
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] Top-up failed for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to top up card", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, card)
}

// TopUp credits the card and appends the matching top-up transaction as one
// atomic unit.
func (cl *CardLedger) TopUp(ctx context.Context, cardID string, amount decimal.Decimal) (*models.Card, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := cl.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	card, err := cl.creditTx(tx, cardID, amount)
	if err != nil {
		return nil, err
	}

	topup := &models.Transaction{
		TransactionID: uuid.NewString(),
		UserID:        card.UserID,
		CardID:        card.CardID,
		Amount:        amount,
		Type:          models.TxTypeTopUp,
		OccurredAt:    time.Now(),
	}
	if err := insertTransactionTx(tx, topup); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Topped up card %s by %s", cardID, amount)
	return card, nil
}

// GetBalance returns a card's balance
// @Summary Get card balance
// @Description Read the current stored balance of a card
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{cardId=string,balance=string,status=string}
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/balance [get]
func (cl *CardLedger) GetBalance(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	card, err := cl.Lookup(r.Context(), cardID)
	if err != nil {
		if err == ErrCardNotFound {
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] Balance lookup failed for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{
		"cardId":  card.CardID,
		"balance": card.Balance.String(),
		"status":  card.Status,
	})
}

// UpdateCardStatus changes a card's status
// @Summary Update card status
// @Description Set a card to active, inactive or blocked
// @Tags cards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param status body models.CardStatusRequest true "New status"
// @Success 200 {object} models.Card
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/status [put]
func (cl *CardLedger) UpdateCardStatus(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	var req models.CardStatusRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := cl.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	card, err := cl.SetStatus(r.Context(), cardID, req.Status)
	if err != nil {
		if err == ErrCardNotFound {
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[LEDGER] Status change failed for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to update card status", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[LEDGER] Card %s status set to %s", cardID, card.Status)
	SendJSON(w, http.StatusOK, card)
}
