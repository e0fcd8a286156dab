package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/metropass/backend/internal/models"
)

// TripHistory reconstructs a card's trips by replaying its transaction log.
// It is a pure read path: the log is never interpreted for balance recovery,
// only for display.
type TripHistory struct {
	db     *sql.DB
	ledger *CardLedger
}

// NewTripHistory creates the reconstructor.
func NewTripHistory(db *sql.DB, ledger *CardLedger) *TripHistory {
	return &TripHistory{db: db, ledger: ledger}
}

// BuildTrips replays a transaction log, in ascending occurred_at order, into
// paired trips. The pairing mirrors the trip engine's policy: a new entry
// overwrites any pending one (last entry wins), an exit consumes the pending
// entry, and exits with no pending entry are skipped rather than treated as
// an error so malformed historical data cannot break the read path. Trailing
// unmatched entries produce no trip.
func BuildTrips(transactions []models.Transaction) []models.Trip {
	trips := []models.Trip{}
	var pending *models.Transaction

	for i := range transactions {
		txn := &transactions[i]
		switch txn.Type {
		case models.TxTypeEntry:
			pending = txn
		case models.TxTypeExit:
			if pending == nil {
				continue
			}
			trips = append(trips, models.Trip{
				Entry: models.TripLeg{Station: pending.Station, Date: pending.OccurredAt},
				Exit:  models.TripLeg{Station: txn.Station, Date: txn.OccurredAt},
				Fare:  txn.Amount,
			})
			pending = nil
		}
	}

	return trips
}

// FetchTransactions loads a card's full log in ascending occurred_at order.
func (th *TripHistory) FetchTransactions(ctx context.Context, cardID string) ([]models.Transaction, error) {
	rows, err := th.db.QueryContext(ctx, `
		SELECT id, transaction_id, user_id, card_id, amount,
		       COALESCE(station, ''), type, occurred_at,
		       COALESCE(paired_transaction_id, '')
		FROM transactions
		WHERE card_id = $1
		ORDER BY occurred_at ASC
	`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.TransactionID, &txn.UserID, &txn.CardID,
			&txn.Amount, &txn.Station, &txn.Type, &txn.OccurredAt,
			&txn.PairedTransactionID); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	return transactions, rows.Err()
}

// Trips returns the reconstructed trip list for a card.
func (th *TripHistory) Trips(ctx context.Context, cardID string) ([]models.Trip, error) {
	transactions, err := th.FetchTransactions(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return BuildTrips(transactions), nil
}

// GetTripHistory returns a card's paired trips
// @Summary Get trip history
// @Description Replay the card's transaction log into (entry, exit, fare) trips
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{trips=[]models.Trip,count=int}
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId}/trips [get]
func (th *TripHistory) GetTripHistory(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	if _, err := th.ledger.Lookup(r.Context(), cardID); err != nil {
		if err == ErrCardNotFound {
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[HISTORY] Card lookup failed for %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to fetch trips", http.StatusInternalServerError, nil)
		return
	}

	trips, err := th.Trips(r.Context(), cardID)
	if err != nil {
		log.Printf("[HISTORY] Failed to build trips for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to fetch trips", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"trips": trips,
		"count": len(trips),
	})
}

// GetCard returns card details with its trip log
// @Summary Get card
// @Description Card fields plus the reconstructed trip history
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{card=models.Card,trips=[]models.Trip}
// @Failure 404 {object} map[string]string
// @Router /cards/{cardId} [get]
func (th *TripHistory) GetCard(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	card, err := th.ledger.Lookup(r.Context(), cardID)
	if err != nil {
		if err == ErrCardNotFound {
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[HISTORY] Card lookup failed for %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to fetch card", http.StatusInternalServerError, nil)
		return
	}

	trips, err := th.Trips(r.Context(), cardID)
	if err != nil {
		log.Printf("[HISTORY] Failed to build trips for card %s: %v", cardID, err)
		SendErrorResponse(w, "Failed to fetch card", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"card":  card,
		"trips": trips,
	})
}
