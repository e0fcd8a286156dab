package services

import (
	"database/sql"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/metropass/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func tapAt(txType, station string, minute int, amount string) models.Transaction {
	return models.Transaction{
		TransactionID: txType + "-" + station,
		CardID:        "MET-1",
		UserID:        "user-1",
		Type:          txType,
		Station:       station,
		Amount:        decimal.RequireFromString(amount),
		OccurredAt:    time.Date(2026, 3, 1, 9, minute, 0, 0, time.UTC),
	}
}

func TestBuildTrips(t *testing.T) {
	t.Run("pairs entries with exits in order", func(t *testing.T) {
		log := []models.Transaction{
			tapAt(models.TxTypeTopUp, "", 0, "100"),
			tapAt(models.TxTypeEntry, "monib", 1, "0"),
			tapAt(models.TxTypeExit, "giza", 20, "15"),
			tapAt(models.TxTypeEntry, "giza", 30, "0"),
			tapAt(models.TxTypeExit, "monib", 50, "15"),
		}

		trips := BuildTrips(log)
		assert.Len(t, trips, 2)
		assert.Equal(t, "monib", trips[0].Entry.Station)
		assert.Equal(t, "giza", trips[0].Exit.Station)
		assert.True(t, trips[0].Fare.Equal(decimal.RequireFromString("15")))
		assert.Equal(t, "giza", trips[1].Entry.Station)
		assert.Equal(t, "monib", trips[1].Exit.Station)
	})

	t.Run("last entry wins when entries repeat", func(t *testing.T) {
		log := []models.Transaction{
			tapAt(models.TxTypeEntry, "monib", 1, "0"),
			tapAt(models.TxTypeEntry, "faisal", 5, "0"),
			tapAt(models.TxTypeExit, "giza", 20, "5"),
		}

		trips := BuildTrips(log)
		assert.Len(t, trips, 1)
		assert.Equal(t, "faisal", trips[0].Entry.Station)
	})

	t.Run("trailing unmatched entry yields no trip", func(t *testing.T) {
		log := []models.Transaction{
			tapAt(models.TxTypeEntry, "monib", 1, "0"),
			tapAt(models.TxTypeExit, "giza", 20, "15"),
			tapAt(models.TxTypeEntry, "dokki", 30, "0"),
		}

		trips := BuildTrips(log)
		assert.Len(t, trips, 1)
	})

	t.Run("orphan exit is skipped", func(t *testing.T) {
		log := []models.Transaction{
			tapAt(models.TxTypeExit, "giza", 5, "15"),
			tapAt(models.TxTypeEntry, "monib", 10, "0"),
			tapAt(models.TxTypeExit, "faisal", 20, "20"),
		}

		trips := BuildTrips(log)
		assert.Len(t, trips, 1)
		assert.Equal(t, "monib", trips[0].Entry.Station)
		assert.Equal(t, "faisal", trips[0].Exit.Station)
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		log := []models.Transaction{
			tapAt(models.TxTypeEntry, "monib", 1, "0"),
			tapAt(models.TxTypeEntry, "mekky", 2, "0"),
			tapAt(models.TxTypeExit, "giza", 20, "10"),
			tapAt(models.TxTypeEntry, "opera", 30, "0"),
		}

		first := BuildTrips(log)
		second := BuildTrips(log)
		assert.Equal(t, first, second)
	})

	t.Run("empty log", func(t *testing.T) {
		assert.Empty(t, BuildTrips(nil))
	})
}

func transactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "transaction_id", "user_id", "card_id", "amount",
		"station", "type", "occurred_at", "paired_transaction_id",
	})
}

func cardRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "card_id", "user_id", "balance", "status",
		"issued_at", "expires_at", "last_used_at",
	})
}

func TestTripHistory_GetTripHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	history := NewTripHistory(db, NewCardLedger(db))

	t.Run("returns paired trips", func(t *testing.T) {
		now := time.Now()

		mock.ExpectQuery("SELECT id, card_id, user_id, balance, status, issued_at, expires_at, last_used_at FROM cards").
			WithArgs("MET-1").
			WillReturnRows(cardRows().
				AddRow(1, "MET-1", "user-1", "85.00", "active", now, now.AddDate(1, 0, 0), nil))

		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs("MET-1").
			WillReturnRows(transactionRows().
				AddRow(1, "tx-1", "user-1", "MET-1", "0", "monib", "entry", now.Add(-time.Hour), "").
				AddRow(2, "tx-2", "user-1", "MET-1", "15.00", "giza", "exit", now, "tx-1"))

		r := chi.NewRouter()
		r.Get("/cards/{cardId}/trips", history.GetTripHistory)

		req := httptest.NewRequest("GET", "/cards/MET-1/trips", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
		assert.Contains(t, w.Body.String(), "monib")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown card", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, card_id, user_id, balance, status, issued_at, expires_at, last_used_at FROM cards").
			WithArgs("MET-missing").
			WillReturnError(sql.ErrNoRows)

		r := chi.NewRouter()
		r.Get("/cards/{cardId}/trips", history.GetTripHistory)

		req := httptest.NewRequest("GET", "/cards/MET-missing/trips", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, 404, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
