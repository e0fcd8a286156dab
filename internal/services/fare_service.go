package services

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/metropass/backend/internal/models"
	"github.com/shopspring/decimal"
)

const fareRateCacheKey = "fare:current_rate"
const fareRateCacheTTL = 5 * time.Minute

// FarePolicyStore owns the single system-wide fare rate. Exactly one row
// exists in the fares table; EnsureDefault installs it with the default rate
// before the store is first read. The current rate is cached in Redis and
// invalidated on every SetRate.
type FarePolicyStore struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// NewFarePolicyStore creates the store. The Redis client may be nil; caching
// is then skipped.
func NewFarePolicyStore(db *sql.DB, redisClient *redis.Client) *FarePolicyStore {
	return &FarePolicyStore{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// EnsureDefault guarantees a fare policy row exists, creating one with the
// default rate if the table is empty.
func (fs *FarePolicyStore) EnsureDefault(ctx context.Context) error {
	var count int
	if err := fs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fares`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err := fs.db.ExecContext(ctx, `
		INSERT INTO fares (rate, updated_at) VALUES ($1, $2)
	`, models.DefaultFareRate, time.Now())
	if err != nil {
		return err
	}
	log.Printf("[FARE] Installed default fare rate %s", models.DefaultFareRate)
	return nil
}

// CurrentRate returns the per-station fare rate. A missing policy row is
// ErrFarePolicyUnset, never a zero-fare default.
func (fs *FarePolicyStore) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	if fs.redis != nil {
		cached, err := fs.redis.Get(ctx, fareRateCacheKey).Result()
		if err == nil {
			if rate, perr := decimal.NewFromString(cached); perr == nil {
				return rate, nil
			}
		}
	}

	var rate decimal.Decimal
	err := fs.db.QueryRowContext(ctx, `
		SELECT rate FROM fares ORDER BY id LIMIT 1
	`).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrFarePolicyUnset
	}
	if err != nil {
		return decimal.Zero, err
	}

	fs.cacheRate(ctx, rate)
	return rate, nil
}

// SetRate replaces the singleton's rate and timestamp. Non-positive rates
// are rejected; zero fares system-wide are configured by distance, not rate.
func (fs *FarePolicyStore) SetRate(ctx context.Context, rate decimal.Decimal) (*models.FarePolicy, error) {
	if rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}

	policy := &models.FarePolicy{}
	err := fs.db.QueryRowContext(ctx, `
		UPDATE fares SET rate = $1, updated_at = $2
		WHERE id = (SELECT id FROM fares ORDER BY id LIMIT 1)
		RETURNING id, rate, updated_at
	`, rate, time.Now()).Scan(&policy.ID, &policy.Rate, &policy.UpdatedAt)

	if err == sql.ErrNoRows {
		// No policy row yet; create it with the requested rate.
		err = fs.db.QueryRowContext(ctx, `
			INSERT INTO fares (rate, updated_at) VALUES ($1, $2)
			RETURNING id, rate, updated_at
		`, rate, time.Now()).Scan(&policy.ID, &policy.Rate, &policy.UpdatedAt)
	}
	if err != nil {
		return nil, err
	}

	if fs.redis != nil {
		if err := fs.redis.Del(ctx, fareRateCacheKey).Err(); err != nil {
			log.Printf("[FARE] Failed to invalidate rate cache: %v", err)
		}
	}

	log.Printf("[FARE] Fare rate set to %s", policy.Rate)
	return policy, nil
}

func (fs *FarePolicyStore) cacheRate(ctx context.Context, rate decimal.Decimal) {
	if fs.redis == nil {
		return
	}
	if err := fs.redis.Set(ctx, fareRateCacheKey, rate.String(), fareRateCacheTTL).Err(); err != nil {
		log.Printf("[FARE] Failed to cache rate: %v", err)
	}
}

// UpdateFareRate sets the system fare rate
// @Summary Set fare rate
// @Description Replace the per-station fare rate (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Param fare body models.FareRateRequest true "New fare rate"
// @Success 200 {object} models.FarePolicy
// @Failure 400 {object} map[string]string
// @Router /admin/fare [put]
func (fs *FarePolicyStore) UpdateFareRate(w http.ResponseWriter, r *http.Request) {
	var req models.FareRateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := fs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		SendErrorResponse(w, "Rate must be a decimal number", http.StatusBadRequest, nil)
		return
	}

	policy, err := fs.SetRate(r.Context(), rate)
	if err != nil {
		if err == ErrInvalidRate {
			SendErrorResponse(w, "Rate must be positive", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[FARE] Failed to set rate: %v", err)
		SendErrorResponse(w, "Failed to update fare rate", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, policy)
}

// GetFareRate returns the current fare rate
// @Summary Get fare rate
// @Description Read the current per-station fare rate
// @Tags admin
// @Produce json
// @Success 200 {object} object{rate=string}
// @Failure 409 {object} map[string]string
// @Router /admin/fare [get]
func (fs *FarePolicyStore) GetFareRate(w http.ResponseWriter, r *http.Request) {
	rate, err := fs.CurrentRate(r.Context())
	if err != nil {
		if err == ErrFarePolicyUnset {
			SendErrorResponse(w, "Fare rate not set", http.StatusConflict, nil)
			return
		}
		log.Printf("[FARE] Failed to read rate: %v", err)
		SendErrorResponse(w, "Failed to read fare rate", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"rate": rate.String()})
}
