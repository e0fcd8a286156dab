package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// ErrQRUnavailable is returned when Redis is down and one-time codes cannot
// be issued or redeemed.
var ErrQRUnavailable = errors.New("qr top-up unavailable")

// ErrQRInvalid is returned for unknown or already-redeemed codes.
var ErrQRInvalid = errors.New("invalid or expired QR code")

// QRTopUpService issues one-time QR codes that kiosks scan to top up a card.
// Codes live in Redis for five minutes and are consumed on redemption.
type QRTopUpService struct {
	db     *sql.DB
	redis  *redis.Client
	ledger *CardLedger
}

// NewQRTopUpService creates the service. Redis may be nil; QR top-ups are
// then disabled.
func NewQRTopUpService(db *sql.DB, redisClient *redis.Client, ledger *CardLedger) *QRTopUpService {
	return &QRTopUpService{
		db:     db,
		redis:  redisClient,
		ledger: ledger,
	}
}

type qrPayload struct {
	CardID    string `json:"cardId"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// GenerateTopUpCode creates a one-time code bound to a card and renders it
// as a QR image. Returns the code and the base64-encoded PNG.
func (s *QRTopUpService) GenerateTopUpCode(ctx context.Context, cardID string) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrQRUnavailable
	}

	if _, err := s.ledger.Lookup(ctx, cardID); err != nil {
		return "", "", err
	}

	payload := qrPayload{
		CardID:    cardID,
		Timestamp: time.Now().Unix(),
		Nonce:     s.generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:topup:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RedeemTopUpCode consumes a code and credits the bound card.
func (s *QRTopUpService) RedeemTopUpCode(ctx context.Context, code string, amount decimal.Decimal) (string, error) {
	if s.redis == nil {
		return "", ErrQRUnavailable
	}

	key := fmt.Sprintf("qr:topup:%s", code)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return "", ErrQRInvalid
	}
	if err != nil {
		return "", err
	}

	var payload qrPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}

	if _, err := s.ledger.TopUp(ctx, payload.CardID, amount); err != nil {
		return "", err
	}

	// Consume the code only after the credit lands.
	s.redis.Del(ctx, key)

	return payload.CardID, nil
}

func (s *QRTopUpService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// GenerateQR issues a top-up QR code for a card
// @Summary Generate top-up QR
// @Description Issue a one-time QR code a kiosk can scan to top up this card
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} object{code=string,image=string}
// @Failure 404 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /cards/{cardId}/qr [get]
func (s *QRTopUpService) GenerateQR(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")

	code, image, err := s.GenerateTopUpCode(r.Context(), cardID)
	if err != nil {
		switch err {
		case ErrCardNotFound:
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		case ErrQRUnavailable:
			SendErrorResponse(w, "QR top-up unavailable", http.StatusServiceUnavailable, nil)
		default:
			log.Printf("[QR] Failed to generate code for card %s: %v", cardID, err)
			SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{
		"code":  code,
		"image": image,
	})
}

// RedeemQR redeems a top-up QR code
// @Summary Redeem top-up QR
// @Description Consume a one-time QR code and credit the bound card
// @Tags cards
// @Accept json
// @Produce json
// @Param redemption body object{code=string,amount=string} true "Redemption data"
// @Success 200 {object} object{cardId=string,status=string}
// @Failure 400 {object} map[string]string
// @Router /topups/redeem [post]
func (s *QRTopUpService) RedeemQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code   string `json:"code"`
		Amount string `json:"amount"`
	}
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		SendErrorResponse(w, "Amount must be a positive decimal", http.StatusBadRequest, nil)
		return
	}

	cardID, err := s.RedeemTopUpCode(r.Context(), req.Code, amount)
	if err != nil {
		switch err {
		case ErrQRInvalid:
			SendErrorResponse(w, "Invalid or expired QR code", http.StatusBadRequest, nil)
		case ErrQRUnavailable:
			SendErrorResponse(w, "QR top-up unavailable", http.StatusServiceUnavailable, nil)
		case ErrCardNotFound:
			SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		default:
			log.Printf("[QR] Failed to redeem code: %v", err)
			SendErrorResponse(w, "Failed to redeem QR code", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{
		"cardId": cardID,
		"status": "credited",
	})
}
