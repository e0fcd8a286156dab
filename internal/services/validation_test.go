package services

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "giza"}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSONBody(w, req, &p)
		assert.NoError(t, err)
		assert.Equal(t, "giza", p.Name)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "giza", "extra": 1}`))
		w := httptest.NewRecorder()

		var p payload
		assert.Error(t, DecodeJSONBody(w, req, &p))
	})

	t.Run("trailing objects are rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name": "a"}{"name": "b"}`))
		w := httptest.NewRecorder()

		var p payload
		assert.Error(t, DecodeJSONBody(w, req, &p))
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`not json`))
		w := httptest.NewRecorder()

		var p payload
		assert.Error(t, DecodeJSONBody(w, req, &p))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Card not found", 404, nil)

		assert.Equal(t, 404, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), `"error":"Card not found"`)
	})

	t.Run("validation details", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&TapRequest{CardID: "MET-1"})
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", 400, err)

		assert.Equal(t, 400, w.Code)
		assert.Contains(t, w.Body.String(), "Station")
	})
}
