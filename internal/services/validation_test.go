package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct passes", func(t *testing.T) {
		upd := PackageUpdate{
			Seconds: int64Ptr(600),
			AdminID: 7,
			Reason:  "resize",
		}
		assert.NoError(t, vh.ValidateStruct(&upd))
	})

	t.Run("missing required fields fail", func(t *testing.T) {
		upd := PackageUpdate{Seconds: int64Ptr(600)}
		assert.Error(t, vh.ValidateStruct(&upd))
	})

	t.Run("bounds are enforced", func(t *testing.T) {
		upd := PackageUpdate{
			Seconds: int64Ptr(5000000),
			AdminID: 7,
			Reason:  "too big",
		}
		assert.Error(t, vh.ValidateStruct(&upd))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error response", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Insufficient credit", http.StatusPaymentRequired, nil)

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Insufficient credit", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation errors include per-field details", func(t *testing.T) {
		vh := NewValidationHelper()
		err := vh.ValidateStruct(&PackageUpdate{})
		assert.Error(t, err)

		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Validation failed", resp.Error)
		assert.Contains(t, resp.Details, "AdminID")
		assert.Contains(t, resp.Details, "Reason")
	})

	t.Run("non-validation error carries no details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SendErrorResponse(rec, "Internal error", http.StatusInternalServerError, assert.AnError)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Internal error", resp.Error)
		assert.Empty(t, resp.Details)
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("user id round-trips through the context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), "userID", int64(42))
		id, ok := UserIDFromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
	})

	t.Run("missing user id is reported", func(t *testing.T) {
		_, ok := UserIDFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("admin id is absent on non-admin requests", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), "userID", int64(42))
		_, ok := AdminIDFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("admin id round-trips through the context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), "adminID", int64(7))
		id, ok := AdminIDFromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, int64(7), id)
	})
}
