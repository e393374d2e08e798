package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/services"
)

type PaymentHandler struct {
	payments  *services.PaymentService
	validator *services.ValidationHelper
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		validator: services.NewValidationHelper(),
	}
}

// CreatePayment opens a purchase attempt
// @Summary Create pending payment
// @Description Create a pending stars payment for a package and return its payload token
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{package_key=string} true "Purchase request"
// @Success 201 {object} models.StarsPayment
// @Failure 404 {object} services.ErrorResponse
// @Router /payments [post]
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		PackageKey string `json:"package_key" validate:"required,max=64"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payment, err := h.payments.CreatePendingPayment(r.Context(), userID, req.PackageKey)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			services.SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrPackageInactive):
			services.SendErrorResponse(w, "Package is not active", http.StatusBadRequest, nil)
		default:
			log.Printf("[PAYMENT] Create failed for user %d: %v", userID, err)
			services.SendErrorResponse(w, "Failed to create payment", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payment)
}

// GetPayment returns one payment by payload
// @Summary Get payment
// @Description Look up a payment by its payload token
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param payload path string true "Payment payload"
// @Success 200 {object} models.StarsPayment
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{payload} [get]
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payload := chi.URLParam(r, "payload")

	payment, err := h.payments.GetByPayload(r.Context(), payload)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch payment", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// PaymentQR renders the payment deep link as a QR image
// @Summary Get payment QR
// @Description Base64 PNG QR code of the bot deep link for this payment
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param payload path string true "Payment payload"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{payload}/qr [get]
func (h *PaymentHandler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	payload := chi.URLParam(r, "payload")

	qrImage, err := h.payments.PaymentQR(r.Context(), payload)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to generate QR", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"qr_image": qrImage})
}

// Webhook ingests payment provider callbacks. Deliveries are
// at-least-once, so both branches are idempotent.
// @Summary Payment provider webhook
// @Description Settle a confirmed payment or record a failed one; retried deliveries are safe
// @Tags payments
// @Accept json
// @Produce json
// @Param update body object{payload=string,event=string,provider_charge_id=string} true "Provider update"
// @Success 200 {object} map[string]any
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Payload          string `json:"payload" validate:"required"`
		Event            string `json:"event" validate:"required,oneof=success failed"`
		ProviderChargeID string `json:"provider_charge_id"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Event == "failed" {
		if err := h.payments.MarkFailed(r.Context(), req.Payload, raw); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
				return
			}
			log.Printf("[PAYMENT] Webhook failure handling for %s failed: %v", req.Payload, err)
			services.SendErrorResponse(w, "Failed to process update", http.StatusInternalServerError, nil)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "status": "failed"})
		return
	}

	seconds, err := h.payments.CreditPaidPayment(r.Context(), req.Payload, req.ProviderChargeID, raw)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyCredited):
			// Retried delivery; report success so the provider stops.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"success": true, "status": "already_credited"})
		case errors.Is(err, services.ErrNotFound):
			services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
		default:
			log.Printf("[PAYMENT] Webhook crediting of %s failed: %v", req.Payload, err)
			services.SendErrorResponse(w, "Failed to process update", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":          true,
		"status":           "credited",
		"seconds_credited": seconds,
	})
}

// ReprocessPaid sweeps stuck paid payments (admin)
// @Summary Reprocess stuck payments
// @Description Re-run crediting for payments stuck in status paid
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int
// @Router /admin/payments/reprocess [post]
func (h *PaymentHandler) ReprocessPaid(w http.ResponseWriter, r *http.Request) {
	credited, err := h.payments.ReprocessPaid(r.Context())
	if err != nil {
		log.Printf("[PAYMENT] Reprocess sweep failed: %v", err)
		services.SendErrorResponse(w, "Failed to reprocess payments", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"credited": credited})
}
