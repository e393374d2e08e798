package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/ShodmonX/english-vocabulary-learning-sub000/internal/services"
)

type CreditHandler struct {
	credits   *services.CreditService
	balances  *services.BalanceService
	ledger    *services.LedgerStore
	validator *services.ValidationHelper
}

func NewCreditHandler(credits *services.CreditService, balances *services.BalanceService, ledger *services.LedgerStore) *CreditHandler {
	return &CreditHandler{
		credits:   credits,
		balances:  balances,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// Reserve charges seconds for one recognition attempt
// @Summary Reserve seconds
// @Description Deduct the charge for an audio duration from the user's balance
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{audio_duration_seconds=float64,provider=string} true "Charge request"
// @Success 200 {object} services.ReserveResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /credits/reserve [post]
func (h *CreditHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		AudioDurationSeconds float64 `json:"audio_duration_seconds" validate:"required"`
		Provider             string  `json:"provider" validate:"required,max=64"`
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

	result, err := h.credits.Reserve(r.Context(), userID, req.AudioDurationSeconds, req.Provider)
	if err != nil {
		var insufficient *services.InsufficientCreditError
		switch {
		case errors.As(err, &insufficient):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]any{
				"error":                   "insufficient credit",
				"basic_remaining_seconds": insufficient.BasicRemainingSec,
				"topup_remaining_seconds": insufficient.TopupRemainingSec,
				"required_seconds":        insufficient.RequiredSec,
			})
		case errors.Is(err, services.ErrInvalidDuration):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[CREDITS] Reserve failed for user %d: %v", userID, err)
			services.SendErrorResponse(w, "Failed to reserve seconds", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Refund reverses a prior charge
// @Summary Refund a charge
// @Description Restore the seconds of a prior charge; repeated calls are no-ops
// @Tags credits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{ledger_id=int64,reason=string} true "Refund request"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/refund [post]
func (h *CreditHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LedgerID int64  `json:"ledger_id" validate:"required,gt=0"`
		Reason   string `json:"reason" validate:"required,max=200"`
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

	if err := h.credits.Refund(r.Context(), req.LedgerID, req.Reason); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Ledger entry not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CREDITS] Refund of ledger %d failed: %v", req.LedgerID, err)
		services.SendErrorResponse(w, "Failed to refund", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Profile returns the user's credit summary
// @Summary Get profile summary
// @Description Current balances, next refill, usage this month and the monthly cap
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ProfileSummary
// @Router /credits/profile [get]
func (h *CreditHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	summary, err := h.balances.ProfileSummary(r.Context(), userID)
	if err != nil {
		log.Printf("[CREDITS] Profile summary failed for user %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to load profile", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// History lists the user's recent ledger entries
// @Summary Get credit history
// @Description Recent balance-affecting events, newest first
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries (default 20, max 100)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Router /credits/history [get]
func (h *CreditHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := services.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := h.ledger.RecentForUser(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[CREDITS] History fetch failed for user %d: %v", userID, err)
		services.SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// AddTopup grants seconds to a user (admin)
// @Summary Grant topup seconds
// @Description Add non-expiring seconds to a user's balance
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int64,seconds=int64,reason=string} true "Grant request"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/topup [post]
func (h *CreditHandler) AddTopup(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.AdminIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		UserID  int64  `json:"user_id" validate:"required,gt=0"`
		Seconds int64  `json:"seconds" validate:"required,gt=0,lte=1000000"`
		Reason  string `json:"reason" validate:"required,max=200"`
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

	err := h.credits.AddTopup(r.Context(), req.UserID, services.TopupGrant{
		Seconds: req.Seconds,
		ActorID: adminID,
		Reason:  req.Reason,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidTopup) {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		log.Printf("[CREDITS] Topup for user %d failed: %v", req.UserID, err)
		services.SendErrorResponse(w, "Failed to add topup", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
