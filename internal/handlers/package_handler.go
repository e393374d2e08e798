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

type PackageHandler struct {
	packages  *services.PackageService
	settings  *services.SettingsService
	validator *services.ValidationHelper
}

func NewPackageHandler(packages *services.PackageService, settings *services.SettingsService) *PackageHandler {
	return &PackageHandler{
		packages:  packages,
		settings:  settings,
		validator: services.NewValidationHelper(),
	}
}

// ListPackages returns the purchasable packages
// @Summary List active packages
// @Tags packages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{packages=[]models.Package}
// @Router /packages [get]
func (h *PackageHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.packages.ListActive(r.Context())
	if err != nil {
		log.Printf("[PACKAGE] List failed: %v", err)
		services.SendErrorResponse(w, "Failed to list packages", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"packages": pkgs})
}

// GetPackage returns one package by key
// @Summary Get package
// @Tags packages
// @Produce json
// @Security BearerAuth
// @Param key path string true "Package key"
// @Success 200 {object} models.Package
// @Failure 404 {object} services.ErrorResponse
// @Router /packages/{key} [get]
func (h *PackageHandler) GetPackage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	pkg, err := h.packages.GetByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch package", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pkg)
}

// UpdatePackage edits package prices or toggles activity (admin)
// @Summary Update package
// @Description Partial update of a package; every change is written to the change log
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Package key"
// @Param update body services.PackageUpdate true "Fields to change"
// @Success 200 {object} models.Package
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/packages/{key} [put]
func (h *PackageHandler) UpdatePackage(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.AdminIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	key := chi.URLParam(r, "key")

	var upd services.PackageUpdate
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&upd); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	// The acting admin comes from the token, never the body.
	upd.AdminID = adminID

	pkg, err := h.packages.UpdatePackage(r.Context(), key, upd)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pkg)
}

// GetMonthlyLimit returns the current monthly entitlement (admin)
// @Summary Get monthly limit
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int64
// @Router /admin/settings/monthly-limit [get]
func (h *PackageHandler) GetMonthlyLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := h.settings.MonthlyLimit(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Failed to read setting", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"monthly_basic_seconds": limit})
}

// SetMonthlyLimit changes the monthly entitlement (admin). The new
// cap is enforced on every user's next reservation via the lazy
// clamp.
// @Summary Set monthly limit
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{seconds=int64} true "New limit"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/settings/monthly-limit [put]
func (h *PackageHandler) SetMonthlyLimit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := services.AdminIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Seconds int64 `json:"seconds" validate:"required,gt=0,lte=10000000"`
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

	if err := h.settings.SetMonthlyLimit(r.Context(), req.Seconds, adminID); err != nil {
		services.SendErrorResponse(w, "Failed to update setting", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
