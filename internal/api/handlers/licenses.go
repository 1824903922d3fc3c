// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/authority"
	"github.com/Dpro-at/agent-player/internal/license"
	"github.com/Dpro-at/agent-player/internal/models"
	"github.com/Dpro-at/agent-player/internal/services"
)

// LicenseHandler exposes the current license, usage evaluation, the
// tier/feature catalog, and the two-phase activation workflow.
type LicenseHandler struct {
	licenseService *services.LicenseService
	workflow       *services.ActivationWorkflow
}

func NewLicenseHandler(licenseService *services.LicenseService, workflow *services.ActivationWorkflow) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
		workflow:       workflow,
	}
}

// CurrentLicenseResponse wraps the license projection so the unlicensed
// state is an explicit value rather than an empty body.
type CurrentLicenseResponse struct {
	Licensed bool                `json:"licensed"`
	License  *models.LicenseInfo `json:"license,omitempty"`
}

// ResourceUsage is the evaluated quota for one countable resource.
type ResourceUsage struct {
	Current    int     `json:"current"`
	Max        int     `json:"max"`
	Percentage float64 `json:"percentage"`
	CanAdmit   bool    `json:"canAdmit"`
}

// UsageResponse reports quota consumption for all four resources.
type UsageResponse struct {
	Users         ResourceUsage `json:"users"`
	Agents        ResourceUsage `json:"agents"`
	Tasks         ResourceUsage `json:"tasks"`
	Conversations ResourceUsage `json:"conversations"`
}

// CatalogTier is one tier entry in the catalog response.
type CatalogTier struct {
	Type models.LicenseType `json:"type"`
	license.TierInfo
}

// CatalogResponse lists every tier and feature the catalog defines.
type CatalogResponse struct {
	Tiers    []CatalogTier     `json:"tiers"`
	Features []license.Feature `json:"features"`
}

// ActivateRequest carries both halves of phase 2: the account to
// register and the license to bind.
type ActivateRequest struct {
	Registration models.RegistrationData  `json:"registration"`
	Activation   models.LicenseActivation `json:"activation"`
}

// GetCurrentLicense returns the derived license view. An unlicensed
// installation gets licensed=false, not an error.
func (h *LicenseHandler) GetCurrentLicense(w http.ResponseWriter, r *http.Request) {
	info, err := h.licenseService.GetCurrentLicense(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get current license")
		RespondError(w, http.StatusInternalServerError, "Failed to get current license")
		return
	}

	RespondJSON(w, http.StatusOK, CurrentLicenseResponse{
		Licensed: info != nil,
		License:  info,
	})
}

// GetUsage evaluates quota consumption against the current license.
// Unlicensed installations are evaluated against the free tier defaults.
func (h *LicenseHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	current, err := h.licenseService.Current(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get current license")
		RespondError(w, http.StatusInternalServerError, "Failed to evaluate usage")
		return
	}

	limits := license.DefaultLimitsForTier(models.LicenseTypeFree)
	if current != nil {
		limits = current.Limits
	}

	RespondJSON(w, http.StatusOK, UsageResponse{
		Users:         evaluateUsage(limits.Users),
		Agents:        evaluateUsage(limits.Agents),
		Tasks:         evaluateUsage(limits.Tasks),
		Conversations: evaluateUsage(limits.Conversations),
	})
}

func evaluateUsage(l models.UsageLimit) ResourceUsage {
	return ResourceUsage{
		Current:    l.Current,
		Max:        l.Max,
		Percentage: license.UsagePercentage(l.Current, l.Max),
		CanAdmit:   license.CanAdmit(l.Current, l.Max),
	}
}

// RefreshLicense re-fetches the license from the issuing authority.
func (h *LicenseHandler) RefreshLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.licenseService.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to refresh license")
		RespondError(w, http.StatusBadGateway, "Failed to refresh license")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "License refreshed successfully",
	})
}

// GetWorkflowStatus returns the activation workflow snapshot.
func (h *LicenseHandler) GetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.workflow.Status())
}

// RequestLicense runs phase 1 of the activation workflow.
func (h *LicenseHandler) RequestLicense(w http.ResponseWriter, r *http.Request) {
	var req models.OnlineLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.workflow.SubmitLicenseRequest(r.Context(), &req)
	if err != nil {
		respondWorkflowError(w, err, "License request failed")
		return
	}

	log.Info().
		Str("licenseType", string(result.LicenseType)).
		Msg("License request submitted")

	RespondJSON(w, http.StatusOK, h.workflow.Status())
}

// Activate runs phase 2 of the activation workflow.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.workflow.SubmitActivation(r.Context(), &req.Registration, &req.Activation); err != nil {
		respondWorkflowError(w, err, "Activation failed")
		return
	}

	RespondJSON(w, http.StatusOK, h.workflow.Status())
}

// GetCatalog returns the full tier and feature catalog.
func (h *LicenseHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	tiers := make([]CatalogTier, 0, 4)
	for _, t := range license.Tiers() {
		tiers = append(tiers, CatalogTier{
			Type:     t,
			TierInfo: license.TierInfoFor(t),
		})
	}

	RespondJSON(w, http.StatusOK, CatalogResponse{
		Tiers:    tiers,
		Features: license.Features(),
	})
}

// SearchFeatures returns catalog features matching the q parameter,
// best matches first. No query returns the full table.
func (h *LicenseHandler) SearchFeatures(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	RespondJSON(w, http.StatusOK, license.SearchFeatures(query))
}

// CheckFeature evaluates one named feature against the current license.
func (h *LicenseHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		RespondError(w, http.StatusBadRequest, "Feature name is required")
		return
	}

	enabled, err := h.licenseService.HasFeature(r.Context(), name)
	if err != nil {
		log.Error().Err(err).Str("feature", name).Msg("Failed to evaluate feature")
		RespondError(w, http.StatusInternalServerError, "Failed to evaluate feature")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"enabled": enabled,
	})
}

// respondWorkflowError maps workflow failures to HTTP statuses:
// validation problems are the client's, in-flight collisions conflict,
// an authority refusal is the submission's problem (422), and only
// transport failures or authority outages report 502.
func respondWorkflowError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *license.ValidationError
	if errors.As(err, &validationErr) {
		RespondError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	if errors.Is(err, services.ErrSubmissionInFlight) {
		RespondError(w, http.StatusConflict, "A submission is already in progress")
		return
	}

	var authorityErr *authority.Error
	if errors.As(err, &authorityErr) && authorityErr.Detail != "" && authorityErr.StatusCode < http.StatusInternalServerError {
		RespondError(w, http.StatusUnprocessableEntity, authorityErr.Detail)
		return
	}

	log.Error().Err(err).Msg(fallback)
	RespondError(w, http.StatusBadGateway, fallback)
}
