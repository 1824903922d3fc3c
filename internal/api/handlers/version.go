// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/Dpro-at/agent-player/internal/services"
)

type VersionHandler struct {
	updateService *services.UpdateService
}

func NewVersionHandler(updateService *services.UpdateService) *VersionHandler {
	return &VersionHandler{
		updateService: updateService,
	}
}

// GetVersion reports the running build and how it compares to the
// versions the issuing authority supports.
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.updateService.Check(r.Context()))
}
