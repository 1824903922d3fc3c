// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dpro-at/agent-player/internal/api/handlers"
	apimiddleware "github.com/Dpro-at/agent-player/internal/api/middleware"
	"github.com/Dpro-at/agent-player/internal/auth"
	"github.com/Dpro-at/agent-player/internal/config"
	"github.com/Dpro-at/agent-player/internal/metrics"
	"github.com/Dpro-at/agent-player/internal/services"
)

// Dependencies holds everything the router needs wired in.
type Dependencies struct {
	Config         *config.AppConfig
	AuthService    *auth.Service
	LicenseService *services.LicenseService
	Workflow       *services.ActivationWorkflow
	UpdateService  *services.UpdateService
	MetricsManager *metrics.Manager
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(apimiddleware.HTTPLogger)

	authHandler := handlers.NewAuthHandler(deps.AuthService)
	licenseHandler := handlers.NewLicenseHandler(deps.LicenseService, deps.Workflow)
	versionHandler := handlers.NewVersionHandler(deps.UpdateService)

	r.Route("/api", func(r chi.Router) {
		r.Use(apimiddleware.RequireSetup(deps.AuthService))

		// Public routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/check-setup", authHandler.CheckSetupRequired)
			r.Post("/setup", authHandler.Setup)
			r.Post("/login", authHandler.Login)
		})

		// The activation workflow must be reachable before any account
		// exists; it is what creates the account.
		r.Route("/license", func(r chi.Router) {
			r.Get("/workflow", licenseHandler.GetWorkflowStatus)
			r.Get("/catalog", licenseHandler.GetCatalog)
			r.Post("/request", licenseHandler.RequestLicense)
			r.Post("/activate", licenseHandler.Activate)

			// Protected license routes
			r.Group(func(r chi.Router) {
				r.Use(apimiddleware.IsAuthenticated(deps.AuthService))

				r.Get("/", licenseHandler.GetCurrentLicense)
				r.Get("/usage", licenseHandler.GetUsage)
				r.Post("/refresh", licenseHandler.RefreshLicense)
				r.Get("/features", licenseHandler.SearchFeatures)
				r.Get("/features/{name}", licenseHandler.CheckFeature)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.IsAuthenticated(deps.AuthService))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.GetCurrentUser)
			r.Put("/auth/change-password", authHandler.ChangePassword)

			r.Get("/version", versionHandler.GetVersion)
		})
	})

	if deps.Config.Config.MetricsEnabled && deps.MetricsManager != nil {
		metricsHandler := handlers.NewMetricsHandler(deps.MetricsManager)
		r.Get("/metrics", metricsHandler.ServeMetrics)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
