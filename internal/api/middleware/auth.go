// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/auth"
)

// IsAuthenticated rejects requests without a valid session.
func IsAuthenticated(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authService.IsAuthenticated(r) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSetup blocks everything but the setup and activation endpoints
// until the initial account exists. Activation creates the account, so
// it has to stay reachable on a fresh installation.
func RequireSetup(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if setupExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			complete, err := authService.IsSetupComplete(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("Failed to check setup status")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if !complete {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusPreconditionRequired)
				w.Write([]byte(`{"error":"Initial setup required","setup_required":true}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setupExempt(path string) bool {
	exempt := []string{
		"/auth/setup",
		"/auth/check-setup",
		"/license/request",
		"/license/activate",
		"/license/workflow",
		"/license/catalog",
	}
	for _, suffix := range exempt {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
