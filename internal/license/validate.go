// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Dpro-at/agent-player/internal/models"
)

// Client-side format contracts, checked before anything reaches the
// authority.
var (
	licenseKeyRegexp = regexp.MustCompile(`^[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}$`)
	emailRegexp      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidationError reports a missing or malformed field. It is raised
// before any network call and blocks submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidLicenseKey reports whether key matches the issuing authority's
// key format: five dash-separated groups of four alphanumerics.
func IsValidLicenseKey(key string) bool {
	return licenseKeyRegexp.MatchString(key)
}

// IsValidEmail reports whether email is syntactically plausible.
func IsValidEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

// ValidateLicenseRequest checks an online license request before
// submission: name and a syntactically valid email are required.
func ValidateLicenseRequest(req *models.OnlineLicenseRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return &ValidationError{Field: "name", Reason: "name is required"}
	}
	if strings.TrimSpace(req.Email) == "" {
		return &ValidationError{Field: "email", Reason: "email is required"}
	}
	if !IsValidEmail(req.Email) {
		return &ValidationError{Field: "email", Reason: "email is not valid"}
	}
	if req.LicenseType != "" && !req.LicenseType.IsValid() {
		return &ValidationError{Field: "license_type", Reason: "unknown license type"}
	}
	if req.RequestedUsers < 0 {
		return &ValidationError{Field: "requested_users", Reason: "must not be negative"}
	}
	if req.RequestedAgents < 0 {
		return &ValidationError{Field: "requested_agents", Reason: "must not be negative"}
	}
	return nil
}

// ValidateActivation checks the combined activation + registration form
// before submission.
func ValidateActivation(activation *models.LicenseActivation, registration *models.RegistrationData) error {
	if strings.TrimSpace(activation.LicenseKey) == "" {
		return &ValidationError{Field: "license_key", Reason: "license key is required"}
	}
	if !IsValidLicenseKey(activation.LicenseKey) {
		return &ValidationError{Field: "license_key", Reason: "license key format is invalid"}
	}
	if strings.TrimSpace(registration.Username) == "" {
		return &ValidationError{Field: "username", Reason: "username is required"}
	}
	if strings.TrimSpace(registration.Email) == "" {
		return &ValidationError{Field: "email", Reason: "email is required"}
	}
	if !IsValidEmail(registration.Email) {
		return &ValidationError{Field: "email", Reason: "email is not valid"}
	}
	if registration.Password == "" {
		return &ValidationError{Field: "password", Reason: "password is required"}
	}
	return nil
}

// MaskKey masks a license key for logging (shows first 8 chars + ***).
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
