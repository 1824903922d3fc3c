// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"math"
	"time"

	"github.com/Dpro-at/agent-player/internal/models"
)

// Validity is the derived view of a license's temporal state. It must be
// re-derivable at any time from stored fields and the clock; it is never
// persisted.
type Validity struct {
	IsActive  bool
	IsExpired bool
	// DaysUntilExpiry may be zero or negative. Nil means no expiry is set
	// and the license is unbounded.
	DaysUntilExpiry *int
}

// DeriveValidity computes validity for a license at the given instant.
// IsActive holds iff the stored status is active and the license has not
// passed its expiry, regardless of what the stored status claims.
func DeriveValidity(l *models.License, now time.Time) Validity {
	var v Validity
	if l == nil {
		return v
	}

	if l.ExpiresAt != nil {
		v.IsExpired = now.After(*l.ExpiresAt)
		days := int(math.Ceil(l.ExpiresAt.Sub(now).Hours() / 24))
		v.DaysUntilExpiry = &days
	}

	v.IsActive = l.Status == models.LicenseStatusActive && !v.IsExpired

	return v
}

// BuildInfo projects a license into the read-only LicenseInfo consumed by
// display and decision code. The feature view is derived from the catalog
// for the license's tier, so a stored map can never drift from it.
func BuildInfo(l *models.License, now time.Time) *models.LicenseInfo {
	if l == nil {
		return nil
	}

	v := DeriveValidity(l, now)

	return &models.LicenseInfo{
		LicenseType:     l.LicenseType,
		Status:          l.Status,
		OwnerName:       l.OwnerName,
		CompanyName:     l.CompanyName,
		IsActive:        v.IsActive,
		IsExpired:       v.IsExpired,
		DaysUntilExpiry: v.DaysUntilExpiry,
		Limits:          l.Limits,
		Features:        FeaturesForTier(l.LicenseType),
	}
}
