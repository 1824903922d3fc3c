// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dpro-at/agent-player/internal/models"
)

func testLicense(status models.LicenseStatus, expiresAt *time.Time) *models.License {
	return &models.License{
		LicenseKey:  "ABCD-1234-EFGH-5678-IJKL",
		LicenseType: models.LicenseTypeBusiness,
		Status:      status,
		OwnerName:   "Test User",
		OwnerEmail:  "user@example.com",
		IssuedAt:    time.Now().Add(-24 * time.Hour),
		ExpiresAt:   expiresAt,
	}
}

func TestDeriveValidity(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("active without expiry is unbounded", func(t *testing.T) {
		v := DeriveValidity(testLicense(models.LicenseStatusActive, nil), now)

		assert.True(t, v.IsActive)
		assert.False(t, v.IsExpired)
		assert.Nil(t, v.DaysUntilExpiry)
	})

	t.Run("active with future expiry", func(t *testing.T) {
		expiry := now.Add(30 * 24 * time.Hour)
		v := DeriveValidity(testLicense(models.LicenseStatusActive, &expiry), now)

		assert.True(t, v.IsActive)
		assert.False(t, v.IsExpired)
		require.NotNil(t, v.DaysUntilExpiry)
		assert.Equal(t, 30, *v.DaysUntilExpiry)
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		expiry := now.Add(36 * time.Hour)
		v := DeriveValidity(testLicense(models.LicenseStatusActive, &expiry), now)

		require.NotNil(t, v.DaysUntilExpiry)
		assert.Equal(t, 2, *v.DaysUntilExpiry)
	})

	t.Run("stored active past expiry is not active", func(t *testing.T) {
		// The stored status can lag behind the clock; expiry always wins.
		expiry := now.Add(-48 * time.Hour)
		v := DeriveValidity(testLicense(models.LicenseStatusActive, &expiry), now)

		assert.False(t, v.IsActive)
		assert.True(t, v.IsExpired)
		require.NotNil(t, v.DaysUntilExpiry)
		assert.Equal(t, -2, *v.DaysUntilExpiry)
	})

	t.Run("pending is never active", func(t *testing.T) {
		v := DeriveValidity(testLicense(models.LicenseStatusPending, nil), now)

		assert.False(t, v.IsActive)
		assert.False(t, v.IsExpired)
	})

	t.Run("suspended with future expiry is not active", func(t *testing.T) {
		expiry := now.Add(30 * 24 * time.Hour)
		v := DeriveValidity(testLicense(models.LicenseStatusSuspended, &expiry), now)

		assert.False(t, v.IsActive)
		assert.False(t, v.IsExpired)
	})

	t.Run("nil license", func(t *testing.T) {
		v := DeriveValidity(nil, now)

		assert.False(t, v.IsActive)
		assert.False(t, v.IsExpired)
		assert.Nil(t, v.DaysUntilExpiry)
	})
}

func TestBuildInfo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("nil license projects to nil", func(t *testing.T) {
		assert.Nil(t, BuildInfo(nil, now))
	})

	t.Run("projection carries derived validity and catalog features", func(t *testing.T) {
		l := testLicense(models.LicenseStatusActive, nil)
		l.Limits = models.UsageLimits{
			Users: models.UsageLimit{Current: 3, Max: 25},
		}

		info := BuildInfo(l, now)
		require.NotNil(t, info)

		assert.Equal(t, models.LicenseTypeBusiness, info.LicenseType)
		assert.True(t, info.IsActive)
		assert.Nil(t, info.DaysUntilExpiry)
		assert.Equal(t, 3, info.Limits.Users.Current)

		// Feature view comes from the catalog, not stored state.
		assert.True(t, info.Features["api_access"])
		assert.False(t, info.Features["sso"])
	})

	t.Run("stored feature map never leaks into projection", func(t *testing.T) {
		l := testLicense(models.LicenseStatusActive, nil)
		l.Features = map[string]bool{"sso": true}

		info := BuildInfo(l, now)
		require.NotNil(t, info)
		assert.False(t, info.Features["sso"])
	})
}
