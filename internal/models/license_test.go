// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dpro-at/agent-player/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })

	return db
}

func sampleLicense() *License {
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	company := "Acme GmbH"

	return &License{
		LicenseKey:  "ABCD-1234-EFGH-5678-IJKL",
		LicenseType: LicenseTypeBusiness,
		Status:      LicenseStatusActive,
		OwnerName:   "Test User",
		OwnerEmail:  "user@example.com",
		CompanyName: &company,
		Limits: UsageLimits{
			Users:         UsageLimit{Current: 2, Max: 25},
			Agents:        UsageLimit{Current: 10, Max: 100},
			Tasks:         UsageLimit{Current: 0, Max: 5000},
			Conversations: UsageLimit{Current: 42, Max: 10000},
		},
		IssuedAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt: &expiry,
		Features:  map[string]bool{"api_access": true, "sso": false},
	}
}

func TestLicenseStoreRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewLicenseStore(db.Conn())
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleLicense()))

	got, err := store.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ABCD-1234-EFGH-5678-IJKL", got.LicenseKey)
	assert.Equal(t, LicenseTypeBusiness, got.LicenseType)
	assert.Equal(t, LicenseStatusActive, got.Status)
	require.NotNil(t, got.CompanyName)
	assert.Equal(t, "Acme GmbH", *got.CompanyName)
	assert.Equal(t, 25, got.Limits.Users.Max)
	assert.Equal(t, 42, got.Limits.Conversations.Current)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.Features["api_access"])
	assert.False(t, got.Features["sso"])
}

func TestLicenseStoreUpsertReplacesSingleton(t *testing.T) {
	db := setupTestDB(t)
	store := NewLicenseStore(db.Conn())
	ctx := context.Background()

	first := sampleLicense()
	require.NoError(t, store.Upsert(ctx, first))

	second := sampleLicense()
	second.LicenseKey = "WXYZ-9876-WXYZ-9876-WXYZ"
	second.LicenseType = LicenseTypeEnterprise
	second.ExpiresAt = nil
	require.NoError(t, store.Upsert(ctx, second))

	got, err := store.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, "WXYZ-9876-WXYZ-9876-WXYZ", got.LicenseKey)
	assert.Equal(t, LicenseTypeEnterprise, got.LicenseType)
	assert.Nil(t, got.ExpiresAt)

	// Still one row.
	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM licenses").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLicenseStoreGetNotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewLicenseStore(db.Conn())

	_, err := store.Get(context.Background())
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestLicenseStoreDelete(t *testing.T) {
	db := setupTestDB(t)
	store := NewLicenseStore(db.Conn())
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleLicense()))
	require.NoError(t, store.Delete(ctx))

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, ErrLicenseNotFound)

	// Deleting again reports the missing row.
	assert.ErrorIs(t, store.Delete(ctx), ErrLicenseNotFound)
}

func TestLicenseTypeIsValid(t *testing.T) {
	assert.True(t, LicenseTypeFree.IsValid())
	assert.True(t, LicenseTypeEnterprise.IsValid())
	assert.False(t, LicenseType("platinum").IsValid())
	assert.False(t, LicenseType("").IsValid())
}
