// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCredentialStore(t *testing.T) *CredentialStore {
	t.Helper()

	db := setupTestDB(t)
	key := sha256.Sum256([]byte("test-secret"))

	store, err := NewCredentialStore(db.Conn(), key[:])
	require.NoError(t, err)

	return store
}

func TestNewCredentialStoreRejectsBadKey(t *testing.T) {
	db := setupTestDB(t)

	_, err := NewCredentialStore(db.Conn(), []byte("short"))
	assert.Error(t, err)
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	store := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CredentialAccessToken, "token-123"))

	got, err := store.Get(ctx, CredentialAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "token-123", got)
}

func TestCredentialStoreEncryptsAtRest(t *testing.T) {
	db := setupTestDB(t)
	key := sha256.Sum256([]byte("test-secret"))
	store, err := NewCredentialStore(db.Conn(), key[:])
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, CredentialAccessToken, "token-123"))

	var raw string
	require.NoError(t, db.Conn().QueryRow(
		`SELECT value_encrypted FROM credentials WHERE name = ?`, CredentialAccessToken,
	).Scan(&raw))

	assert.NotContains(t, raw, "token-123")
}

func TestCredentialStoreSetReplaces(t *testing.T) {
	store := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CredentialAccessToken, "old"))
	require.NoError(t, store.Set(ctx, CredentialAccessToken, "new"))

	got, err := store.Get(ctx, CredentialAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestCredentialStoreGetNotFound(t *testing.T) {
	store := setupCredentialStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCredentialStoreDelete(t *testing.T) {
	store := setupCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CredentialUser, `{"id":1}`))
	require.NoError(t, store.Delete(ctx, CredentialUser))

	_, err := store.Get(ctx, CredentialUser)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	// Deleting a missing credential is fine.
	assert.NoError(t, store.Delete(ctx, CredentialUser))
}
