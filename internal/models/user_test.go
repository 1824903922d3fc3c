// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStoreCreate(t *testing.T) {
	db := setupTestDB(t)
	store := NewUserStore(db.Conn())
	ctx := context.Background()

	user, err := store.Create(ctx, "testuser", "user@example.com", "Test User", "hash")
	require.NoError(t, err)

	assert.Equal(t, 1, user.ID)
	assert.Equal(t, "testuser", user.Username)
	assert.Equal(t, "user@example.com", user.Email)
	assert.Equal(t, "Test User", user.FullName)
}

func TestUserStoreSingleAccount(t *testing.T) {
	db := setupTestDB(t)
	store := NewUserStore(db.Conn())
	ctx := context.Background()

	_, err := store.Create(ctx, "first", "first@example.com", "", "hash")
	require.NoError(t, err)

	_, err = store.Create(ctx, "second", "second@example.com", "", "hash")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestUserStoreGetByUsername(t *testing.T) {
	db := setupTestDB(t)
	store := NewUserStore(db.Conn())
	ctx := context.Background()

	_, err := store.Create(ctx, "testuser", "user@example.com", "", "hash")
	require.NoError(t, err)

	user, err := store.GetByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username)

	_, err = store.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserStoreUpdatePassword(t *testing.T) {
	db := setupTestDB(t)
	store := NewUserStore(db.Conn())
	ctx := context.Background()

	// No account yet.
	assert.ErrorIs(t, store.UpdatePassword(ctx, "newhash"), ErrUserNotFound)

	_, err := store.Create(ctx, "testuser", "", "", "oldhash")
	require.NoError(t, err)

	require.NoError(t, store.UpdatePassword(ctx, "newhash"))

	user, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newhash", user.PasswordHash)
}

func TestUserStoreExists(t *testing.T) {
	db := setupTestDB(t)
	store := NewUserStore(db.Conn())
	ctx := context.Background()

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Create(ctx, "testuser", "", "", "hash")
	require.NoError(t, err)

	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}
