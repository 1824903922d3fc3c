// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"io"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Well-known credential names. The rest of the application reads these;
// the activation workflow writes them.
const (
	CredentialAccessToken = "access_token"
	CredentialUser        = "user"
)

// CredentialStore holds durable key/value client state (the access token
// and user record returned by registration). Values are encrypted at rest
// with AES-GCM.
type CredentialStore struct {
	db            *sql.DB
	encryptionKey []byte
}

func NewCredentialStore(db *sql.DB, encryptionKey []byte) (*CredentialStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &CredentialStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *CredentialStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *CredentialStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// Set stores a credential under the given name, replacing any previous
// value.
func (s *CredentialStore) Set(ctx context.Context, name, value string) error {
	encrypted, err := s.encrypt(value)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (name, value_encrypted)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value_encrypted = excluded.value_encrypted,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query, name, encrypted)
	return err
}

// Get returns the decrypted credential value.
func (s *CredentialStore) Get(ctx context.Context, name string) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_encrypted FROM credentials WHERE name = ?`, name,
	).Scan(&encrypted)

	if err == sql.ErrNoRows {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", err
	}

	return s.decrypt(encrypted)
}

// Delete removes a credential. Deleting a missing credential is not an
// error.
func (s *CredentialStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name)
	return err
}
