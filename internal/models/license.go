// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var ErrLicenseNotFound = errors.New("license not found")

// LicenseType identifies the entitlement tier of a license.
type LicenseType string

const (
	LicenseTypeFree       LicenseType = "free"
	LicenseTypePersonal   LicenseType = "personal"
	LicenseTypeBusiness   LicenseType = "business"
	LicenseTypeEnterprise LicenseType = "enterprise"
)

// IsValid reports whether t is a known license type.
func (t LicenseType) IsValid() bool {
	switch t {
	case LicenseTypeFree, LicenseTypePersonal, LicenseTypeBusiness, LicenseTypeEnterprise:
		return true
	}
	return false
}

// LicenseStatus is the lifecycle state of a license. Exactly one status
// holds at any time.
type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusCancelled LicenseStatus = "cancelled"
)

// UsageLimit is a current/max pair for one countable resource.
type UsageLimit struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// UsageLimits holds the four resource quotas granted by a license.
type UsageLimits struct {
	Users         UsageLimit `json:"users"`
	Agents        UsageLimit `json:"agents"`
	Tasks         UsageLimit `json:"tasks"`
	Conversations UsageLimit `json:"conversations"`
}

// License mirrors the authoritative record held by the issuing authority.
// Quota counters are maintained by the owning resource managers, not here.
type License struct {
	ID             int             `json:"id"`
	LicenseKey     string          `json:"licenseKey"`
	LicenseType    LicenseType     `json:"licenseType"`
	Status         LicenseStatus   `json:"status"`
	OwnerName      string          `json:"ownerName"`
	OwnerEmail     string          `json:"ownerEmail"`
	CompanyName    *string         `json:"companyName,omitempty"`
	InstallationID *string         `json:"installationId,omitempty"`
	Limits         UsageLimits     `json:"limits"`
	IssuedAt       time.Time       `json:"issuedAt"`
	ActivatedAt    *time.Time      `json:"activatedAt,omitempty"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	LastVerified   *time.Time      `json:"lastVerified,omitempty"`
	Features       map[string]bool `json:"features"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// LicenseInfo is the read-only projection consumed by display and
// decision code. Validity fields are derived, never stored.
type LicenseInfo struct {
	LicenseType     LicenseType     `json:"licenseType"`
	Status          LicenseStatus   `json:"status"`
	OwnerName       string          `json:"ownerName"`
	CompanyName     *string         `json:"companyName,omitempty"`
	IsActive        bool            `json:"isActive"`
	IsExpired       bool            `json:"isExpired"`
	DaysUntilExpiry *int            `json:"daysUntilExpiry,omitempty"`
	Limits          UsageLimits     `json:"limits"`
	Features        map[string]bool `json:"features"`
}

// LicenseActivation is the transient request that binds a license key to
// this installation. The fingerprint is attached just before submission.
type LicenseActivation struct {
	LicenseKey          string  `json:"license_key"`
	OwnerName           string  `json:"owner_name"`
	OwnerEmail          string  `json:"owner_email"`
	CompanyName         *string `json:"company_name,omitempty"`
	HardwareFingerprint string  `json:"hardware_fingerprint"`
}

// OnlineLicenseRequest asks the issuing authority to grant a new license.
type OnlineLicenseRequest struct {
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	CompanyName     *string     `json:"company_name,omitempty"`
	LicenseType     LicenseType `json:"license_type"`
	RequestedUsers  int         `json:"requested_users"`
	RequestedAgents int         `json:"requested_agents"`
}

// RegistrationData creates the bound user account in the same call as
// activation.
type RegistrationData struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LicenseStore persists the local mirror of the current license.
type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

// Upsert replaces the mirrored license record. Only one license is bound
// to an installation at a time, so the mirror is a single row.
func (s *LicenseStore) Upsert(ctx context.Context, license *License) error {
	features, err := json.Marshal(license.Features)
	if err != nil {
		return errors.Wrap(err, "failed to encode features")
	}

	query := `
		INSERT INTO licenses (id, license_key, license_type, status, owner_name, owner_email,
		                      company_name, installation_id,
		                      max_users, current_users, max_agents, current_agents,
		                      max_tasks, current_tasks, max_conversations, current_conversations,
		                      issued_at, activated_at, expires_at, last_verified, features)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			license_key = excluded.license_key,
			license_type = excluded.license_type,
			status = excluded.status,
			owner_name = excluded.owner_name,
			owner_email = excluded.owner_email,
			company_name = excluded.company_name,
			installation_id = excluded.installation_id,
			max_users = excluded.max_users,
			current_users = excluded.current_users,
			max_agents = excluded.max_agents,
			current_agents = excluded.current_agents,
			max_tasks = excluded.max_tasks,
			current_tasks = excluded.current_tasks,
			max_conversations = excluded.max_conversations,
			current_conversations = excluded.current_conversations,
			issued_at = excluded.issued_at,
			activated_at = excluded.activated_at,
			expires_at = excluded.expires_at,
			last_verified = excluded.last_verified,
			features = excluded.features,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		license.LicenseKey,
		license.LicenseType,
		license.Status,
		license.OwnerName,
		license.OwnerEmail,
		license.CompanyName,
		license.InstallationID,
		license.Limits.Users.Max,
		license.Limits.Users.Current,
		license.Limits.Agents.Max,
		license.Limits.Agents.Current,
		license.Limits.Tasks.Max,
		license.Limits.Tasks.Current,
		license.Limits.Conversations.Max,
		license.Limits.Conversations.Current,
		license.IssuedAt,
		license.ActivatedAt,
		license.ExpiresAt,
		license.LastVerified,
		string(features),
	)

	return err
}

// Get returns the mirrored license, or ErrLicenseNotFound when the
// installation has never been activated.
func (s *LicenseStore) Get(ctx context.Context) (*License, error) {
	query := `
		SELECT id, license_key, license_type, status, owner_name, owner_email,
		       company_name, installation_id,
		       max_users, current_users, max_agents, current_agents,
		       max_tasks, current_tasks, max_conversations, current_conversations,
		       issued_at, activated_at, expires_at, last_verified, features,
		       created_at, updated_at
		FROM licenses
		WHERE id = 1
	`

	license := &License{}
	var features string

	err := s.db.QueryRowContext(ctx, query).Scan(
		&license.ID,
		&license.LicenseKey,
		&license.LicenseType,
		&license.Status,
		&license.OwnerName,
		&license.OwnerEmail,
		&license.CompanyName,
		&license.InstallationID,
		&license.Limits.Users.Max,
		&license.Limits.Users.Current,
		&license.Limits.Agents.Max,
		&license.Limits.Agents.Current,
		&license.Limits.Tasks.Max,
		&license.Limits.Tasks.Current,
		&license.Limits.Conversations.Max,
		&license.Limits.Conversations.Current,
		&license.IssuedAt,
		&license.ActivatedAt,
		&license.ExpiresAt,
		&license.LastVerified,
		&features,
		&license.CreatedAt,
		&license.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	if features != "" {
		if err := json.Unmarshal([]byte(features), &license.Features); err != nil {
			return nil, errors.Wrap(err, "failed to decode features")
		}
	}

	return license, nil
}

// Delete removes the mirrored license, returning the installation to the
// unlicensed state.
func (s *LicenseStore) Delete(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE id = 1`)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return nil
}
