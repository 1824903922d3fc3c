// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/authority"
)

// VersionStatus compares this build against the version range the
// issuing authority supports.
type VersionStatus struct {
	CurrentVersion  string `json:"currentVersion"`
	MinimumVersion  string `json:"minimumVersion,omitempty"`
	LatestVersion   string `json:"latestVersion,omitempty"`
	Supported       bool   `json:"supported"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// UpdateService checks the running version against the authority's
// advertised minimum and latest client versions.
type UpdateService struct {
	authority *authority.Client
	version   string
}

func NewUpdateService(authorityClient *authority.Client, version string) *UpdateService {
	return &UpdateService{
		authority: authorityClient,
		version:   version,
	}
}

// Check fetches the authority's version range and compares. Development
// builds and unreachable authorities degrade to "supported, no update".
func (s *UpdateService) Check(ctx context.Context) *VersionStatus {
	status := &VersionStatus{
		CurrentVersion: s.version,
		Supported:      true,
	}

	current, err := semver.NewVersion(s.version)
	if err != nil {
		// "dev" and other non-release builds are not comparable.
		log.Debug().Str("version", s.version).Msg("Skipping version check for non-release build")
		return status
	}

	if !s.authority.IsConfigured() {
		return status
	}

	info, err := s.authority.ClientVersion(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to fetch supported client versions")
		return status
	}

	status.MinimumVersion = info.MinimumVersion
	status.LatestVersion = info.LatestVersion

	if minimum, err := semver.NewVersion(info.MinimumVersion); err == nil {
		status.Supported = !current.LessThan(minimum)
		if !status.Supported {
			log.Warn().
				Str("current", s.version).
				Str("minimum", info.MinimumVersion).
				Msg("This build is older than the minimum version the license authority supports")
		}
	}

	if latest, err := semver.NewVersion(info.LatestVersion); err == nil {
		status.UpdateAvailable = current.LessThan(latest)
	}

	return status
}
