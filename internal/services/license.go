// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/authority"
	"github.com/Dpro-at/agent-player/internal/license"
	"github.com/Dpro-at/agent-player/internal/models"
)

const infoCacheTTL = time.Minute

// LicenseService holds the process-wide current license. Refresh is the
// single writer; everything else reads. The record is mirrored to sqlite
// so the installation keeps its view across restarts.
type LicenseService struct {
	store     *models.LicenseStore
	authority *authority.Client
	cache     *ristretto.Cache

	mu      sync.RWMutex
	current *models.License
	loaded  bool
}

func NewLicenseService(store *models.LicenseStore, authorityClient *authority.Client) (*LicenseService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create license cache")
	}

	return &LicenseService{
		store:     store,
		authority: authorityClient,
		cache:     cache,
	}, nil
}

// GetCurrentLicense returns the derived view of the current license, or
// nil when the installation is unlicensed. The nil case is the normal
// empty state, not an error; an error is returned only when the license
// could not be fetched at all. Validity is re-derived against the clock
// on every call so expiry takes effect the moment it passes; only the
// clock-independent feature view is cached.
func (s *LicenseService) GetCurrentLicense(ctx context.Context) (*models.LicenseInfo, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	info := license.BuildInfo(current, time.Now())
	info.Features = s.featureView(current)

	return info, nil
}

// featureView returns the catalog-derived feature map for the license,
// cached per key. IsActive and IsExpired never pass through here.
func (s *LicenseService) featureView(current *models.License) map[string]bool {
	if cached, ok := s.cache.Get(current.LicenseKey); ok {
		if features, ok := cached.(map[string]bool); ok {
			return features
		}
	}

	features := license.FeaturesForTier(current.LicenseType)
	s.cache.SetWithTTL(current.LicenseKey, features, 1, infoCacheTTL)

	return features
}

// Current returns the raw license record, loading it on first use. A nil
// record means the installation has never been activated.
func (s *LicenseService) Current(ctx context.Context) (*models.License, error) {
	s.mu.RLock()
	if s.loaded {
		current := s.current
		s.mu.RUnlock()
		return current, nil
	}
	s.mu.RUnlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// load populates the in-memory record from the local mirror, falling back
// to the authority when no mirror exists yet.
func (s *LicenseService) load(ctx context.Context) error {
	stored, err := s.store.Get(ctx)
	if err != nil && !errors.Is(err, models.ErrLicenseNotFound) {
		return errors.Wrap(err, "failed to read license mirror")
	}

	if stored != nil {
		s.setCurrent(stored)
		return nil
	}

	if !s.authority.IsConfigured() {
		s.setCurrent(nil)
		return nil
	}

	return s.Refresh(ctx)
}

// Refresh re-fetches the license from the issuing authority and rewrites
// the local mirror. This is the only code path that mutates the current
// license; it runs on startup and after successful activation.
func (s *LicenseService) Refresh(ctx context.Context) error {
	current, err := s.authority.CurrentLicense(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch current license")
	}

	if current == nil {
		if err := s.store.Delete(ctx); err != nil && !errors.Is(err, models.ErrLicenseNotFound) {
			log.Error().Err(err).Msg("Failed to clear license mirror")
		}
		s.setCurrent(nil)
		log.Debug().Msg("No license bound to this installation")
		return nil
	}

	// The feature map is a view derived from the catalog for the
	// license's tier; never trust a stored map that could drift.
	current.Features = license.FeaturesForTier(current.LicenseType)
	now := time.Now()
	current.LastVerified = &now

	if err := s.store.Upsert(ctx, current); err != nil {
		log.Error().
			Err(err).
			Str("licenseKey", license.MaskKey(current.LicenseKey)).
			Msg("Failed to persist license mirror")
	}

	s.setCurrent(current)

	validity := license.DeriveValidity(current, now)
	log.Info().
		Str("licenseKey", license.MaskKey(current.LicenseKey)).
		Str("licenseType", string(current.LicenseType)).
		Str("status", string(current.Status)).
		Bool("active", validity.IsActive).
		Msg("License refreshed")

	return nil
}

func (s *LicenseService) setCurrent(current *models.License) {
	s.mu.Lock()
	if s.current != nil {
		s.cache.Del(s.current.LicenseKey)
	}
	s.current = current
	s.loaded = true
	s.mu.Unlock()
}

// HasFeature evaluates a named feature against the current license. An
// unlicensed installation has no features.
func (s *LicenseService) HasFeature(ctx context.Context, featureName string) (bool, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}

	validity := license.DeriveValidity(current, time.Now())
	if !validity.IsActive {
		return false, nil
	}

	return license.FeatureEnabled(current, featureName), nil
}
