// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package license holds the client-side license domain: the tier/feature
// catalog, validity derivation, usage evaluation, request validation, and
// the hardware fingerprint generator. It performs no network calls.
package license

import (
	_ "embed"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/Dpro-at/agent-player/internal/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// TierInfo describes one license tier: display metadata and the default
// quotas granted at that tier.
type TierInfo struct {
	DisplayName      string `yaml:"display_name" json:"displayName"`
	MaxUsers         int    `yaml:"max_users" json:"maxUsers"`
	MaxAgents        int    `yaml:"max_agents" json:"maxAgents"`
	MaxTasks         int    `yaml:"max_tasks" json:"maxTasks"`
	MaxConversations int    `yaml:"max_conversations" json:"maxConversations"`
	Price            string `yaml:"price" json:"price"`
	Description      string `yaml:"description" json:"description"`
}

// Feature describes one named capability and the tiers that include it.
type Feature struct {
	Name        string               `yaml:"name" json:"name"`
	DisplayName string               `yaml:"display_name" json:"displayName"`
	Description string               `yaml:"description" json:"description"`
	AvailableIn []models.LicenseType `yaml:"available_in" json:"availableIn"`
}

type catalog struct {
	Tiers    map[models.LicenseType]TierInfo `yaml:"tiers"`
	Features []Feature                       `yaml:"features"`
}

// The catalog is configuration data loaded once per process lifetime and
// never mutated afterwards.
var cat catalog

func init() {
	if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
		panic("license: invalid embedded catalog: " + err.Error())
	}
}

// TierInfoFor returns the catalog entry for the given tier. Unrecognized
// tiers fall back to the free tier.
func TierInfoFor(t models.LicenseType) TierInfo {
	info, ok := cat.Tiers[t]
	if !ok {
		return cat.Tiers[models.LicenseTypeFree]
	}
	return info
}

// Tiers returns every tier in entitlement order.
func Tiers() []models.LicenseType {
	return []models.LicenseType{
		models.LicenseTypeFree,
		models.LicenseTypePersonal,
		models.LicenseTypeBusiness,
		models.LicenseTypeEnterprise,
	}
}

// Features returns the full feature table.
func Features() []Feature {
	out := make([]Feature, len(cat.Features))
	copy(out, cat.Features)
	return out
}

// IsFeatureEnabled reports whether the catalog lists featureName as
// available at tier t. The catalog is the canonical source of truth;
// stored feature maps are derived from it.
func IsFeatureEnabled(t models.LicenseType, featureName string) bool {
	for _, f := range cat.Features {
		if f.Name != featureName {
			continue
		}
		for _, tier := range f.AvailableIn {
			if tier == t {
				return true
			}
		}
		return false
	}
	return false
}

// FeaturesForTier computes the feature view for a license of tier t.
func FeaturesForTier(t models.LicenseType) map[string]bool {
	features := make(map[string]bool, len(cat.Features))
	for _, f := range cat.Features {
		features[f.Name] = false
		for _, tier := range f.AvailableIn {
			if tier == t {
				features[f.Name] = true
				break
			}
		}
	}
	return features
}

// DefaultLimitsForTier returns the quota ceilings the catalog grants at
// tier t, with zero consumption.
func DefaultLimitsForTier(t models.LicenseType) models.UsageLimits {
	info := TierInfoFor(t)
	return models.UsageLimits{
		Users:         models.UsageLimit{Max: info.MaxUsers},
		Agents:        models.UsageLimit{Max: info.MaxAgents},
		Tasks:         models.UsageLimit{Max: info.MaxTasks},
		Conversations: models.UsageLimit{Max: info.MaxConversations},
	}
}

// FeatureEnabled evaluates a license's stored feature map against the
// catalog: an explicitly stored entry wins, an absent entry falls back to
// the catalog's entry for the license's tier.
func FeatureEnabled(l *models.License, featureName string) bool {
	if l == nil {
		return false
	}
	if v, ok := l.Features[featureName]; ok {
		return v
	}
	return IsFeatureEnabled(l.LicenseType, featureName)
}

// SearchFeatures returns features whose name or display name fuzzily
// matches the query, best matches first. An empty query returns the full
// table.
func SearchFeatures(query string) []Feature {
	if query == "" {
		return Features()
	}

	type ranked struct {
		feature Feature
		rank    int
	}

	var matches []ranked
	for _, f := range cat.Features {
		rank := fuzzy.RankMatchNormalizedFold(query, f.Name)
		if r := fuzzy.RankMatchNormalizedFold(query, f.DisplayName); r != -1 && (rank == -1 || r < rank) {
			rank = r
		}
		if rank == -1 {
			continue
		}
		matches = append(matches, ranked{feature: f, rank: rank})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].rank < matches[j].rank
	})

	out := make([]Feature, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.feature)
	}
	return out
}
