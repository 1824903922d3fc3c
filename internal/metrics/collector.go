// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/license"
	"github.com/Dpro-at/agent-player/internal/models"
	"github.com/Dpro-at/agent-player/internal/services"
)

// LicenseCollector derives all values at scrape time from the current
// license; nothing is pre-aggregated.
type LicenseCollector struct {
	licenseService *services.LicenseService

	licenseActiveDesc   *prometheus.Desc
	licenseExpiredDesc  *prometheus.Desc
	daysUntilExpiryDesc *prometheus.Desc
	usageCurrentDesc    *prometheus.Desc
	usageMaxDesc        *prometheus.Desc
	usagePercentDesc    *prometheus.Desc
	scrapeErrorsDesc    *prometheus.Desc
}

func NewLicenseCollector(licenseService *services.LicenseService) *LicenseCollector {
	return &LicenseCollector{
		licenseService: licenseService,

		licenseActiveDesc: prometheus.NewDesc(
			"agent_player_license_active",
			"Whether the current license grants full functionality (1=active, 0=inactive)",
			[]string{"license_type", "status"},
			nil,
		),
		licenseExpiredDesc: prometheus.NewDesc(
			"agent_player_license_expired",
			"Whether the current license has passed its expiry (1=expired, 0=not expired)",
			[]string{"license_type", "status"},
			nil,
		),
		daysUntilExpiryDesc: prometheus.NewDesc(
			"agent_player_license_days_until_expiry",
			"Days until the current license expires, absent for unbounded licenses",
			[]string{"license_type"},
			nil,
		),
		usageCurrentDesc: prometheus.NewDesc(
			"agent_player_license_usage_current",
			"Current consumption of a licensed resource",
			[]string{"resource"},
			nil,
		),
		usageMaxDesc: prometheus.NewDesc(
			"agent_player_license_usage_max",
			"Quota ceiling of a licensed resource",
			[]string{"resource"},
			nil,
		),
		usagePercentDesc: prometheus.NewDesc(
			"agent_player_license_usage_percent",
			"Quota consumption of a licensed resource as a percentage",
			[]string{"resource"},
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"agent_player_license_scrape_errors_total",
			"Total number of license scrape errors",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licenseActiveDesc
	ch <- c.licenseExpiredDesc
	ch <- c.daysUntilExpiryDesc
	ch <- c.usageCurrentDesc
	ch <- c.usageMaxDesc
	ch <- c.usagePercentDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := c.licenseService.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get current license for metrics")
		ch <- prometheus.MustNewConstMetric(
			c.scrapeErrorsDesc,
			prometheus.CounterValue,
			1,
			"current_license",
		)
		return
	}

	if current == nil {
		// Unlicensed installations report free tier quotas with nothing
		// consumed, matching how admission decisions treat them.
		c.collectUsage(ch, license.DefaultLimitsForTier(models.LicenseTypeFree))
		return
	}

	validity := license.DeriveValidity(current, time.Now())

	licenseType := string(current.LicenseType)
	status := string(current.Status)

	ch <- prometheus.MustNewConstMetric(
		c.licenseActiveDesc,
		prometheus.GaugeValue,
		boolValue(validity.IsActive),
		licenseType,
		status,
	)
	ch <- prometheus.MustNewConstMetric(
		c.licenseExpiredDesc,
		prometheus.GaugeValue,
		boolValue(validity.IsExpired),
		licenseType,
		status,
	)

	if validity.DaysUntilExpiry != nil {
		ch <- prometheus.MustNewConstMetric(
			c.daysUntilExpiryDesc,
			prometheus.GaugeValue,
			float64(*validity.DaysUntilExpiry),
			licenseType,
		)
	}

	c.collectUsage(ch, current.Limits)
}

func (c *LicenseCollector) collectUsage(ch chan<- prometheus.Metric, limits models.UsageLimits) {
	resources := map[string]models.UsageLimit{
		"users":         limits.Users,
		"agents":        limits.Agents,
		"tasks":         limits.Tasks,
		"conversations": limits.Conversations,
	}

	for name, limit := range resources {
		ch <- prometheus.MustNewConstMetric(
			c.usageCurrentDesc,
			prometheus.GaugeValue,
			float64(limit.Current),
			name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.usageMaxDesc,
			prometheus.GaugeValue,
			float64(limit.Max),
			name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.usagePercentDesc,
			prometheus.GaugeValue,
			license.UsagePercentage(limit.Current, limit.Max),
			name,
		)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
