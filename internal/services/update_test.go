// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Dpro-at/agent-player/internal/authority"
)

func versionServer(t *testing.T, minimum, latest string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"minimum_version":"` + minimum + `","latest_version":"` + latest + `"}`))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestUpdateServiceCheck(t *testing.T) {
	tests := []struct {
		name            string
		version         string
		minimum         string
		latest          string
		supported       bool
		updateAvailable bool
	}{
		{
			name:            "current release",
			version:         "1.4.2",
			minimum:         "1.0.0",
			latest:          "1.4.2",
			supported:       true,
			updateAvailable: false,
		},
		{
			name:            "older but supported",
			version:         "1.2.0",
			minimum:         "1.0.0",
			latest:          "1.4.2",
			supported:       true,
			updateAvailable: true,
		},
		{
			name:            "below minimum",
			version:         "0.9.0",
			minimum:         "1.0.0",
			latest:          "1.4.2",
			supported:       false,
			updateAvailable: true,
		},
		{
			name:            "ahead of latest",
			version:         "2.0.0",
			minimum:         "1.0.0",
			latest:          "1.4.2",
			supported:       true,
			updateAvailable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := versionServer(t, tt.minimum, tt.latest)
			svc := NewUpdateService(authority.NewClient(server.URL), tt.version)

			status := svc.Check(context.Background())

			assert.Equal(t, tt.supported, status.Supported)
			assert.Equal(t, tt.updateAvailable, status.UpdateAvailable)
			assert.Equal(t, tt.minimum, status.MinimumVersion)
			assert.Equal(t, tt.latest, status.LatestVersion)
		})
	}
}

func TestUpdateServiceSkipsDevBuilds(t *testing.T) {
	server := versionServer(t, "1.0.0", "1.4.2")
	svc := NewUpdateService(authority.NewClient(server.URL), "dev")

	status := svc.Check(context.Background())

	assert.True(t, status.Supported)
	assert.False(t, status.UpdateAvailable)
	assert.Empty(t, status.MinimumVersion)
}

func TestUpdateServiceToleratesUnreachableAuthority(t *testing.T) {
	svc := NewUpdateService(authority.NewClient("http://127.0.0.1:1"), "1.4.2")

	status := svc.Check(context.Background())

	assert.True(t, status.Supported)
	assert.False(t, status.UpdateAvailable)
}
