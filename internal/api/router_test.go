// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dpro-at/agent-player/internal/auth"
	"github.com/Dpro-at/agent-player/internal/authority"
	"github.com/Dpro-at/agent-player/internal/config"
	"github.com/Dpro-at/agent-player/internal/database"
	"github.com/Dpro-at/agent-player/internal/models"
	"github.com/Dpro-at/agent-player/internal/services"
)

type testEnv struct {
	router http.Handler
}

func setupRouter(t *testing.T, authorityHandler http.Handler) *testEnv {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`sessionSecret = "test-session-secret"`), 0644))

	cfg, err := config.New(configPath)
	require.NoError(t, err)

	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authorityURL := ""
	if authorityHandler != nil {
		server := httptest.NewServer(authorityHandler)
		t.Cleanup(server.Close)
		authorityURL = server.URL
	}
	client := authority.NewClient(authorityURL)

	userStore := models.NewUserStore(db.Conn())
	licenseStore := models.NewLicenseStore(db.Conn())
	credentialStore, err := models.NewCredentialStore(db.Conn(), cfg.GetEncryptionKey())
	require.NoError(t, err)

	authService := auth.NewService(userStore, cfg.Config.SessionSecret, false)

	licenseService, err := services.NewLicenseService(licenseStore, client)
	require.NoError(t, err)

	workflow := services.NewActivationWorkflow(client, licenseService, credentialStore, userStore, auth.HashPassword)

	router := NewRouter(&Dependencies{
		Config:         cfg,
		AuthService:    authService,
		LicenseService: licenseService,
		Workflow:       workflow,
		UpdateService:  services.NewUpdateService(client, "1.0.0"),
	})

	return &testEnv{router: router}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) setupAndLogin(t *testing.T) []*http.Cookie {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/auth/setup",
		`{"username":"testuser","email":"user@example.com","password":"supersecret"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return w.Result().Cookies()
}

func TestHealthEndpoint(t *testing.T) {
	env := setupRouter(t, nil)

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSetupGate(t *testing.T) {
	env := setupRouter(t, nil)

	t.Run("protected routes blocked before setup", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/version", "", nil)
		assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	})

	t.Run("catalog reachable before setup", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/catalog", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var catalog struct {
			Tiers    []json.RawMessage `json:"tiers"`
			Features []json.RawMessage `json:"features"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &catalog))
		assert.Len(t, catalog.Tiers, 4)
		assert.NotEmpty(t, catalog.Features)
	})

	t.Run("workflow status reachable before setup", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/workflow", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"state":"idle"`)
	})

	t.Run("check-setup reports required", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/check-setup", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"setupRequired":true`)
	})
}

func TestAuthFlow(t *testing.T) {
	env := setupRouter(t, nil)
	cookies := env.setupAndLogin(t)

	t.Run("session grants access", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "testuser")
	})

	t.Run("no session is rejected", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("login with wrong password fails", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login",
			`{"username":"testuser","password":"wrong"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("login issues a session", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login",
			`{"username":"testuser","password":"supersecret"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Result().Cookies())
	})

	t.Run("logout expires the session", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/logout", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLicenseEndpoints(t *testing.T) {
	env := setupRouter(t, nil)
	cookies := env.setupAndLogin(t)

	t.Run("unlicensed installation", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"licensed":false`)
	})

	t.Run("usage falls back to free tier", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/usage", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)

		var usage struct {
			Users struct {
				Max      int  `json:"max"`
				CanAdmit bool `json:"canAdmit"`
			} `json:"users"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
		assert.Equal(t, 1, usage.Users.Max)
		assert.True(t, usage.Users.CanAdmit)
	})

	t.Run("feature search", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/features?q=sso", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Single Sign-On")
	})

	t.Run("feature check on unlicensed installation", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/license/features/local_models", "", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"enabled":false`)
	})

	t.Run("invalid license request body", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/license/request",
			`{"name":"Test","email":"not-an-email"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLicenseRequestThroughRouter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/licenses/request", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"license_key":"ABCD-1234-EFGH-5678-IJKL","license_type":"personal"}`))
	})

	env := setupRouter(t, mux)

	w := env.do(t, http.MethodPost, "/api/license/request",
		`{"name":"Test User","email":"user@example.com","license_type":"personal"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Contains(t, w.Body.String(), `"state":"requested"`)
	assert.Contains(t, w.Body.String(), "ABCD-1234-EFGH-5678-IJKL")
}

func TestLicenseRequestRefusalThroughRouter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/licenses/request", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error_message":"email already has a license"}`))
	})

	env := setupRouter(t, mux)

	w := env.do(t, http.MethodPost, "/api/license/request",
		`{"name":"Test User","email":"user@example.com","license_type":"personal"}`, nil)

	// The authority reached a verdict on the submission; that is not a
	// gateway failure.
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "email already has a license")
}

func TestActivationRejectionThroughRouter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"license key is already bound to another installation"}`))
	})

	env := setupRouter(t, mux)

	body := `{"registration":{"username":"testuser","email":"user@example.com","password":"supersecret"},` +
		`"activation":{"license_key":"ABCD-1234-EFGH-5678-IJKL","owner_name":"Test User","owner_email":"user@example.com"}}`
	w := env.do(t, http.MethodPost, "/api/license/activate", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "already bound")
}
