// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package authority is the HTTP client for the central license issuing
// authority. It mirrors the authority's wire shapes and turns its error
// payloads into typed values; it holds no state beyond the endpoint.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/license"
	"github.com/Dpro-at/agent-player/internal/models"
)

const requestTimeout = 30 * time.Second

const notConfiguredMsg = "license authority URL not configured"

// Client talks to the issuing authority.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Error is a structured rejection from the authority: the request reached
// it and was refused. Detail carries the authority's human-readable
// message when one was present.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("authority returned status %d", e.StatusCode)
}

// LicenseRequestResponse is the authority's answer to an online license
// request.
type LicenseRequestResponse struct {
	Success          bool               `json:"success"`
	LicenseKey       string             `json:"license_key,omitempty"`
	LicenseType      models.LicenseType `json:"license_type"`
	MaxUsers         int                `json:"max_users"`
	MaxAgents        int                `json:"max_agents"`
	MaxTasks         int                `json:"max_tasks"`
	MaxConversations int                `json:"max_conversations"`
	Features         map[string]bool    `json:"features"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
}

// RegisteredUser is the account record returned by registration.
type RegisteredUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// RegisterResponse is returned on successful activation + registration.
type RegisterResponse struct {
	AccessToken string          `json:"access_token"`
	User        *RegisteredUser `json:"user"`
}

// ClientVersionInfo advertises the version range the authority supports.
type ClientVersionInfo struct {
	MinimumVersion string `json:"minimum_version"`
	LatestVersion  string `json:"latest_version"`
}

type registerRequest struct {
	Registration models.RegistrationData  `json:"registration"`
	Activation   models.LicenseActivation `json:"activation"`
}

// errorPayload covers both error shapes the authority emits.
type errorPayload struct {
	Detail       string `json:"detail,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (p errorPayload) message() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.ErrorMessage
}

// NewClient creates a client for the given authority base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// SetBaseURL replaces the authority endpoint.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
}

// IsConfigured reports whether the client has an endpoint to talk to.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// ValidateConfiguration checks the client configuration without making a
// network call.
func (c *Client) ValidateConfiguration(ctx context.Context) error {
	if !c.IsConfigured() {
		return errors.New(notConfiguredMsg)
	}
	return nil
}

// CurrentLicense fetches the license bound to this installation. A nil
// license with a nil error is the normal unlicensed state; an error is
// returned only on transport or auth failure.
func (c *Client) CurrentLicense(ctx context.Context) (*models.License, error) {
	if !c.IsConfigured() {
		return nil, errors.New(notConfiguredMsg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/licenses/current", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach license authority")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var current models.License
	if err := json.NewDecoder(resp.Body).Decode(&current); err != nil {
		return nil, errors.Wrap(err, "failed to decode license")
	}
	if current.LicenseKey == "" {
		return nil, nil
	}

	return &current, nil
}

// RequestLicense submits an online license request. A response with
// Success=false carries the authority's ErrorMessage and a nil error.
func (c *Client) RequestLicense(ctx context.Context, request *models.OnlineLicenseRequest) (*LicenseRequestResponse, error) {
	if !c.IsConfigured() {
		return nil, errors.New(notConfiguredMsg)
	}

	log.Debug().
		Str("licenseType", string(request.LicenseType)).
		Int("requestedUsers", request.RequestedUsers).
		Int("requestedAgents", request.RequestedAgents).
		Msg("Requesting license from authority")

	var result LicenseRequestResponse
	if err := c.postJSON(ctx, "/v1/licenses/request", request, &result); err != nil {
		return nil, err
	}

	if result.Success {
		log.Info().
			Str("licenseKey", license.MaskKey(result.LicenseKey)).
			Str("licenseType", string(result.LicenseType)).
			Msg("License granted by authority")
	}

	return &result, nil
}

// Register submits the combined activation request and registration data
// in one call, binding the key to the fingerprint and creating the
// account.
func (c *Client) Register(ctx context.Context, registration *models.RegistrationData, activation *models.LicenseActivation) (*RegisterResponse, error) {
	if !c.IsConfigured() {
		return nil, errors.New(notConfiguredMsg)
	}

	log.Debug().
		Str("licenseKey", license.MaskKey(activation.LicenseKey)).
		Str("fingerprint", license.MaskKey(activation.HardwareFingerprint)).
		Msg("Activating license with authority")

	var result RegisterResponse
	if err := c.postJSON(ctx, "/v1/auth/register", registerRequest{
		Registration: *registration,
		Activation:   *activation,
	}, &result); err != nil {
		return nil, err
	}

	if result.AccessToken == "" {
		return nil, &Error{StatusCode: http.StatusOK, Detail: "authority returned no access token"}
	}

	log.Info().
		Str("licenseKey", license.MaskKey(activation.LicenseKey)).
		Msg("License activated and account registered")

	return &result, nil
}

// ClientVersion fetches the version range the authority supports.
func (c *Client) ClientVersion(ctx context.Context) (*ClientVersionInfo, error) {
	if !c.IsConfigured() {
		return nil, errors.New(notConfiguredMsg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/meta/client-version", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach license authority")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var info ClientVersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "failed to decode version info")
	}

	return &info, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to reach license authority")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.readError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	return nil
}

// readError drains a non-2xx response into a typed Error, keeping the
// authority's detail verbatim when the payload has one.
func (c *Client) readError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &Error{StatusCode: resp.StatusCode}
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return &Error{StatusCode: resp.StatusCode}
	}

	return &Error{StatusCode: resp.StatusCode, Detail: payload.message()}
}
