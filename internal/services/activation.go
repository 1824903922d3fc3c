// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/authority"
	"github.com/Dpro-at/agent-player/internal/license"
	"github.com/Dpro-at/agent-player/internal/models"
)

// WorkflowState tracks the two-phase activation sequence.
type WorkflowState string

const (
	StateIdle             WorkflowState = "idle"
	StateRequesting       WorkflowState = "requesting"
	StateRequested        WorkflowState = "requested"
	StateRequestFailed    WorkflowState = "request_failed"
	StateActivating       WorkflowState = "activating"
	StateActivated        WorkflowState = "activated"
	StateActivationFailed WorkflowState = "activation_failed"
)

const (
	genericRequestFailure    = "License request failed. Please try again."
	genericActivationFailure = "Activation failed. Please try again."
)

// ErrSubmissionInFlight rejects a submit while the previous round trip is
// still outstanding. One workflow instance serves the session; there are
// no concurrent writers.
var ErrSubmissionInFlight = errors.New("a submission is already in progress")

// ActivationWorkflow drives the two-phase request-then-activate sequence:
// phase 1 obtains a license key from the issuing authority, phase 2 binds
// that key to this installation's fingerprint and registers the account.
// In-progress form state survives failures so nothing is lost on retry.
type ActivationWorkflow struct {
	authority   *authority.Client
	licenses    *LicenseService
	credentials *models.CredentialStore
	users       *models.UserStore
	hashFunc    func(password string) (string, error)

	mu           sync.Mutex
	state        WorkflowState
	loading      bool
	errorMessage string
	activation   models.LicenseActivation
	registration models.RegistrationData
}

// WorkflowStatus is the snapshot handed to the UI: where the workflow is,
// whether a call is outstanding, and the pre-filled activation form.
type WorkflowStatus struct {
	State        WorkflowState            `json:"state"`
	Loading      bool                     `json:"loading"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	Activation   models.LicenseActivation `json:"activation"`
}

func NewActivationWorkflow(
	authorityClient *authority.Client,
	licenses *LicenseService,
	credentials *models.CredentialStore,
	users *models.UserStore,
	hashFunc func(password string) (string, error),
) *ActivationWorkflow {
	return &ActivationWorkflow{
		authority:   authorityClient,
		licenses:    licenses,
		credentials: credentials,
		users:       users,
		hashFunc:    hashFunc,
		state:       StateIdle,
	}
}

// Status returns the current workflow snapshot. The fingerprint is never
// part of held form state; it is generated at submission time.
func (w *ActivationWorkflow) Status() WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WorkflowStatus{
		State:        w.state,
		Loading:      w.loading,
		ErrorMessage: w.errorMessage,
		Activation:   w.activation,
	}
}

// SubmitLicenseRequest runs phase 1: validate, submit to the authority,
// and on success pre-fill the activation form from the submitted data and
// advance to phase 2. Validation failures block submission before any
// network call.
func (w *ActivationWorkflow) SubmitLicenseRequest(ctx context.Context, request *models.OnlineLicenseRequest) (*authority.LicenseRequestResponse, error) {
	if err := license.ValidateLicenseRequest(request); err != nil {
		return nil, err
	}

	if err := w.begin(StateRequesting); err != nil {
		return nil, err
	}

	result, err := w.authority.RequestLicense(ctx, request)
	if err != nil {
		w.finish(StateRequestFailed, userMessage(err, genericRequestFailure))
		return nil, err
	}

	if !result.Success {
		message := result.ErrorMessage
		if message == "" {
			message = genericRequestFailure
		}
		w.finish(StateRequestFailed, message)
		return result, &authority.Error{Detail: message}
	}

	// Advance to phase 2 with the activation form pre-filled from the
	// just-submitted request.
	w.mu.Lock()
	w.activation = models.LicenseActivation{
		LicenseKey:  result.LicenseKey,
		OwnerName:   request.Name,
		OwnerEmail:  request.Email,
		CompanyName: request.CompanyName,
	}
	w.state = StateRequested
	w.loading = false
	w.errorMessage = ""
	w.mu.Unlock()

	log.Info().
		Str("licenseKey", license.MaskKey(result.LicenseKey)).
		Msg("License request granted, advancing to activation")

	return result, nil
}

// SubmitActivation runs phase 2: validate, attach a freshly generated
// hardware fingerprint, submit activation + registration in one call,
// persist the returned token and user, and refresh the current license.
// On failure all entered data stays intact for resubmission.
func (w *ActivationWorkflow) SubmitActivation(ctx context.Context, registration *models.RegistrationData, activation *models.LicenseActivation) error {
	if err := license.ValidateActivation(activation, registration); err != nil {
		return err
	}

	if err := w.begin(StateActivating); err != nil {
		return err
	}

	w.mu.Lock()
	w.activation = *activation
	w.registration = *registration
	w.mu.Unlock()

	// Fingerprint is computed fresh and attached just before submission,
	// never held as persistent form state.
	activation.HardwareFingerprint = license.GenerateFingerprint()

	result, err := w.authority.Register(ctx, registration, activation)
	if err != nil {
		w.finish(StateActivationFailed, userMessage(err, genericActivationFailure))
		return err
	}

	if err := w.persistCredentials(ctx, registration, result); err != nil {
		// The authority accepted the activation; losing the local copy of
		// the token is still a failed activation from the user's side.
		w.finish(StateActivationFailed, genericActivationFailure)
		return err
	}

	w.finish(StateActivated, "")

	// The access token is authoritative: registration succeeded. A failed
	// refresh is retried on the next license read, never rolled back.
	if err := w.licenses.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("License refresh after activation failed, will retry on next read")
	}

	log.Info().
		Str("licenseKey", license.MaskKey(activation.LicenseKey)).
		Str("username", registration.Username).
		Msg("Activation completed")

	return nil
}

// persistCredentials writes the access token and user record to durable
// storage and mirrors the account locally so the user can log in.
func (w *ActivationWorkflow) persistCredentials(ctx context.Context, registration *models.RegistrationData, result *authority.RegisterResponse) error {
	if err := w.credentials.Set(ctx, models.CredentialAccessToken, result.AccessToken); err != nil {
		return errors.Wrap(err, "failed to store access token")
	}

	if result.User != nil {
		encoded, err := json.Marshal(result.User)
		if err != nil {
			return errors.Wrap(err, "failed to encode user record")
		}
		if err := w.credentials.Set(ctx, models.CredentialUser, string(encoded)); err != nil {
			return errors.Wrap(err, "failed to store user record")
		}
	}

	passwordHash, err := w.hashFunc(registration.Password)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}

	_, err = w.users.Create(ctx, registration.Username, registration.Email, registration.FullName, passwordHash)
	if err != nil && !errors.Is(err, models.ErrUserAlreadyExists) {
		return errors.Wrap(err, "failed to create local account")
	}

	return nil
}

// begin gates submission: exactly one round trip may be outstanding.
func (w *ActivationWorkflow) begin(state WorkflowState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.loading {
		return ErrSubmissionInFlight
	}

	w.loading = true
	w.state = state
	w.errorMessage = ""
	return nil
}

// finish records the outcome. No error path may leave loading stuck true.
func (w *ActivationWorkflow) finish(state WorkflowState, errorMessage string) {
	w.mu.Lock()
	w.state = state
	w.loading = false
	w.errorMessage = errorMessage
	w.mu.Unlock()
}

// userMessage picks the message shown to the user: the authority's detail
// verbatim when the request was structurally rejected, otherwise the
// generic fallback for transport failures.
func userMessage(err error, fallback string) string {
	var authorityErr *authority.Error
	if errors.As(err, &authorityErr) && authorityErr.Detail != "" {
		return authorityErr.Detail
	}
	return fallback
}
