// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Dpro-at/agent-player/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupAlreadyDone   = errors.New("setup has already been completed")
)

const SessionName = "agent-player-session"

// Service handles the single local account and its cookie sessions.
type Service struct {
	users    *models.UserStore
	sessions *sessions.CookieStore
}

func NewService(users *models.UserStore, sessionSecret string, secureCookies bool) *Service {
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	return &Service{
		users:    users,
		sessions: store,
	}
}

// IsSetupComplete reports whether the local account exists yet.
func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	return s.users.Exists(ctx)
}

// SetupUser creates the initial local account. Activation normally does
// this; SetupUser covers installations running without a license.
func (s *Service) SetupUser(ctx context.Context, username, email, password string) (*models.User, error) {
	exists, err := s.users.Exists(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check setup state")
	}
	if exists {
		return nil, ErrSetupAlreadyDone
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	user, err := s.users.Create(ctx, username, email, "", hash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}

	log.Info().Str("username", username).Msg("Initial user created")
	return user, nil
}

// Login verifies credentials against the stored account.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, errors.Wrap(err, "failed to verify password")
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// ChangePassword verifies the current password before replacing it.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	user, err := s.users.Get(ctx)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return errors.Wrap(err, "failed to verify password")
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}

	return s.users.UpdatePassword(ctx, hash)
}

// CreateSession marks the request's session as authenticated.
func (s *Service) CreateSession(w http.ResponseWriter, r *http.Request, user *models.User) error {
	session, err := s.sessions.Get(r, SessionName)
	if err != nil {
		// A stale or tampered cookie decodes to an error but still yields
		// a fresh session, which is what we want here.
		log.Debug().Err(err).Msg("Starting fresh session over undecodable cookie")
	}

	session.Values["authenticated"] = true
	session.Values["username"] = user.Username

	return session.Save(r, w)
}

// DestroySession expires the session cookie.
func (s *Service) DestroySession(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.sessions.Get(r, SessionName)
	session.Values = map[interface{}]interface{}{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// IsAuthenticated reports whether the request carries a valid session.
func (s *Service) IsAuthenticated(r *http.Request) bool {
	session, err := s.sessions.Get(r, SessionName)
	if err != nil {
		return false
	}
	authenticated, ok := session.Values["authenticated"].(bool)
	return ok && authenticated
}

// SessionUsername returns the username stored in the session, if any.
func (s *Service) SessionUsername(r *http.Request) string {
	session, err := s.sessions.Get(r, SessionName)
	if err != nil {
		return ""
	}
	username, _ := session.Values["username"].(string)
	return username
}
