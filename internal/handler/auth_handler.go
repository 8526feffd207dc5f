package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"go-wiki-collab/internal/auth"
	"go-wiki-collab/internal/logger"
	"go-wiki-collab/internal/middleware"
	"go-wiki-collab/internal/session"

	"github.com/casbin/casbin/v2"
)

// AuthHandler manages the OIDC login flow and the session lifecycle.
type AuthHandler struct {
	auth     *auth.Authenticator
	sessions session.Manager
	enforcer casbin.IEnforcer
	log      logger.Logger
}

func NewAuthHandler(a *auth.Authenticator, sm session.Manager, e casbin.IEnforcer, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: a, sessions: sm, enforcer: e, log: log}
}

// Login redirects the user to the identity provider with a fresh CSRF state.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	state, err := randomState()
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to start login", Code: http.StatusInternalServerError}
	}
	h.sessions.Put(r.Context(), "oauth_state", state)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
	return nil
}

// Callback completes the OIDC code exchange, stores the user's identity in
// the session, and grants the editor role on first login.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	expected := h.sessions.PopString(r.Context(), "oauth_state")
	if expected == "" || r.URL.Query().Get("state") != expected {
		return &middleware.AppError{
			Error:   errors.New("oauth state mismatch"),
			Message: "Invalid login state",
			Code:    http.StatusBadRequest,
		}
	}

	token, err := h.auth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to exchange authorization code", Code: http.StatusUnauthorized}
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return &middleware.AppError{
			Error:   errors.New("no id_token in token response"),
			Message: "Login failed",
			Code:    http.StatusUnauthorized,
		}
	}
	idToken, err := h.auth.Verify(r.Context(), rawIDToken)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to verify identity token", Code: http.StatusUnauthorized}
	}

	var claims struct {
		Sub               string `json:"sub"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to read identity claims", Code: http.StatusUnauthorized}
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.PreferredUsername
	}
	if displayName == "" {
		displayName = claims.Email
	}

	h.sessions.Put(r.Context(), "user_subject", claims.Sub)
	h.sessions.Put(r.Context(), "user_name", displayName)

	// First login: everyone starts as an editor. Moderator is assigned
	// out of band.
	roles, err := h.enforcer.GetRolesForUser(claims.Sub)
	if err == nil && len(roles) == 0 {
		if _, err := h.enforcer.AddRoleForUser(claims.Sub, "editor"); err != nil {
			h.log.Error(err, "Failed to grant editor role on first login")
		}
	}

	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

// Logout destroys the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to log out", Code: http.StatusInternalServerError}
	}
	http.Redirect(w, r, "/", http.StatusFound)
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
