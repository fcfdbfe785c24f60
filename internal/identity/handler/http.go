// Package handler exposes login, refresh, and logout over HTTP.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"live-game-backend/internal/httpx"
	"live-game-backend/internal/identity/service"
)

type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// Register mounts the auth routes. authed wraps handlers that require a
// bearer token.
func (h *AuthHandler) Register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.Handle("POST /auth/logout", authed(http.HandlerFunc(h.logout)))
}

type loginRequest struct {
	Email                   string `json:"email"`
	Password                string `json:"password"`
	ClientVersion           string `json:"client_version"`
	ClientContentVersionKey string `json:"client_content_version_key"`
}

type userPayload struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

type loginResponse struct {
	SessionID       string      `json:"session_id"`
	AccessToken     string      `json:"access_token"`
	AccessExpiresAt time.Time   `json:"access_expires_at"`
	RefreshToken    string      `json:"refresh_token"`
	User            userPayload `json:"user"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "email and password are required")
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:                   req.Email,
		Password:                req.Password,
		ClientVersion:           req.ClientVersion,
		ClientContentVersionKey: req.ClientContentVersionKey,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		h.logger.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		SessionID:       res.SessionID,
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		RefreshToken:    res.RefreshToken,
		User: userPayload{
			ID:          res.User.ID,
			Email:       res.User.Email,
			DisplayName: res.User.DisplayName,
			IsAdmin:     res.User.IsAdmin,
		},
	})
}

type refreshRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.SessionID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefresh) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh", "invalid refresh token")
			return
		}
		h.logger.Error("refresh failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		RefreshToken:    res.RefreshToken,
	})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	id := httpx.IdentityFrom(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "")
		return
	}
	if err := h.auth.Logout(r.Context(), id.Session.ID); err != nil {
		h.logger.Error("logout failed", "error", err, "session_id", id.Session.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
