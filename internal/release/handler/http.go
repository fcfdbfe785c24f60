// Package handler exposes the client-facing release summary.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"live-game-backend/internal/httpx"
	"live-game-backend/internal/release/service"
)

type ReleaseHandler struct {
	releases *service.Service
	logger   *slog.Logger
}

func NewReleaseHandler(releases *service.Service, logger *slog.Logger) *ReleaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseHandler{releases: releases, logger: logger}
}

func (h *ReleaseHandler) Register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.Handle("GET /release/summary", authed(http.HandlerFunc(h.summary)))
}

type summaryResponse struct {
	ClientVersion                 string     `json:"client_version"`
	LatestVersion                 string     `json:"latest_version"`
	MinSupportedVersion           string     `json:"min_supported_version"`
	ClientContentVersionKey       string     `json:"client_content_version_key"`
	LatestContentVersionKey       string     `json:"latest_content_version_key"`
	MinSupportedContentVersionKey string     `json:"min_supported_content_version_key"`
	UpdateFeedURL                 string     `json:"update_feed_url,omitempty"`
	EnforceAfter                  *time.Time `json:"enforce_after,omitempty"`
	UpdateAvailable               bool       `json:"update_available"`
	ContentUpdateAvailable        bool       `json:"content_update_available"`
	ForceUpdate                   bool       `json:"force_update"`
	UserFacingNotes               string     `json:"user_facing_notes,omitempty"`
}

// summary evaluates the caller's client versions. The session's stored
// versions are the default; query parameters override for pre-login checks.
func (h *ReleaseHandler) summary(w http.ResponseWriter, r *http.Request) {
	clientVersion := r.URL.Query().Get("client_version")
	clientContentKey := r.URL.Query().Get("client_content_version_key")
	if id := httpx.IdentityFrom(r.Context()); id != nil {
		if clientVersion == "" {
			clientVersion = id.Session.ClientVersion
		}
		if clientContentKey == "" {
			clientContentKey = id.Session.ClientContentVersionKey
		}
	}
	sum, err := h.releases.Summarize(r.Context(), clientVersion, clientContentKey)
	if err != nil {
		h.logger.Error("release summary failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	d := sum.Decision
	httpx.WriteJSON(w, http.StatusOK, summaryResponse{
		ClientVersion:                 d.ClientVersion,
		LatestVersion:                 d.LatestVersion,
		MinSupportedVersion:           d.MinSupportedVersion,
		ClientContentVersionKey:       d.ClientContentVersionKey,
		LatestContentVersionKey:       d.LatestContentVersionKey,
		MinSupportedContentVersionKey: d.MinSupportedContentVersionKey,
		UpdateFeedURL:                 d.UpdateFeedURL,
		EnforceAfter:                  d.EnforceAfter,
		UpdateAvailable:               d.UpdateAvailable,
		ContentUpdateAvailable:        d.ContentUpdateAvailable,
		ForceUpdate:                   d.ForceUpdate,
		UserFacingNotes:               sum.UserFacingNotes,
	})
}
