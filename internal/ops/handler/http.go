// Package handler exposes the operator surface: release activation, drain
// history, per-session audits, and aggregate drain metrics. Every route is
// guarded by the ops API token.
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	draindomain "live-game-backend/internal/drain/domain"
	drainrepo "live-game-backend/internal/drain/repository"
	drainsvc "live-game-backend/internal/drain/service"
	"live-game-backend/internal/httpx"
	releasedomain "live-game-backend/internal/release/domain"
	releasesvc "live-game-backend/internal/release/service"
)

// DrainStore is the read surface the ops endpoints need.
type DrainStore interface {
	GetEvent(ctx context.Context, id int64) (*draindomain.Event, error)
	ListRecent(ctx context.Context, limit int) ([]*draindomain.Event, error)
	ListAuditsByEvent(ctx context.Context, eventID int64) ([]*draindomain.SessionAudit, error)
	AggregateMetrics(ctx context.Context) (*drainrepo.Metrics, error)
}

type OpsHandler struct {
	token    string
	releases *releasesvc.Service
	drains   DrainStore
	logger   *slog.Logger
}

func NewOpsHandler(token string, releases *releasesvc.Service, drains DrainStore, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{token: token, releases: releases, drains: drains, logger: logger}
}

func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /ops/release/activate", h.guard(h.activate))
	mux.Handle("GET /ops/release/status", h.guard(h.status))
	mux.Handle("GET /ops/drains", h.guard(h.listDrains))
	mux.Handle("GET /ops/drains/{id}/sessions", h.guard(h.listAudits))
	mux.Handle("GET /ops/metrics/drain", h.guard(h.metrics))
}

// guard rejects requests without the ops token. Constant-time compare so the
// token cannot be probed byte by byte.
func (h *OpsHandler) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Ops-Token")
		if h.token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) != 1 {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_ops_token", "")
			return
		}
		next(w, r)
	})
}

type activateRequest struct {
	BuildVersion                  string     `json:"build_version"`
	MinSupportedVersion           string     `json:"min_supported_version"`
	ContentVersionKey             string     `json:"content_version_key"`
	MinSupportedContentVersionKey string     `json:"min_supported_content_version_key"`
	UpdateFeedURL                 string     `json:"update_feed_url"`
	BuildReleaseNotes             string     `json:"build_release_notes"`
	UserFacingNotes               string     `json:"user_facing_notes"`
	ActivatedBy                   string     `json:"activated_by"`
	EnforceAfter                  *time.Time `json:"enforce_after"`
	GraceMinutes                  *int       `json:"grace_minutes"`
	Notes                         string     `json:"notes"`
}

type eventPayload struct {
	ID                    int64      `json:"id"`
	TriggerType           string     `json:"trigger_type"`
	ReasonCode            string     `json:"reason_code"`
	InitiatedBy           string     `json:"initiated_by"`
	ContentVersionKey     string     `json:"content_version_key"`
	BuildVersion          *string    `json:"build_version,omitempty"`
	GraceSeconds          int        `json:"grace_seconds"`
	StartedAt             time.Time  `json:"started_at"`
	DeadlineAt            time.Time  `json:"deadline_at"`
	CutoffAt              *time.Time `json:"cutoff_at,omitempty"`
	Status                string     `json:"status"`
	Notes                 string     `json:"notes,omitempty"`
	SessionsTargeted      int        `json:"sessions_targeted"`
	SessionsPersisted     int        `json:"sessions_persisted"`
	SessionsPersistFailed int        `json:"sessions_persist_failed"`
	SessionsRevoked       int        `json:"sessions_revoked"`
}

func toEventPayload(e *draindomain.Event) eventPayload {
	return eventPayload{
		ID:                    e.ID,
		TriggerType:           e.TriggerType,
		ReasonCode:            e.ReasonCode,
		InitiatedBy:           e.InitiatedBy,
		ContentVersionKey:     e.ContentVersionKey,
		BuildVersion:          e.BuildVersion,
		GraceSeconds:          e.GraceSeconds,
		StartedAt:             e.StartedAt,
		DeadlineAt:            e.DeadlineAt,
		CutoffAt:              e.CutoffAt,
		Status:                e.Status,
		Notes:                 e.Notes,
		SessionsTargeted:      e.SessionsTargeted,
		SessionsPersisted:     e.SessionsPersisted,
		SessionsPersistFailed: e.SessionsPersistFailed,
		SessionsRevoked:       e.SessionsRevoked,
	}
}

type activateResponse struct {
	Policy *policyPayload `json:"policy"`
	Record *recordPayload `json:"record"`
	Event  *eventPayload  `json:"drain_event,omitempty"`
}

type policyPayload struct {
	LatestVersion                 string     `json:"latest_version"`
	MinSupportedVersion           string     `json:"min_supported_version"`
	LatestContentVersionKey       string     `json:"latest_content_version_key"`
	MinSupportedContentVersionKey string     `json:"min_supported_content_version_key"`
	EnforceAfter                  *time.Time `json:"enforce_after,omitempty"`
	UpdateFeedURL                 string     `json:"update_feed_url,omitempty"`
	UpdatedBy                     string     `json:"updated_by"`
	UpdatedAt                     time.Time  `json:"updated_at"`
}

type recordPayload struct {
	ID                int64     `json:"id"`
	BuildVersion      string    `json:"build_version"`
	ContentVersionKey string    `json:"content_version_key"`
	ActivatedBy       string    `json:"activated_by"`
	ActivatedAt       time.Time `json:"activated_at"`
}

func toPolicyPayload(p *releasedomain.ReleasePolicy) *policyPayload {
	if p == nil {
		return nil
	}
	return &policyPayload{
		LatestVersion:                 p.LatestVersion,
		MinSupportedVersion:           p.MinSupportedVersion,
		LatestContentVersionKey:       p.LatestContentVersionKey,
		MinSupportedContentVersionKey: p.MinSupportedContentVersionKey,
		EnforceAfter:                  p.EnforceAfter,
		UpdateFeedURL:                 p.UpdateFeedURL,
		UpdatedBy:                     p.UpdatedBy,
		UpdatedAt:                     p.UpdatedAt,
	}
}

func toRecordPayload(rec *releasedomain.ReleaseRecord) *recordPayload {
	if rec == nil {
		return nil
	}
	return &recordPayload{
		ID:                rec.ID,
		BuildVersion:      rec.BuildVersion,
		ContentVersionKey: rec.ContentVersionKey,
		ActivatedBy:       rec.ActivatedBy,
		ActivatedAt:       rec.ActivatedAt,
	}
}

func (h *OpsHandler) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.BuildVersion == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "build_version is required")
		return
	}
	res, err := h.releases.Activate(r.Context(), releasesvc.ActivateInput{
		BuildVersion:                  req.BuildVersion,
		MinSupportedVersion:           req.MinSupportedVersion,
		ContentVersionKey:             req.ContentVersionKey,
		MinSupportedContentVersionKey: req.MinSupportedContentVersionKey,
		UpdateFeedURL:                 req.UpdateFeedURL,
		BuildReleaseNotes:             req.BuildReleaseNotes,
		UserFacingNotes:               req.UserFacingNotes,
		ActivatedBy:                   req.ActivatedBy,
		EnforceAfter:                  req.EnforceAfter,
		GraceMinutes:                  req.GraceMinutes,
		Notes:                         req.Notes,
	})
	if err != nil {
		if errors.Is(err, drainsvc.ErrDrainConflict) {
			httpx.WriteError(w, http.StatusConflict, "drain_conflict", "another publish drain is already in progress")
			return
		}
		h.logger.Error("release activation failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	out := activateResponse{
		Policy: toPolicyPayload(res.Policy),
		Record: toRecordPayload(res.Record),
	}
	if res.Event != nil {
		ev := toEventPayload(res.Event)
		out.Event = &ev
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *OpsHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.releases.Status(r.Context())
	if err != nil {
		h.logger.Error("release status failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, activateResponse{
		Policy: toPolicyPayload(st.Policy),
		Record: toRecordPayload(st.LatestRecord),
	})
}

func (h *OpsHandler) listDrains(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = n
	}
	events, err := h.drains.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list drains failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	out := make([]eventPayload, 0, len(events))
	for _, e := range events {
		out = append(out, toEventPayload(e))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"drains": out})
}

type auditPayload struct {
	SessionID   string    `json:"session_id"`
	UserID      int64     `json:"user_id"`
	PersistedOK bool      `json:"persisted_ok"`
	DespawnedOK bool      `json:"despawned_ok"`
	RevokedOK   bool      `json:"revoked_ok"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *OpsHandler) listAudits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_id", "drain id must be an integer")
		return
	}
	event, err := h.drains.GetEvent(r.Context(), id)
	if err != nil {
		h.logger.Error("load drain failed", "error", err, "event_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	if event == nil {
		httpx.WriteError(w, http.StatusNotFound, "drain_not_found", "")
		return
	}
	audits, err := h.drains.ListAuditsByEvent(r.Context(), id)
	if err != nil {
		h.logger.Error("list drain audits failed", "error", err, "event_id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	out := make([]auditPayload, 0, len(audits))
	for _, a := range audits {
		out = append(out, auditPayload{
			SessionID:   a.SessionID,
			UserID:      a.UserID,
			PersistedOK: a.PersistedOK,
			DespawnedOK: a.DespawnedOK,
			RevokedOK:   a.RevokedOK,
			Detail:      a.Detail,
			CreatedAt:   a.CreatedAt,
		})
	}
	ev := toEventPayload(event)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"drain": ev, "sessions": out})
}

func (h *OpsHandler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.drains.AggregateMetrics(r.Context())
	if err != nil {
		h.logger.Error("drain metrics failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{
		"events_total":           m.EventsTotal,
		"events_active":          m.EventsActive,
		"persist_failed_total":   m.PersistFailedTotal,
		"sessions_revoked_total": m.SessionsRevokedTotal,
	})
}
