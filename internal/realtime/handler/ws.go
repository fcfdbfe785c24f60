// Package handler exposes the realtime event feed: ticket issuance over HTTP
// and the websocket endpoint itself.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	characterrepo "live-game-backend/internal/character/repository"
	draindomain "live-game-backend/internal/drain/domain"
	"live-game-backend/internal/httpx"
	"live-game-backend/internal/realtime"
	releasesvc "live-game-backend/internal/release/service"
	sessiondomain "live-game-backend/internal/session/domain"
	sessionrepo "live-game-backend/internal/session/repository"
	"live-game-backend/internal/telemetry"
	userrepo "live-game-backend/internal/user/repository"
	wsticketsvc "live-game-backend/internal/wsticket/service"
)

// closeAuthFailure is the close code for auth, version, and drain rejections,
// so clients can tell policy closes from transport errors.
const closeAuthFailure = 4401

const writeWait = 10 * time.Second

// DrainEnforcer applies drain state at connect time. Satisfied by the drain
// orchestrator.
type DrainEnforcer interface {
	Enforce(ctx context.Context, session *sessiondomain.Session, isAdmin bool) (*draindomain.Decision, error)
}

type WSHandler struct {
	upgrader   websocket.Upgrader
	hub        *realtime.Hub
	tickets    *wsticketsvc.Service
	sessions   sessionrepo.Repository
	users      userrepo.Repository
	characters characterrepo.Repository
	releases   *releasesvc.Service
	enforcer   DrainEnforcer
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewWSHandler(hub *realtime.Hub, tickets *wsticketsvc.Service, sessions sessionrepo.Repository, users userrepo.Repository, characters characterrepo.Repository, releases *releasesvc.Service, enforcer DrainEnforcer, metrics *telemetry.Metrics, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The ticket is the credential; origin checks belong to the
			// reverse proxy in this deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub:        hub,
		tickets:    tickets,
		sessions:   sessions,
		users:      users,
		characters: characters,
		releases:   releases,
		enforcer:   enforcer,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

func (h *WSHandler) Register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.Handle("POST /events/ws-ticket", authed(http.HandlerFunc(h.issueTicket)))
	mux.HandleFunc("GET /events/ws", h.serveWS)
}

type ticketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueTicket trades the caller's access token for a one-time websocket
// ticket, since browsers cannot set headers on the upgrade request.
func (h *WSHandler) issueTicket(w http.ResponseWriter, r *http.Request) {
	id := httpx.IdentityFrom(r.Context())
	if id == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "missing_token", "")
		return
	}
	raw, expiresAt, err := h.tickets.Issue(r.Context(), id.User.ID, id.Session.ID)
	if err != nil {
		h.logger.Error("ws ticket issue failed", "error", err, "user_id", id.User.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ticketResponse{Ticket: raw, ExpiresAt: expiresAt})
}

// wsConn adapts a gorilla connection to the hub's Conn: writes are serialized
// under a mutex and bounded by a deadline so one wedged client cannot block
// broadcast fan-out.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (c *wsConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// serveWS is the event feed endpoint:
// GET /events/ws?ticket=…&client_version=…&client_content_version_key=…
func (h *WSHandler) serveWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticket, err := h.tickets.Consume(r.Context(), q.Get("ticket"))
	if err != nil {
		if errors.Is(err, wsticketsvc.ErrInvalidTicket) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_ticket", "")
			return
		}
		h.logger.Error("ws ticket consume failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	session, err := h.sessions.GetByID(r.Context(), ticket.SessionID)
	if err != nil {
		h.logger.Error("ws: load session failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	if session == nil || !session.Active(h.now().UTC()) {
		httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", "")
		return
	}
	user, err := h.users.GetByID(r.Context(), session.UserID)
	if err != nil || user == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "session_revoked", "")
		return
	}

	clientVersion := q.Get("client_version")
	if clientVersion == "" {
		clientVersion = session.ClientVersion
	}
	clientContentKey := q.Get("client_content_version_key")
	if clientContentKey == "" {
		clientContentKey = session.ClientContentVersionKey
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	ws := &wsConn{conn: conn}

	// Version gate after the upgrade so the client receives a structured
	// notice before the close frame.
	decision, err := h.releases.EvaluateClient(r.Context(), clientVersion, clientContentKey)
	if err != nil {
		h.logger.Error("ws: version evaluation failed", "error", err)
		ws.closeWith(websocket.CloseInternalServerErr, "internal")
		return
	}
	if decision != nil && decision.ForceUpdate && !user.IsAdmin {
		_ = ws.WriteJSON(realtime.ForceUpdateMessage{
			Type:                          realtime.MessageForceUpdate,
			LatestVersion:                 decision.LatestVersion,
			MinSupportedVersion:           decision.MinSupportedVersion,
			LatestContentVersionKey:       decision.LatestContentVersionKey,
			MinSupportedContentVersionKey: decision.MinSupportedContentVersionKey,
			UpdateFeedURL:                 decision.UpdateFeedURL,
			EnforceAfter:                  decision.EnforceAfter,
			ForceUpdate:                   true,
			ContentUpdateRequired:         decision.ContentUpdateAvailable,
		})
		ws.closeWith(closeAuthFailure, "force_update")
		return
	}

	drainDecision, err := h.enforcer.Enforce(r.Context(), session, user.IsAdmin)
	if err != nil {
		h.logger.Error("ws: drain enforcement failed", "error", err, "session_id", session.ID)
		ws.closeWith(websocket.CloseInternalServerErr, "internal")
		return
	}
	if drainDecision != nil && drainDecision.ForceLogout {
		msg := realtime.ForcedLogoutMessage{Type: realtime.MessageForcedLogout}
		if drainDecision.EventID != nil {
			msg.EventID = *drainDecision.EventID
		}
		if drainDecision.ReasonCode != nil {
			msg.ReasonCode = *drainDecision.ReasonCode
		}
		_ = ws.WriteJSON(msg)
		ws.closeWith(closeAuthFailure, "drain_forced_logout")
		return
	}

	c := h.hub.Connect(ws, h.connectMeta(r.Context(), user.ID, session.ID))
	defer h.hub.Disconnect(c)

	if err := ws.WriteJSON(realtime.ConnectedMessage{Type: realtime.MessageConnected, SessionID: session.ID}); err != nil {
		return
	}
	// A draining (but not yet terminal) session learns about the countdown
	// right after connecting.
	if drainDecision != nil && drainDecision.DeadlineAt != nil {
		if err := ws.WriteJSON(publishStartedNotice(drainDecision)); err != nil {
			return
		}
	}

	h.readLoop(r.Context(), ws, c, user.ID)
}

// connectMeta seeds the connection's zone from the user's selected character,
// so a client that reconnects mid-session receives zone traffic before its
// first zone_scope message.
func (h *WSHandler) connectMeta(ctx context.Context, userID int64, sessionID string) realtime.ConnectionMeta {
	meta := realtime.ConnectionMeta{
		UserID:    userID,
		SessionID: sessionID,
		Channels:  []string{"events"},
	}
	if h.characters != nil {
		zone, err := h.characters.SelectedZoneByUser(ctx, userID)
		if err != nil {
			h.logger.Warn("ws: selected character zone lookup failed", "error", err, "user_id", userID)
		} else {
			meta.ZoneLevelID = zone
		}
	}
	return meta
}

func publishStartedNotice(d *draindomain.Decision) realtime.PublishStartedMessage {
	msg := realtime.PublishStartedMessage{Type: realtime.MessagePublishStarted}
	if d.EventID != nil {
		msg.EventID = *d.EventID
	}
	if d.ReasonCode != nil {
		msg.ReasonCode = *d.ReasonCode
	}
	if d.DeadlineAt != nil {
		msg.DeadlineAt = *d.DeadlineAt
	}
	if d.SecondsRemaining != nil {
		msg.SecondsRemaining = *d.SecondsRemaining
	}
	return msg
}

type clientMessage struct {
	Type                 string   `json:"type"`
	ZoneLevelID          *int64   `json:"zone_level_id"`
	AllowAdjacentPreview bool     `json:"allow_adjacent_preview"`
	AdjacentZoneIDs      []int64  `json:"adjacent_zone_ids"`
	CharacterID          *int64   `json:"character_id"`
	LocationX            *int     `json:"location_x"`
	LocationY            *int     `json:"location_y"`
	PreloadLatencyMS     *float64 `json:"preload_latency_ms"`
	Seamless             *bool    `json:"seamless"`
}

func (h *WSHandler) readLoop(ctx context.Context, ws *wsConn, c *realtime.Connection, userID int64) {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := ws.WriteJSON(realtime.ErrorMessage{Type: realtime.MessageError, Code: "invalid_json"}); err != nil {
				return
			}
			continue
		}
		if err := h.handleMessage(ctx, ws, c, userID, msg); err != nil {
			return
		}
	}
}

// handleMessage dispatches one inbound message. A non-nil error means the
// connection's write side failed and the loop should exit.
func (h *WSHandler) handleMessage(ctx context.Context, ws realtime.Conn, c *realtime.Connection, userID int64, msg clientMessage) error {
	switch msg.Type {
	case "ping":
		return ws.WriteJSON(realtime.PongMessage{Type: realtime.MessagePong})
	case "zone_scope":
		h.hub.UpdateZoneScope(c, msg.ZoneLevelID, msg.AllowAdjacentPreview, msg.AdjacentZoneIDs)
		h.metrics.RecordZoneScopeUpdate(ctx)
		ack := realtime.ZoneScopeAckMessage{
			Type:                 realtime.MessageZoneScopeAck,
			ZoneLevelID:          msg.ZoneLevelID,
			AllowAdjacentPreview: msg.AllowAdjacentPreview,
			AdjacentZoneIDs:      msg.AdjacentZoneIDs,
		}
		if ack.AdjacentZoneIDs == nil {
			ack.AdjacentZoneIDs = []int64{}
		}
		return ws.WriteJSON(ack)
	case "zone_presence":
		// Presence routes to the zone named in the message, independent of
		// the connection's current scope. Missing or non-positive zone ids
		// are dropped silently.
		if msg.ZoneLevelID == nil || *msg.ZoneLevelID <= 0 {
			return nil
		}
		h.hub.BroadcastZone(*msg.ZoneLevelID, true, userID, realtime.ZonePresenceMessage{
			Type:        realtime.MessageZonePresence,
			ZoneLevelID: *msg.ZoneLevelID,
			UserID:      userID,
			CharacterID: msg.CharacterID,
			LocationX:   msg.LocationX,
			LocationY:   msg.LocationY,
		})
		return nil
	case "zone_telemetry":
		if msg.PreloadLatencyMS != nil {
			h.metrics.RecordZonePreloadLatency(ctx, *msg.PreloadLatencyMS)
		}
		if msg.Seamless != nil {
			h.metrics.RecordZoneHandoff(ctx, *msg.Seamless)
		}
		return nil
	default:
		return ws.WriteJSON(realtime.ErrorMessage{Type: realtime.MessageError, Code: "unknown_type"})
	}
}
