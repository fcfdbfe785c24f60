// Package server assembles the HTTP API: route registration and the shared
// auth middleware.
package server

import (
	"database/sql"
	"log/slog"
	"net/http"

	characterrepo "live-game-backend/internal/character/repository"
	"live-game-backend/internal/config"
	drainrepo "live-game-backend/internal/drain/repository"
	drainsvc "live-game-backend/internal/drain/service"
	healthhandler "live-game-backend/internal/health/handler"
	identityhandler "live-game-backend/internal/identity/handler"
	identitysvc "live-game-backend/internal/identity/service"
	opshandler "live-game-backend/internal/ops/handler"
	"live-game-backend/internal/realtime"
	realtimehandler "live-game-backend/internal/realtime/handler"
	releasehandler "live-game-backend/internal/release/handler"
	releasesvc "live-game-backend/internal/release/service"
	"live-game-backend/internal/security"
	sessionrepo "live-game-backend/internal/session/repository"
	"live-game-backend/internal/telemetry"
	userrepo "live-game-backend/internal/user/repository"
	wsticketsvc "live-game-backend/internal/wsticket/service"
)

// Deps carries everything the router needs. Construction happens in cmd/server.
type Deps struct {
	Config       *config.Config
	DB           *sql.DB
	Tokens       *security.TokenProvider
	Sessions     sessionrepo.Repository
	Users        userrepo.Repository
	Characters   characterrepo.Repository
	Drains       *drainrepo.PostgresRepository
	Auth         *identitysvc.AuthService
	Releases     *releasesvc.Service
	Orchestrator *drainsvc.Orchestrator
	Tickets      *wsticketsvc.Service
	Hub          *realtime.Hub
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

// NewRouter mounts every handler on a fresh mux and returns it.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mw := NewAuthMiddleware(d.Tokens, d.Sessions, d.Users, d.Orchestrator, d.Logger)
	authed := mw.Wrap

	identityhandler.NewAuthHandler(d.Auth, d.Logger).Register(mux, authed)
	releasehandler.NewReleaseHandler(d.Releases, d.Logger).Register(mux, authed)
	realtimehandler.NewWSHandler(d.Hub, d.Tickets, d.Sessions, d.Users, d.Characters, d.Releases, d.Orchestrator, d.Metrics, d.Logger).Register(mux, authed)
	opshandler.NewOpsHandler(d.Config.OpsAPIToken, d.Releases, d.Drains, d.Logger).Register(mux)
	healthhandler.NewHealthHandler(d.DB).Register(mux)

	return mux
}
