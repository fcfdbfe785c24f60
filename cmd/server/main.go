package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	characterrepo "live-game-backend/internal/character/repository"
	"live-game-backend/internal/config"
	"live-game-backend/internal/db"
	drainrepo "live-game-backend/internal/drain/repository"
	drainsvc "live-game-backend/internal/drain/service"
	identitysvc "live-game-backend/internal/identity/service"
	"live-game-backend/internal/realtime"
	releaserepo "live-game-backend/internal/release/repository"
	releasesvc "live-game-backend/internal/release/service"
	"live-game-backend/internal/security"
	"live-game-backend/internal/server"
	sessionrepo "live-game-backend/internal/session/repository"
	"live-game-backend/internal/telemetry"
	"live-game-backend/internal/telemetry/otel"
	"live-game-backend/internal/telemetry/producer"
	userrepo "live-game-backend/internal/user/repository"
	wsticketrepo "live-game-backend/internal/wsticket/repository"
	wsticketsvc "live-game-backend/internal/wsticket/service"
)

const serviceName = "live-game-backend"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	providers.SetGlobal()
	metrics := telemetry.MustMetrics(providers.MeterProvider.Meter(serviceName))

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	tokens, err := security.NewTokenProvider(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		logger.Error("token provider setup failed", "error", err)
		os.Exit(1)
	}
	hasher := security.NewHasher(cfg.BcryptCost)

	users := userrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	characters := characterrepo.NewPostgresRepository(conn)
	drains := drainrepo.NewPostgresRepository(conn)
	releases := releaserepo.NewPostgresRepository(conn)
	tickets := wsticketrepo.NewPostgresRepository(conn)

	kafka, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.LifecycleKafkaTopic)
	if err != nil {
		logger.Error("kafka producer setup failed", "error", err)
		os.Exit(1)
	}

	emitters := []telemetry.EventEmitter{otel.NewEventEmitter(providers.LoggerProvider)}
	if kafka != nil {
		defer kafka.Close()
		emitters = append(emitters, kafka)
	}
	emitter := telemetry.NewFanout(emitters...)

	hub := realtime.NewHub(logger)
	orch := drainsvc.NewOrchestrator(drainsvc.NewSQLStore(conn), emitter, metrics, logger, cfg.PublishDrainEnabled, cfg.PublishDrainMaxConcurrent)
	scheduler := drainsvc.NewScheduler(orch, hub, logger)
	releaseSvc := releasesvc.NewService(releases, orch, scheduler, hub, cfg.VersionGraceMinutesDefault, logger)
	ticketSvc := wsticketsvc.NewService(tickets, cfg.WSTicketTTL())
	authSvc := identitysvc.NewAuthService(users, sessions, hasher, tokens, cfg.AccessTTL(), cfg.SessionLifetime(), logger)

	// Finalize drains whose deadline passed while the process was down, then
	// re-arm timers for any still-draining event.
	if swept, err := orch.SweepOverdue(ctx); err != nil {
		logger.Error("overdue drain sweep failed", "error", err)
	} else if len(swept) > 0 {
		logger.Info("swept overdue drains", "count", len(swept))
	}
	if recent, err := drains.ListRecent(ctx, 50); err != nil {
		logger.Error("listing drains for re-arm failed", "error", err)
	} else {
		for _, ev := range recent {
			if !ev.Terminal() {
				scheduler.Schedule(ev.ID)
			}
		}
	}

	purgeCtx, purgeCancel := context.WithCancel(ctx)
	defer purgeCancel()
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-t.C:
				if n, err := ticketSvc.PurgeExpired(purgeCtx); err != nil {
					logger.Warn("ws ticket purge failed", "error", err)
				} else if n > 0 {
					logger.Debug("purged expired ws tickets", "count", n)
				}
			}
		}
	}()

	handler := server.NewRouter(server.Deps{
		Config:       cfg,
		DB:           conn,
		Tokens:       tokens,
		Sessions:     sessions,
		Users:        users,
		Characters:   characters,
		Drains:       drains,
		Auth:         authSvc,
		Releases:     releaseSvc,
		Orchestrator: orch,
		Tickets:      ticketSvc,
		Hub:          hub,
		Metrics:      metrics,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	purgeCancel()
	scheduler.Shutdown()
	// Give in-flight async lifecycle emits a chance to land.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
	logger.Info("stopped")
}
