package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"live-game-backend/internal/telemetry"
	telemetrydomain "live-game-backend/internal/telemetry/domain"
)

// warningThresholds are the seconds-before-deadline marks at which a warning
// broadcast goes out. Thresholds already inside the grace window are skipped.
var warningThresholds = []int{300, 120, 60, 30, 10}

// Notifier broadcasts drain lifecycle notices to connected clients and returns
// the number of connections the notice was delivered to.
type Notifier interface {
	NotifyPublishStarted(eventID int64, contentVersionKey, reasonCode string, deadline time.Time, graceSeconds int) int
	NotifyPublishWarning(eventID int64, contentVersionKey, reasonCode string, deadline time.Time, secondsRemaining int) int
	NotifyForcedLogout(eventID int64, contentVersionKey, reasonCode string, cutoff *time.Time) int
}

// Scheduler runs one countdown goroutine per drain event: the started notice,
// warnings at the thresholds, then finalize and the forced-logout broadcast.
// Shutdown cancels all countdowns; the startup sweep finalizes whatever they
// left behind.
type Scheduler struct {
	orch     *Orchestrator
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(orch *Orchestrator, notifier Notifier, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		orch:     orch,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule starts the countdown for the event in a new goroutine.
func (s *Scheduler) Schedule(eventID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, eventID)
	}()
}

// Shutdown cancels all running countdowns and waits for them to exit.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, eventID int64) {
	ev, err := s.orch.Event(ctx, eventID)
	if err != nil {
		s.logger.Error("drain countdown: load event failed", "event_id", eventID, "error", err)
		return
	}
	if ev == nil || ev.Terminal() {
		return
	}
	now := s.now().UTC()
	remaining := int(ev.DeadlineAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	delivered := s.notifier.NotifyPublishStarted(ev.ID, ev.ContentVersionKey, ev.ReasonCode, ev.DeadlineAt, ev.GraceSeconds)
	s.logger.Info("drain countdown started",
		"event_id", ev.ID, "seconds_remaining", remaining, "delivered", delivered)

	for _, threshold := range warningThresholds {
		if remaining <= threshold {
			continue
		}
		if !s.sleep(ctx, time.Duration(remaining-threshold)*time.Second) {
			return
		}
		remaining = threshold
		s.notifier.NotifyPublishWarning(ev.ID, ev.ContentVersionKey, ev.ReasonCode, ev.DeadlineAt, threshold)
		telemetry.EmitAsync(s.orch.emitter, &telemetrydomain.LifecycleEvent{
			EventType:         telemetrydomain.EventDrainWarning,
			DrainEventID:      ev.ID,
			ReasonCode:        ev.ReasonCode,
			ContentVersionKey: ev.ContentVersionKey,
			Detail:            "seconds_remaining=" + strconv.Itoa(threshold),
			Source:            "scheduler",
			CreatedAt:         s.now().UTC(),
		})
	}
	if remaining > 0 {
		if !s.sleep(ctx, time.Duration(remaining)*time.Second) {
			return
		}
	}

	finalized, did, err := s.orch.Finalize(ctx, eventID, nil)
	if err != nil {
		s.logger.Error("drain countdown: finalize failed", "event_id", eventID, "error", err)
		return
	}
	// Someone else (enforcer or a sweep) already finalized; they own the broadcast.
	if finalized == nil || !did {
		return
	}
	delivered = s.notifier.NotifyForcedLogout(finalized.ID, finalized.ContentVersionKey, finalized.ReasonCode, finalized.CutoffAt)
	s.logger.Info("drain countdown finished",
		"event_id", finalized.ID, "sessions_revoked", finalized.SessionsRevoked, "delivered", delivered)
}

// sleep waits for d or until ctx is canceled; reports whether the full wait
// elapsed.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
