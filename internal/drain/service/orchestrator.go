// Package service implements publish-drain orchestration: starting a drain,
// finalizing it at the deadline, sweeping overdue drains at startup, and lazily
// enforcing drain state on authenticated requests.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"live-game-backend/internal/drain/domain"
	releasedomain "live-game-backend/internal/release/domain"
	"live-game-backend/internal/telemetry"
	telemetrydomain "live-game-backend/internal/telemetry/domain"
)

// ErrDrainConflict is returned when starting a drain would exceed the
// concurrency cap. Maps to 409 at the ops API.
var ErrDrainConflict = errors.New("another publish drain is already in progress")

// Orchestrator owns the publish-drain lifecycle. All multi-row mutations run in
// a single transaction so a crash mid-start leaves no half-tagged cohort.
type Orchestrator struct {
	store         Store
	emitter       telemetry.EventEmitter
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	enabled       bool
	maxConcurrent int
	now           func() time.Time
}

// NewOrchestrator wires the orchestrator. emitter and metrics may be nil.
// maxConcurrent below 1 is treated as 1.
func NewOrchestrator(store Store, emitter telemetry.EventEmitter, metrics *telemetry.Metrics, logger *slog.Logger, enabled bool, maxConcurrent int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         store,
		emitter:       emitter,
		metrics:       metrics,
		logger:        logger,
		enabled:       enabled,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Enabled reports whether drain orchestration is switched on.
func (o *Orchestrator) Enabled() bool { return o.enabled }

// StartInput describes one drain request. Zero-valued fields get defaults:
// trigger "publish", reason "publish", initiator "system".
type StartInput struct {
	TriggerType       string
	ReasonCode        string
	InitiatedBy       string
	ContentVersionID  *int64
	ContentVersionKey string
	BuildVersion      string
	GraceMinutes      int
	Notes             string
}

type flushResult struct {
	ok     bool
	detail string
}

// Start begins a publish drain: creates the event, flushes presence once per
// distinct user, tags every active non-admin session, and records the audit
// trail, all in one transaction. Returns (nil, nil) when orchestration is
// disabled and ErrDrainConflict when the concurrency cap is reached.
//
// The capacity check runs inside the same transaction as the insert; the
// partial unique index on draining status backstops concurrent starters.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*domain.Event, error) {
	if !o.enabled {
		return nil, nil
	}
	now := o.now().UTC()
	grace := in.GraceMinutes
	if grace < 0 {
		grace = 0
	}
	graceSeconds := grace * 60
	deadline := now.Add(time.Duration(graceSeconds) * time.Second)

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	active, err := tx.Events().CountActive(ctx)
	if err != nil {
		return nil, err
	}
	if active >= o.maxConcurrent {
		return nil, ErrDrainConflict
	}

	event := &domain.Event{
		TriggerType:       orDefault(in.TriggerType, "publish"),
		ReasonCode:        orDefault(in.ReasonCode, "publish"),
		InitiatedBy:       orDefault(in.InitiatedBy, "system"),
		ContentVersionID:  in.ContentVersionID,
		ContentVersionKey: releasedomain.NormalizeContentKey(in.ContentVersionKey),
		GraceSeconds:      graceSeconds,
		StartedAt:         now,
		DeadlineAt:        deadline,
		Status:            domain.StatusDraining,
		Notes:             in.Notes,
	}
	if in.BuildVersion != "" {
		bv := in.BuildVersion
		event.BuildVersion = &bv
	}
	id, err := tx.Events().CreateEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	event.ID = id

	sessions, err := tx.Sessions().ListActiveNonAdmin(ctx, now)
	if err != nil {
		return nil, err
	}

	// A user can hold several sessions; flush presence once and reuse the
	// outcome for each of their sessions.
	flushed := make(map[int64]flushResult)
	var targeted, persisted, failed int
	for _, s := range sessions {
		res, seen := flushed[s.UserID]
		if !seen {
			res = o.flushPresence(ctx, tx, s.UserID)
			flushed[s.UserID] = res
		}
		if err := tx.Sessions().TagForDrain(ctx, s.ID, event.ID, deadline, event.ReasonCode); err != nil {
			return nil, err
		}
		targeted++
		if res.ok {
			persisted++
		} else {
			failed++
		}
		if err := tx.Events().CreateSessionAudit(ctx, &domain.SessionAudit{
			EventID:     event.ID,
			SessionID:   s.ID,
			UserID:      s.UserID,
			PersistedOK: res.ok,
			DespawnedOK: res.ok,
			Detail:      res.detail,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Events().UpdateStartCounters(ctx, event.ID, targeted, persisted, failed); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	event.SessionsTargeted = targeted
	event.SessionsPersisted = persisted
	event.SessionsPersistFailed = failed

	o.logger.Info("publish drain started",
		"event_id", event.ID,
		"reason_code", event.ReasonCode,
		"sessions_targeted", targeted,
		"persist_failed", failed,
		"deadline_at", deadline)
	o.metrics.RecordDrainStarted(ctx, event.ReasonCode)
	telemetry.EmitAsync(o.emitter, &telemetrydomain.LifecycleEvent{
		EventType:         telemetrydomain.EventDrainStarted,
		DrainEventID:      event.ID,
		ReasonCode:        event.ReasonCode,
		ContentVersionKey: event.ContentVersionKey,
		SessionsAffected:  targeted,
		Source:            "orchestrator",
		CreatedAt:         now,
	})
	return event, nil
}

// flushPresence clears the user's selected character so their last zone is the
// resume point. Failure degrades observability, not the drain: it is recorded
// on the audit row and the drain proceeds.
func (o *Orchestrator) flushPresence(ctx context.Context, tx Tx, userID int64) flushResult {
	if _, err := tx.Characters().ClearSelectedByUser(ctx, userID); err != nil {
		o.logger.Warn("presence flush failed", "user_id", userID, "error", err)
		return flushResult{detail: "flush_failed: " + err.Error()}
	}
	return flushResult{ok: true}
}

// Finalize revokes every session still tagged to the event and completes the
// event. Idempotent: a terminal event is returned unchanged with finalized
// false. cutoff defaults to now. The returned bool reports whether this call
// performed the transition.
func (o *Orchestrator) Finalize(ctx context.Context, eventID int64, cutoff *time.Time) (*domain.Event, bool, error) {
	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	event, err := tx.Events().GetEvent(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	if event == nil {
		return nil, false, nil
	}
	if event.Terminal() {
		return event, false, nil
	}
	at := o.now().UTC()
	if cutoff != nil {
		at = cutoff.UTC()
	}
	revoked, err := tx.Sessions().RevokeDrainTargets(ctx, eventID, at)
	if err != nil {
		return nil, false, err
	}
	for _, sessionID := range revoked {
		if err := tx.Events().MarkAuditRevoked(ctx, eventID, sessionID); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Events().CompleteEvent(ctx, eventID, at, len(revoked)); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	event.Status = domain.StatusCompleted
	event.CutoffAt = &at
	event.SessionsRevoked += len(revoked)

	o.logger.Info("publish drain finalized",
		"event_id", eventID,
		"sessions_revoked", len(revoked),
		"cutoff_at", at)
	o.metrics.RecordForcedLogouts(ctx, len(revoked), event.ReasonCode)
	telemetry.EmitAsync(o.emitter, &telemetrydomain.LifecycleEvent{
		EventType:         telemetrydomain.EventDrainFinalized,
		DrainEventID:      eventID,
		ReasonCode:        event.ReasonCode,
		ContentVersionKey: event.ContentVersionKey,
		SessionsAffected:  len(revoked),
		Source:            "orchestrator",
		CreatedAt:         at,
	})
	return event, true, nil
}

// SweepOverdue finalizes every draining event whose deadline has passed.
// Called once at startup to cover drains whose countdown died with the
// previous process. Per-event failures are logged and skipped.
func (o *Orchestrator) SweepOverdue(ctx context.Context) ([]*domain.Event, error) {
	if !o.enabled {
		return nil, nil
	}
	now := o.now().UTC()
	due, err := o.store.Events().ListDue(ctx, now)
	if err != nil {
		return nil, err
	}
	var finalized []*domain.Event
	for _, ev := range due {
		done, did, err := o.Finalize(ctx, ev.ID, &now)
		if err != nil {
			o.logger.Error("overdue drain finalize failed", "event_id", ev.ID, "error", err)
			continue
		}
		if did && done != nil {
			finalized = append(finalized, done)
		}
	}
	if len(finalized) > 0 {
		o.logger.Info("overdue drains swept", "count", len(finalized))
		telemetry.EmitAsync(o.emitter, &telemetrydomain.LifecycleEvent{
			EventType:        telemetrydomain.EventDrainSwept,
			SessionsAffected: len(finalized),
			Source:           "startup-sweep",
			CreatedAt:        now,
		})
	}
	return finalized, nil
}

// Event returns the event by id, or nil if not found.
func (o *Orchestrator) Event(ctx context.Context, id int64) (*domain.Event, error) {
	return o.store.Events().GetEvent(ctx, id)
}

// EnsureCapacity reports ErrDrainConflict when the concurrency cap is already
// reached. Used by the ops API for a fast pre-check; Start re-checks inside
// its transaction.
func (o *Orchestrator) EnsureCapacity(ctx context.Context) error {
	if !o.enabled {
		return nil
	}
	active, err := o.store.Events().CountActive(ctx)
	if err != nil {
		return err
	}
	if active >= o.maxConcurrent {
		return ErrDrainConflict
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
