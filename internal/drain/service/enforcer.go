package service

import (
	"context"

	"live-game-backend/internal/drain/domain"
	sessiondomain "live-game-backend/internal/session/domain"
	"live-game-backend/internal/telemetry"
	telemetrydomain "live-game-backend/internal/telemetry/domain"
)

// Enforce applies drain state to one authenticated request. Admin sessions and
// sessions that are not draining pass with a nil decision. Before the deadline
// the decision is a countdown; at or after it the session is revoked on the
// spot instead of waiting for the deadline worker, so enforcement does not
// depend on the countdown goroutine surviving.
func (o *Orchestrator) Enforce(ctx context.Context, session *sessiondomain.Session, isAdmin bool) (*domain.Decision, error) {
	if session == nil || isAdmin {
		return nil, nil
	}
	if session.DrainState != sessiondomain.DrainStateDraining {
		return nil, nil
	}
	now := o.now().UTC()
	if session.DrainDeadlineAt == nil || now.Before(*session.DrainDeadlineAt) {
		d := &domain.Decision{
			EventID:    session.DrainEventID,
			ReasonCode: session.DrainReasonCode,
			DeadlineAt: session.DrainDeadlineAt,
		}
		if session.DrainDeadlineAt != nil {
			secs := int(session.DrainDeadlineAt.Sub(now).Seconds())
			if secs < 0 {
				secs = 0
			}
			d.SecondsRemaining = &secs
		}
		return d, nil
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	newlyRevoked, err := tx.Sessions().CompleteDrainForSession(ctx, session.ID, now)
	if err != nil {
		return nil, err
	}
	if session.DrainEventID != nil {
		eventID := *session.DrainEventID
		if newlyRevoked {
			if err := tx.Events().IncrementRevoked(ctx, eventID, 1); err != nil {
				return nil, err
			}
		}
		if err := tx.Events().MarkAuditRevoked(ctx, eventID, session.ID); err != nil {
			return nil, err
		}
		// The whole event may be overdue too; converge it while we are here.
		ev, err := tx.Events().GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if ev != nil && !ev.Terminal() && !ev.DeadlineAt.After(now) {
			if err := tx.Events().CompleteEvent(ctx, eventID, now, 0); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	reason := "publish"
	if session.DrainReasonCode != nil {
		reason = *session.DrainReasonCode
	}
	if newlyRevoked {
		o.logger.Info("drain enforced on request",
			"session_id", session.ID,
			"user_id", session.UserID,
			"reason_code", reason)
		o.metrics.RecordForcedLogouts(ctx, 1, reason)
		ev := &telemetrydomain.LifecycleEvent{
			EventType:        telemetrydomain.EventForcedLogout,
			ReasonCode:       reason,
			SessionID:        session.ID,
			SessionsAffected: 1,
			Source:           "enforcer",
			CreatedAt:        now,
		}
		if session.DrainEventID != nil {
			ev.DrainEventID = *session.DrainEventID
		}
		telemetry.EmitAsync(o.emitter, ev)
	}

	zero := 0
	return &domain.Decision{
		ForceLogout:      true,
		EventID:          session.DrainEventID,
		ReasonCode:       session.DrainReasonCode,
		DeadlineAt:       session.DrainDeadlineAt,
		SecondsRemaining: &zero,
	}, nil
}
