package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"live-game-backend/internal/telemetry"
	"live-game-backend/internal/telemetry/domain"
)

// NewEventEmitter returns an EventEmitter that sends lifecycle events as OTel log records
// via the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("live-game-backend.lifecycle")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.LifecycleEvent) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the lifecycle event to an OTel log record and emits it. Best-effort.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	}
	if event.Detail != "" {
		rec.SetBody(otellog.StringValue(event.Detail))
	}
	if event.EventType != "" {
		rec.AddAttributes(otellog.String("event_type", event.EventType))
	}
	if event.DrainEventID != 0 {
		rec.AddAttributes(otellog.Int64("drain_event_id", event.DrainEventID))
	}
	if event.ReasonCode != "" {
		rec.AddAttributes(otellog.String("reason_code", event.ReasonCode))
	}
	if event.ContentVersionKey != "" {
		rec.AddAttributes(otellog.String("content_version_key", event.ContentVersionKey))
	}
	if event.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", event.SessionID))
	}
	if event.SessionsAffected != 0 {
		rec.AddAttributes(otellog.Int("sessions_affected", event.SessionsAffected))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if rec.Timestamp().IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	e.logger.Emit(ctx, rec)
	return nil
}
