package telemetry

import (
	"context"

	"live-game-backend/internal/telemetry/domain"
)

// EventEmitter emits drain lifecycle events (e.g. to Kafka). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.LifecycleEvent) error
}
