// Package producer defines the interface for publishing lifecycle events (e.g. to Kafka).
package producer

import (
	"context"

	"live-game-backend/internal/telemetry/domain"
)

// Producer publishes lifecycle events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single lifecycle event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.LifecycleEvent) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
