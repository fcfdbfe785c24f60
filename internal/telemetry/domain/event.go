package domain

import "time"

// Lifecycle event types emitted by the drain subsystem.
const (
	EventDrainStarted   = "drain_started"
	EventDrainWarning   = "drain_warning"
	EventDrainFinalized = "drain_finalized"
	EventDrainSwept     = "drain_swept"
	EventForcedLogout   = "forced_logout"
)

// LifecycleEvent is one operational event from the publish-drain subsystem,
// written to the lifecycle Kafka topic and shipped to Loki by the worker.
type LifecycleEvent struct {
	EventType         string    `json:"eventType"`
	DrainEventID      int64     `json:"drainEventId,omitempty"`
	ReasonCode        string    `json:"reasonCode,omitempty"`
	ContentVersionKey string    `json:"contentVersionKey,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
	SessionsAffected  int       `json:"sessionsAffected,omitempty"`
	Detail            string    `json:"detail,omitempty"`
	Source            string    `json:"source,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
