package domain

import "time"

// Drain event statuses. Completed and failed are terminal.
const (
	StatusDraining  = "draining"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one publish drain: the time-boxed migration of a cohort of sessions
// off an old version. Rows are never deleted; they form the operational log.
type Event struct {
	ID                    int64
	TriggerType           string
	ReasonCode            string
	InitiatedBy           string
	ContentVersionID      *int64
	ContentVersionKey     string
	BuildVersion          *string
	GraceSeconds          int
	StartedAt             time.Time
	DeadlineAt            time.Time
	CutoffAt              *time.Time
	Status                string
	Notes                 string
	SessionsTargeted      int
	SessionsPersisted     int
	SessionsPersistFailed int
	SessionsRevoked       int
}

// Terminal reports whether the event has reached a final status.
func (e *Event) Terminal() bool {
	return e.Status != StatusDraining
}

// SessionAudit is the per-(event, session) audit trail, independent of the
// aggregate counters on Event.
type SessionAudit struct {
	ID          int64
	EventID     int64
	SessionID   string
	UserID      int64
	PersistedOK bool
	DespawnedOK bool
	RevokedOK   bool
	Detail      string
	CreatedAt   time.Time
}

// Decision is what the enforcer reports for a draining session: a countdown
// before the deadline, or a terminal forced logout at or after it.
type Decision struct {
	ForceLogout      bool
	EventID          *int64
	ReasonCode       *string
	DeadlineAt       *time.Time
	SecondsRemaining *int
}
