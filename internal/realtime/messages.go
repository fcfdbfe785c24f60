package realtime

import "time"

// Message types on the event feed. Server-to-client unless noted.
const (
	MessageConnected      = "connected"
	MessagePong           = "pong"
	MessageZoneScopeAck   = "zone_scope_ack"
	MessageZonePresence   = "zone_presence"
	MessageForceUpdate    = "force_update"
	MessagePublishStarted = "content_publish_started"
	MessagePublishWarning = "content_publish_warning"
	MessageForcedLogout   = "content_publish_forced_logout"
	MessageError          = "error"
)

type ConnectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ZoneScopeAckMessage struct {
	Type                 string  `json:"type"`
	ZoneLevelID          *int64  `json:"zone_level_id"`
	AllowAdjacentPreview bool    `json:"allow_adjacent_preview"`
	AdjacentZoneIDs      []int64 `json:"adjacent_zone_ids"`
}

// ZonePresenceMessage relays one client's position to its zone. The server
// adds the sender identity; character and coordinates are echoed from the
// inbound message.
type ZonePresenceMessage struct {
	Type        string `json:"type"`
	ZoneLevelID int64  `json:"zone_level_id"`
	UserID      int64  `json:"user_id"`
	CharacterID *int64 `json:"character_id,omitempty"`
	LocationX   *int   `json:"location_x,omitempty"`
	LocationY   *int   `json:"location_y,omitempty"`
}

// ForceUpdateMessage tells clients their build or content is below the
// supported floor. Mirrors the release decision payload.
type ForceUpdateMessage struct {
	Type                          string     `json:"type"`
	LatestVersion                 string     `json:"latest_version"`
	MinSupportedVersion           string     `json:"min_supported_version"`
	LatestContentVersionKey       string     `json:"latest_content_version_key"`
	MinSupportedContentVersionKey string     `json:"min_supported_content_version_key"`
	UpdateFeedURL                 string     `json:"update_feed_url,omitempty"`
	EnforceAfter                  *time.Time `json:"enforce_after,omitempty"`
	ForceUpdate                   bool       `json:"force_update"`
	ContentUpdateRequired         bool       `json:"content_update_required"`
}

type PublishStartedMessage struct {
	Type              string    `json:"type"`
	EventID           int64     `json:"event_id"`
	ContentVersionKey string    `json:"content_version_key,omitempty"`
	ReasonCode        string    `json:"reason_code"`
	DeadlineAt        time.Time `json:"deadline_at"`
	GraceSeconds      int       `json:"grace_seconds,omitempty"`
	SecondsRemaining  int       `json:"seconds_remaining"`
}

type PublishWarningMessage struct {
	Type              string    `json:"type"`
	EventID           int64     `json:"event_id"`
	ContentVersionKey string    `json:"content_version_key"`
	ReasonCode        string    `json:"reason_code"`
	DeadlineAt        time.Time `json:"deadline_at"`
	SecondsRemaining  int       `json:"seconds_remaining"`
}

type ForcedLogoutMessage struct {
	Type              string     `json:"type"`
	EventID           int64      `json:"event_id"`
	ContentVersionKey string     `json:"content_version_key"`
	ReasonCode        string     `json:"reason_code"`
	CutoffAt          *time.Time `json:"cutoff_at,omitempty"`
}

type ErrorMessage struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// NotifyPublishStarted broadcasts the drain start notice to every connection.
func (h *Hub) NotifyPublishStarted(eventID int64, contentVersionKey, reasonCode string, deadline time.Time, graceSeconds int) int {
	return h.NotifyAll(PublishStartedMessage{
		Type:              MessagePublishStarted,
		EventID:           eventID,
		ContentVersionKey: contentVersionKey,
		ReasonCode:        reasonCode,
		DeadlineAt:        deadline,
		GraceSeconds:      graceSeconds,
		SecondsRemaining:  graceSeconds,
	})
}

// NotifyPublishWarning broadcasts a countdown warning to every connection.
func (h *Hub) NotifyPublishWarning(eventID int64, contentVersionKey, reasonCode string, deadline time.Time, secondsRemaining int) int {
	return h.NotifyAll(PublishWarningMessage{
		Type:              MessagePublishWarning,
		EventID:           eventID,
		ContentVersionKey: contentVersionKey,
		ReasonCode:        reasonCode,
		DeadlineAt:        deadline,
		SecondsRemaining:  secondsRemaining,
	})
}

// NotifyForcedLogout broadcasts the terminal drain notice to every connection.
func (h *Hub) NotifyForcedLogout(eventID int64, contentVersionKey, reasonCode string, cutoff *time.Time) int {
	return h.NotifyAll(ForcedLogoutMessage{
		Type:              MessageForcedLogout,
		EventID:           eventID,
		ContentVersionKey: contentVersionKey,
		ReasonCode:        reasonCode,
		CutoffAt:          cutoff,
	})
}

// NotifyForceUpdate broadcasts the release floor change to every connection.
func (h *Hub) NotifyForceUpdate(msg ForceUpdateMessage) int {
	msg.Type = MessageForceUpdate
	return h.NotifyAll(msg)
}
