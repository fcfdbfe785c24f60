// Package realtime implements the connection registry for the websocket event
// feed: per-channel, per-zone, and per-user indexes over live connections, with
// broadcast fan-out and zone-scoped delivery.
package realtime

import (
	"log/slog"
	"sync"
)

// Conn is the write side of one realtime connection. Implementations must be
// safe for concurrent writes (the websocket adapter serializes with a mutex).
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// ConnectionMeta describes one connection's subscriptions. Treated as
// immutable: UpdateZoneScope installs a fresh copy under the hub lock rather
// than mutating in place, so snapshots taken for fan-out stay consistent.
type ConnectionMeta struct {
	UserID               int64
	SessionID            string
	Channels             []string
	ZoneLevelID          *int64
	AllowAdjacentPreview bool
	AdjacentZoneIDs      []int64
}

// Connection is the hub's handle for one registered connection.
type Connection struct {
	id   uint64
	conn Conn
	meta *ConnectionMeta
}

// Meta returns a copy of the connection's current metadata.
func (c *Connection) Meta() ConnectionMeta { return *c.meta }

// Hub is the connection registry. All index mutations happen under mu; sends
// happen outside it against a snapshot, so one slow client cannot stall the
// registry.
type Hub struct {
	mu     sync.Mutex
	logger *slog.Logger

	nextID     uint64
	conns      map[uint64]*Connection
	byChannel  map[string]map[uint64]*Connection
	byZone     map[int64]map[uint64]*Connection
	byAdjacent map[int64]map[uint64]*Connection
	byUser     map[int64]map[uint64]*Connection
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		conns:      map[uint64]*Connection{},
		byChannel:  map[string]map[uint64]*Connection{},
		byZone:     map[int64]map[uint64]*Connection{},
		byAdjacent: map[int64]map[uint64]*Connection{},
		byUser:     map[int64]map[uint64]*Connection{},
	}
}

// Connect registers the connection and indexes it by channel, zone, and user.
func (h *Hub) Connect(conn Conn, meta ConnectionMeta) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &Connection{id: h.nextID, conn: conn, meta: cloneMeta(meta)}
	h.conns[c.id] = c
	h.indexLocked(c)
	return c
}

// Disconnect removes the connection from every index and closes it. Idempotent.
func (h *Hub) Disconnect(c *Connection) {
	if c == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	h.unindexLocked(c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// UpdateZoneScope replaces the connection's zone subscription. The previous
// meta is discarded wholesale; channels and identity carry over.
func (h *Hub) UpdateZoneScope(c *Connection, zoneLevelID *int64, allowAdjacentPreview bool, adjacentZoneIDs []int64) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	h.unindexLocked(c)
	next := *c.meta
	next.ZoneLevelID = nil
	if zoneLevelID != nil {
		z := *zoneLevelID
		next.ZoneLevelID = &z
	}
	next.AllowAdjacentPreview = allowAdjacentPreview
	next.AdjacentZoneIDs = append([]int64(nil), adjacentZoneIDs...)
	c.meta = &next
	h.indexLocked(c)
}

// Broadcast sends payload to every connection subscribed to channel and
// returns the delivered count.
func (h *Hub) Broadcast(channel string, payload any) int {
	h.mu.Lock()
	targets := snapshot(h.byChannel[channel])
	h.mu.Unlock()
	return h.send(targets, payload)
}

// BroadcastZone sends payload to every connection scoped to the zone, plus,
// when includeAdjacent is set, connections that opted into adjacent previews
// of it. excludeUserID 0 excludes nobody. Returns the delivered count.
func (h *Hub) BroadcastZone(zoneLevelID int64, includeAdjacent bool, excludeUserID int64, payload any) int {
	h.mu.Lock()
	seen := map[uint64]*Connection{}
	for id, c := range h.byZone[zoneLevelID] {
		seen[id] = c
	}
	if includeAdjacent {
		for id, c := range h.byAdjacent[zoneLevelID] {
			seen[id] = c
		}
	}
	targets := make([]sendTarget, 0, len(seen))
	for _, c := range seen {
		if excludeUserID != 0 && c.meta.UserID == excludeUserID {
			continue
		}
		targets = append(targets, sendTarget{c: c, userID: c.meta.UserID, sessionID: c.meta.SessionID})
	}
	h.mu.Unlock()
	return h.send(targets, payload)
}

// NotifyAll sends payload to every connection and returns the delivered count.
func (h *Hub) NotifyAll(payload any) int {
	h.mu.Lock()
	targets := snapshot(h.conns)
	h.mu.Unlock()
	return h.send(targets, payload)
}

// NotifyUser sends payload to every connection of one user.
func (h *Hub) NotifyUser(userID int64, payload any) int {
	h.mu.Lock()
	targets := snapshot(h.byUser[userID])
	h.mu.Unlock()
	return h.send(targets, payload)
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// sendTarget carries the identity fields out of the lock along with the
// connection, so send never touches meta while UpdateZoneScope may swap it.
type sendTarget struct {
	c         *Connection
	userID    int64
	sessionID string
}

// send writes outside the hub lock. A failed write means the client is gone or
// wedged; the connection is dropped so the registry self-heals.
func (h *Hub) send(targets []sendTarget, payload any) int {
	delivered := 0
	for _, t := range targets {
		if err := t.c.conn.WriteJSON(payload); err != nil {
			h.logger.Debug("realtime: send failed, dropping connection",
				"user_id", t.userID, "session_id", t.sessionID, "error", err)
			h.Disconnect(t.c)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) indexLocked(c *Connection) {
	for _, ch := range c.meta.Channels {
		if h.byChannel[ch] == nil {
			h.byChannel[ch] = map[uint64]*Connection{}
		}
		h.byChannel[ch][c.id] = c
	}
	if c.meta.ZoneLevelID != nil {
		z := *c.meta.ZoneLevelID
		if h.byZone[z] == nil {
			h.byZone[z] = map[uint64]*Connection{}
		}
		h.byZone[z][c.id] = c
	}
	if c.meta.AllowAdjacentPreview {
		for _, z := range c.meta.AdjacentZoneIDs {
			if h.byAdjacent[z] == nil {
				h.byAdjacent[z] = map[uint64]*Connection{}
			}
			h.byAdjacent[z][c.id] = c
		}
	}
	if h.byUser[c.meta.UserID] == nil {
		h.byUser[c.meta.UserID] = map[uint64]*Connection{}
	}
	h.byUser[c.meta.UserID][c.id] = c
}

func (h *Hub) unindexLocked(c *Connection) {
	for _, ch := range c.meta.Channels {
		removeFrom(h.byChannel, ch, c.id)
	}
	if c.meta.ZoneLevelID != nil {
		removeFromInt(h.byZone, *c.meta.ZoneLevelID, c.id)
	}
	if c.meta.AllowAdjacentPreview {
		for _, z := range c.meta.AdjacentZoneIDs {
			removeFromInt(h.byAdjacent, z, c.id)
		}
	}
	removeFromInt(h.byUser, c.meta.UserID, c.id)
}

func cloneMeta(meta ConnectionMeta) *ConnectionMeta {
	cp := meta
	cp.Channels = append([]string(nil), meta.Channels...)
	cp.AdjacentZoneIDs = append([]int64(nil), meta.AdjacentZoneIDs...)
	if meta.ZoneLevelID != nil {
		z := *meta.ZoneLevelID
		cp.ZoneLevelID = &z
	}
	return &cp
}

func snapshot(m map[uint64]*Connection) []sendTarget {
	out := make([]sendTarget, 0, len(m))
	for _, c := range m {
		out = append(out, sendTarget{c: c, userID: c.meta.UserID, sessionID: c.meta.SessionID})
	}
	return out
}

func removeFrom(m map[string]map[uint64]*Connection, key string, id uint64) {
	if set := m[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func removeFromInt(m map[int64]map[uint64]*Connection, key int64, id uint64) {
	if set := m[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}
