package realtime

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []any
	failWith error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func zone(id int64) *int64 { return &id }

func TestBroadcastChannelDelivery(t *testing.T) {
	h := newTestHub()
	events := &fakeConn{}
	other := &fakeConn{}
	h.Connect(events, ConnectionMeta{UserID: 1, SessionID: "s1", Channels: []string{"events"}})
	h.Connect(other, ConnectionMeta{UserID: 2, SessionID: "s2", Channels: []string{"admin"}})

	if got := h.Broadcast("events", PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("Broadcast delivered = %d, want 1", got)
	}
	if events.count() != 1 || other.count() != 0 {
		t.Errorf("message counts = %d/%d, want 1/0", events.count(), other.count())
	}
}

func TestBroadcastZoneExcludesSender(t *testing.T) {
	h := newTestHub()
	sender := &fakeConn{}
	peer := &fakeConn{}
	elsewhere := &fakeConn{}
	h.Connect(sender, ConnectionMeta{UserID: 1, SessionID: "s1", ZoneLevelID: zone(10)})
	h.Connect(peer, ConnectionMeta{UserID: 2, SessionID: "s2", ZoneLevelID: zone(10)})
	h.Connect(elsewhere, ConnectionMeta{UserID: 3, SessionID: "s3", ZoneLevelID: zone(11)})

	delivered := h.BroadcastZone(10, false, 1, ZonePresenceMessage{Type: MessageZonePresence, ZoneLevelID: 10, UserID: 1})
	if delivered != 1 {
		t.Errorf("BroadcastZone delivered = %d, want 1", delivered)
	}
	if sender.count() != 0 {
		t.Error("sender received its own presence broadcast")
	}
	if peer.count() != 1 {
		t.Errorf("peer messages = %d, want 1", peer.count())
	}
	if elsewhere.count() != 0 {
		t.Error("connection in another zone received the broadcast")
	}
}

func TestBroadcastZoneAdjacentPreview(t *testing.T) {
	h := newTestHub()
	inZone := &fakeConn{}
	previewer := &fakeConn{}
	optedOut := &fakeConn{}
	h.Connect(inZone, ConnectionMeta{UserID: 1, SessionID: "s1", ZoneLevelID: zone(10)})
	h.Connect(previewer, ConnectionMeta{
		UserID: 2, SessionID: "s2", ZoneLevelID: zone(11),
		AllowAdjacentPreview: true, AdjacentZoneIDs: []int64{10},
	})
	h.Connect(optedOut, ConnectionMeta{
		UserID: 3, SessionID: "s3", ZoneLevelID: zone(11),
		AllowAdjacentPreview: false, AdjacentZoneIDs: []int64{10},
	})

	if got := h.BroadcastZone(10, true, 0, PongMessage{Type: MessagePong}); got != 2 {
		t.Errorf("delivered with adjacency = %d, want 2 (in-zone + previewer)", got)
	}
	if optedOut.count() != 0 {
		t.Error("connection without preview opt-in received adjacent broadcast")
	}

	if got := h.BroadcastZone(10, false, 0, PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("delivered without adjacency = %d, want 1", got)
	}
	if previewer.count() != 1 {
		t.Errorf("previewer messages = %d, want 1 (adjacent-only)", previewer.count())
	}
}

func TestUpdateZoneScopeMovesIndexes(t *testing.T) {
	h := newTestHub()
	conn := &fakeConn{}
	c := h.Connect(conn, ConnectionMeta{UserID: 1, SessionID: "s1", ZoneLevelID: zone(10)})

	h.UpdateZoneScope(c, zone(20), true, []int64{21, 22})

	if got := h.BroadcastZone(10, false, 0, PongMessage{Type: MessagePong}); got != 0 {
		t.Errorf("old zone delivered = %d, want 0", got)
	}
	if got := h.BroadcastZone(20, false, 0, PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("new zone delivered = %d, want 1", got)
	}
	if got := h.BroadcastZone(21, true, 0, PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("adjacent zone delivered = %d, want 1", got)
	}
	meta := c.Meta()
	if meta.ZoneLevelID == nil || *meta.ZoneLevelID != 20 {
		t.Errorf("meta zone = %v, want 20", meta.ZoneLevelID)
	}

	// Clearing the zone drops all zone-scoped delivery.
	h.UpdateZoneScope(c, nil, false, nil)
	if got := h.BroadcastZone(20, true, 0, PongMessage{Type: MessagePong}); got != 0 {
		t.Errorf("delivered after clearing scope = %d, want 0", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newTestHub()
	conn := &fakeConn{}
	c := h.Connect(conn, ConnectionMeta{UserID: 1, SessionID: "s1", Channels: []string{"events"}})

	h.Disconnect(c)
	h.Disconnect(c)

	if !conn.closed {
		t.Error("underlying conn not closed")
	}
	if got := h.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", got)
	}
	if got := h.NotifyAll(PongMessage{Type: MessagePong}); got != 0 {
		t.Errorf("NotifyAll after disconnect delivered = %d, want 0", got)
	}
}

func TestSendFailureDropsOnlyThatConnection(t *testing.T) {
	h := newTestHub()
	healthy := &fakeConn{}
	broken := &fakeConn{failWith: errors.New("write: broken pipe")}
	h.Connect(healthy, ConnectionMeta{UserID: 1, SessionID: "s1"})
	h.Connect(broken, ConnectionMeta{UserID: 2, SessionID: "s2"})

	if got := h.NotifyAll(PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
	if !broken.closed {
		t.Error("failing connection not closed")
	}
	if got := h.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d, want 1 after self-heal", got)
	}
	if got := h.NotifyAll(PongMessage{Type: MessagePong}); got != 1 {
		t.Errorf("second NotifyAll delivered = %d, want 1", got)
	}
}

func TestNotifyUserTargetsAllUserConnections(t *testing.T) {
	h := newTestHub()
	desktop := &fakeConn{}
	mobile := &fakeConn{}
	other := &fakeConn{}
	h.Connect(desktop, ConnectionMeta{UserID: 1, SessionID: "s1"})
	h.Connect(mobile, ConnectionMeta{UserID: 1, SessionID: "s2"})
	h.Connect(other, ConnectionMeta{UserID: 2, SessionID: "s3"})

	if got := h.NotifyUser(1, PongMessage{Type: MessagePong}); got != 2 {
		t.Errorf("NotifyUser delivered = %d, want 2", got)
	}
	if other.count() != 0 {
		t.Error("other user's connection received targeted notify")
	}
}
