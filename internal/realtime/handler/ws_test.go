package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	characterrepo "live-game-backend/internal/character/repository"
	draindomain "live-game-backend/internal/drain/domain"
	"live-game-backend/internal/realtime"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []any
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.messages...)
}

type fakeCharacters struct {
	zone *int64
	err  error
}

func (f *fakeCharacters) ClearSelectedByUser(context.Context, int64) (int64, error) { return 0, nil }

func (f *fakeCharacters) SelectedZoneByUser(context.Context, int64) (*int64, error) {
	return f.zone, f.err
}

func newTestWSHandler(characters characterrepo.Repository) (*WSHandler, *realtime.Hub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub(logger)
	h := NewWSHandler(hub, nil, nil, nil, characters, nil, nil, nil, logger)
	return h, hub
}

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func TestZonePresenceRoutesToPayloadZone(t *testing.T) {
	h, hub := newTestWSHandler(nil)

	// Receiver scoped to zone 7 and an adjacent previewer of it.
	inZone := &fakeConn{}
	hub.Connect(inZone, realtime.ConnectionMeta{UserID: 2, ZoneLevelID: int64p(7)})
	previewer := &fakeConn{}
	hub.Connect(previewer, realtime.ConnectionMeta{UserID: 3, ZoneLevelID: int64p(2), AllowAdjacentPreview: true, AdjacentZoneIDs: []int64{7}})

	// Sender has no zone scope at all; the message's zone decides routing.
	senderConn := &fakeConn{}
	sender := hub.Connect(senderConn, realtime.ConnectionMeta{UserID: 1})

	msg := clientMessage{
		Type:        "zone_presence",
		ZoneLevelID: int64p(7),
		CharacterID: int64p(42),
		LocationX:   intp(10),
		LocationY:   intp(-3),
	}
	if err := h.handleMessage(context.Background(), senderConn, sender, 1, msg); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	for name, conn := range map[string]*fakeConn{"in-zone": inZone, "previewer": previewer} {
		got := conn.sent()
		if len(got) != 1 {
			t.Fatalf("%s received %d messages, want 1", name, len(got))
		}
		p, ok := got[0].(realtime.ZonePresenceMessage)
		if !ok {
			t.Fatalf("%s received %T, want ZonePresenceMessage", name, got[0])
		}
		if p.ZoneLevelID != 7 || p.UserID != 1 {
			t.Errorf("%s payload = %+v, want zone 7 from user 1", name, p)
		}
		if p.CharacterID == nil || *p.CharacterID != 42 {
			t.Errorf("%s CharacterID = %v, want 42", name, p.CharacterID)
		}
		if p.LocationX == nil || *p.LocationX != 10 || p.LocationY == nil || *p.LocationY != -3 {
			t.Errorf("%s location = (%v, %v), want (10, -3)", name, p.LocationX, p.LocationY)
		}
	}
	if got := senderConn.sent(); len(got) != 0 {
		t.Errorf("sender received %d messages, want 0 (excluded from own presence)", len(got))
	}
}

func TestZonePresenceIgnoresNonPositiveZone(t *testing.T) {
	h, hub := newTestWSHandler(nil)

	receiver := &fakeConn{}
	hub.Connect(receiver, realtime.ConnectionMeta{UserID: 2, ZoneLevelID: int64p(7)})
	senderConn := &fakeConn{}
	sender := hub.Connect(senderConn, realtime.ConnectionMeta{UserID: 1})

	for _, zone := range []*int64{nil, int64p(0), int64p(-4)} {
		msg := clientMessage{Type: "zone_presence", ZoneLevelID: zone}
		if err := h.handleMessage(context.Background(), senderConn, sender, 1, msg); err != nil {
			t.Fatalf("handleMessage(zone=%v) error = %v", zone, err)
		}
	}
	if got := receiver.sent(); len(got) != 0 {
		t.Errorf("receiver got %d messages, want 0 for missing or non-positive zones", len(got))
	}
	if got := senderConn.sent(); len(got) != 0 {
		t.Errorf("sender got %d messages, want none (dropped silently, no error reply)", len(got))
	}
}

func TestZoneScopeAckEchoesRequest(t *testing.T) {
	h, hub := newTestWSHandler(nil)
	conn := &fakeConn{}
	c := hub.Connect(conn, realtime.ConnectionMeta{UserID: 1})

	msg := clientMessage{Type: "zone_scope", ZoneLevelID: int64p(5), AllowAdjacentPreview: true, AdjacentZoneIDs: []int64{4, 6}}
	if err := h.handleMessage(context.Background(), conn, c, 1, msg); err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	got := conn.sent()
	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1 ack", len(got))
	}
	ack, ok := got[0].(realtime.ZoneScopeAckMessage)
	if !ok {
		t.Fatalf("got %T, want ZoneScopeAckMessage", got[0])
	}
	if ack.ZoneLevelID == nil || *ack.ZoneLevelID != 5 || !ack.AllowAdjacentPreview {
		t.Errorf("ack = %+v, want zone 5 with adjacent preview", ack)
	}
	if c.Meta().ZoneLevelID == nil || *c.Meta().ZoneLevelID != 5 {
		t.Errorf("connection zone = %v, want re-scoped to 5", c.Meta().ZoneLevelID)
	}
}

func TestConnectMetaSeedsZoneFromSelectedCharacter(t *testing.T) {
	h, _ := newTestWSHandler(&fakeCharacters{zone: int64p(9)})

	meta := h.connectMeta(context.Background(), 1, "sess-1")
	if meta.ZoneLevelID == nil || *meta.ZoneLevelID != 9 {
		t.Errorf("ZoneLevelID = %v, want selected character zone 9", meta.ZoneLevelID)
	}
	if meta.UserID != 1 || meta.SessionID != "sess-1" {
		t.Errorf("meta = %+v, want identity carried", meta)
	}
}

func TestConnectMetaUnscopedWhenLookupFails(t *testing.T) {
	h, _ := newTestWSHandler(&fakeCharacters{err: errors.New("db down")})

	meta := h.connectMeta(context.Background(), 1, "sess-1")
	if meta.ZoneLevelID != nil {
		t.Errorf("ZoneLevelID = %v, want nil when the lookup fails", meta.ZoneLevelID)
	}
}

func TestPublishStartedNoticeCarriesSecondsRemaining(t *testing.T) {
	deadline := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)
	secs := 90
	eventID := int64(11)
	reason := "publish"
	notice := publishStartedNotice(&draindomain.Decision{
		EventID:          &eventID,
		ReasonCode:       &reason,
		DeadlineAt:       &deadline,
		SecondsRemaining: &secs,
	})
	if notice.Type != realtime.MessagePublishStarted {
		t.Errorf("type = %q, want %q", notice.Type, realtime.MessagePublishStarted)
	}
	if notice.SecondsRemaining != 90 {
		t.Errorf("SecondsRemaining = %d, want 90", notice.SecondsRemaining)
	}
	if notice.GraceSeconds != 0 {
		t.Errorf("GraceSeconds = %d, want unset on the connect notice", notice.GraceSeconds)
	}
	if notice.EventID != 11 || !notice.DeadlineAt.Equal(deadline) {
		t.Errorf("notice = %+v, want event 11 with the decision deadline", notice)
	}
}
