package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	draindomain "live-game-backend/internal/drain/domain"
	drainrepo "live-game-backend/internal/drain/repository"
	drainsvc "live-game-backend/internal/drain/service"
	"live-game-backend/internal/realtime"
	releasedomain "live-game-backend/internal/release/domain"
	releasesvc "live-game-backend/internal/release/service"
)

type fakeReleaseRepo struct {
	policy *releasedomain.ReleasePolicy
	record *releasedomain.ReleaseRecord
}

func (f *fakeReleaseRepo) GetPolicy(context.Context) (*releasedomain.ReleasePolicy, error) {
	return f.policy, nil
}

func (f *fakeReleaseRepo) UpsertPolicy(_ context.Context, p *releasedomain.ReleasePolicy) error {
	f.policy = p
	return nil
}

func (f *fakeReleaseRepo) CreateRecord(_ context.Context, rec *releasedomain.ReleaseRecord) (int64, error) {
	rec.ID = 7
	f.record = rec
	return 7, nil
}

func (f *fakeReleaseRepo) LatestRecord(context.Context) (*releasedomain.ReleaseRecord, error) {
	return f.record, nil
}

func (f *fakeReleaseRepo) RecordForBuild(context.Context, string) (*releasedomain.ReleaseRecord, error) {
	return f.record, nil
}

type fakeOrchestrator struct {
	capacityErr error
	event       *draindomain.Event
}

func (f *fakeOrchestrator) EnsureCapacity(context.Context) error { return f.capacityErr }

func (f *fakeOrchestrator) Start(context.Context, drainsvc.StartInput) (*draindomain.Event, error) {
	if f.capacityErr != nil {
		return nil, f.capacityErr
	}
	return f.event, nil
}

type fakeScheduler struct{ scheduled []int64 }

func (f *fakeScheduler) Schedule(eventID int64) { f.scheduled = append(f.scheduled, eventID) }

type fakeBroadcaster struct{}

func (fakeBroadcaster) NotifyForceUpdate(realtime.ForceUpdateMessage) int { return 0 }

type fakeDrains struct {
	events map[int64]*draindomain.Event
	audits map[int64][]*draindomain.SessionAudit
}

func (f *fakeDrains) GetEvent(_ context.Context, id int64) (*draindomain.Event, error) {
	return f.events[id], nil
}

func (f *fakeDrains) ListRecent(context.Context, int) ([]*draindomain.Event, error) {
	out := make([]*draindomain.Event, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeDrains) ListAuditsByEvent(_ context.Context, eventID int64) ([]*draindomain.SessionAudit, error) {
	return f.audits[eventID], nil
}

func (f *fakeDrains) AggregateMetrics(context.Context) (*drainrepo.Metrics, error) {
	return &drainrepo.Metrics{EventsTotal: 4, EventsActive: 1, PersistFailedTotal: 2, SessionsRevokedTotal: 9}, nil
}

const testToken = "test-ops-token"

func newTestHandler(orch *fakeOrchestrator, drains *fakeDrains) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	releases := releasesvc.NewService(&fakeReleaseRepo{}, orch, &fakeScheduler{}, fakeBroadcaster{}, 5, logger)
	if drains == nil {
		drains = &fakeDrains{events: map[int64]*draindomain.Event{}}
	}
	mux := http.NewServeMux()
	NewOpsHandler(testToken, releases, drains, logger).Register(mux)
	return mux
}

func TestGuardRejectsBadToken(t *testing.T) {
	mux := newTestHandler(&fakeOrchestrator{}, nil)

	for _, token := range []string{"", "wrong-token"} {
		req := httptest.NewRequest(http.MethodGet, "/ops/metrics/drain", nil)
		if token != "" {
			req.Header.Set("X-Ops-Token", token)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestGuardRejectsAllWhenTokenUnconfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	releases := releasesvc.NewService(&fakeReleaseRepo{}, &fakeOrchestrator{}, &fakeScheduler{}, fakeBroadcaster{}, 5, logger)
	mux := http.NewServeMux()
	NewOpsHandler("", releases, &fakeDrains{events: map[int64]*draindomain.Event{}}, logger).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/ops/metrics/drain", nil)
	req.Header.Set("X-Ops-Token", "")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestActivateConflict(t *testing.T) {
	mux := newTestHandler(&fakeOrchestrator{capacityErr: drainsvc.ErrDrainConflict}, nil)

	body := `{"build_version":"1.4.0","content_version_key":"content-2026.02"}`
	req := httptest.NewRequest(http.MethodPost, "/ops/release/activate", strings.NewReader(body))
	req.Header.Set("X-Ops-Token", testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Code != "drain_conflict" {
		t.Errorf("code = %q, want %q", out.Code, "drain_conflict")
	}
}

func TestActivateRequiresBuildVersion(t *testing.T) {
	mux := newTestHandler(&fakeOrchestrator{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/ops/release/activate", strings.NewReader(`{}`))
	req.Header.Set("X-Ops-Token", testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestListAuditsUnknownDrain(t *testing.T) {
	mux := newTestHandler(&fakeOrchestrator{}, &fakeDrains{events: map[int64]*draindomain.Event{}})

	req := httptest.NewRequest(http.MethodGet, "/ops/drains/42/sessions", nil)
	req.Header.Set("X-Ops-Token", testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListAuditsReturnsDrainAndSessions(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	drains := &fakeDrains{
		events: map[int64]*draindomain.Event{
			42: {ID: 42, TriggerType: "release_activation", ReasonCode: "publish", InitiatedBy: "ops", ContentVersionKey: "content-2026.02", GraceSeconds: 300, StartedAt: now, DeadlineAt: now.Add(5 * time.Minute), Status: draindomain.StatusDraining},
		},
		audits: map[int64][]*draindomain.SessionAudit{
			42: {
				{EventID: 42, SessionID: "sess-1", UserID: 1, PersistedOK: true, DespawnedOK: true, CreatedAt: now},
				{EventID: 42, SessionID: "sess-2", UserID: 2, PersistedOK: false, Detail: "flush_failed: timeout", CreatedAt: now},
			},
		},
	}
	mux := newTestHandler(&fakeOrchestrator{}, drains)

	req := httptest.NewRequest(http.MethodGet, "/ops/drains/42/sessions", nil)
	req.Header.Set("X-Ops-Token", testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out struct {
		Drain    eventPayload   `json:"drain"`
		Sessions []auditPayload `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Drain.ID != 42 {
		t.Errorf("drain id = %d, want 42", out.Drain.ID)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(out.Sessions))
	}
	if out.Sessions[1].Detail != "flush_failed: timeout" {
		t.Errorf("detail = %q, want flush failure detail", out.Sessions[1].Detail)
	}
}

func TestDrainMetrics(t *testing.T) {
	mux := newTestHandler(&fakeOrchestrator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ops/metrics/drain", nil)
	req.Header.Set("X-Ops-Token", testToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["events_total"] != 4 || out["events_active"] != 1 {
		t.Errorf("metrics = %v, want events_total=4 events_active=1", out)
	}
	if out["sessions_revoked_total"] != 9 {
		t.Errorf("sessions_revoked_total = %d, want 9", out["sessions_revoked_total"])
	}
}
