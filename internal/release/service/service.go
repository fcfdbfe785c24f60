// Package service coordinates release activation: moving the version floor,
// recording the activation, and kicking off the publish drain that migrates
// live sessions onto the new release.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	draindomain "live-game-backend/internal/drain/domain"
	drainsvc "live-game-backend/internal/drain/service"
	"live-game-backend/internal/realtime"
	"live-game-backend/internal/release/domain"
	"live-game-backend/internal/release/repository"
)

// Broadcaster is the slice of the hub the release service uses.
type Broadcaster interface {
	NotifyForceUpdate(msg realtime.ForceUpdateMessage) int
}

// Orchestrator is the slice of the drain service the release service uses.
type Orchestrator interface {
	EnsureCapacity(ctx context.Context) error
	Start(ctx context.Context, in drainsvc.StartInput) (*draindomain.Event, error)
}

// Scheduler starts the countdown for a drain event.
type Scheduler interface {
	Schedule(eventID int64)
}

type Service struct {
	repo         repository.Repository
	orch         Orchestrator
	scheduler    Scheduler
	hub          Broadcaster
	graceDefault int
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(repo repository.Repository, orch Orchestrator, scheduler Scheduler, hub Broadcaster, graceMinutesDefault int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if graceMinutesDefault < 0 {
		graceMinutesDefault = 0
	}
	return &Service{
		repo:         repo,
		orch:         orch,
		scheduler:    scheduler,
		hub:          hub,
		graceDefault: graceMinutesDefault,
		logger:       logger,
		now:          time.Now,
	}
}

// ActivateInput describes one release activation. GraceMinutes nil uses the
// configured default.
type ActivateInput struct {
	BuildVersion                  string
	MinSupportedVersion           string
	ContentVersionKey             string
	MinSupportedContentVersionKey string
	UpdateFeedURL                 string
	BuildReleaseNotes             string
	UserFacingNotes               string
	ActivatedBy                   string
	EnforceAfter                  *time.Time
	GraceMinutes                  *int
	Notes                         string
}

// Activation is the outcome of one activation: the new policy, the history
// record, and the drain event (nil when drain orchestration is disabled).
type Activation struct {
	Policy *domain.ReleasePolicy
	Record *domain.ReleaseRecord
	Event  *draindomain.Event
}

// Activate moves the release floor and starts the publish drain. The capacity
// pre-check runs before any write so a conflicting activation changes nothing;
// the orchestrator re-checks inside its transaction. After the writes, the
// force_update notice goes out and the countdown is scheduled.
func (s *Service) Activate(ctx context.Context, in ActivateInput) (*Activation, error) {
	if err := s.orch.EnsureCapacity(ctx); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	activatedBy := in.ActivatedBy
	if activatedBy == "" {
		activatedBy = "system"
	}
	grace := s.graceDefault
	if in.GraceMinutes != nil && *in.GraceMinutes >= 0 {
		grace = *in.GraceMinutes
	}

	// Defaulting rules: the minimum supported build follows the new latest
	// unless the operator widens the floor explicitly, enforcement arms at the
	// end of the grace window, and blank content keys resolve to the key that
	// is (or becomes) active.
	minVersion := in.MinSupportedVersion
	if minVersion == "" {
		minVersion = in.BuildVersion
	}
	enforceAfter := in.EnforceAfter
	if enforceAfter == nil {
		t := now.Add(time.Duration(grace) * time.Minute)
		enforceAfter = &t
	}
	contentKey := domain.NormalizeContentKey(in.ContentVersionKey)
	if contentKey == domain.UnknownContentKey {
		if current, err := s.repo.GetPolicy(ctx); err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		} else if current != nil {
			contentKey = domain.NormalizeContentKey(current.LatestContentVersionKey)
		}
	}
	minContentKey := domain.NormalizeContentKey(in.MinSupportedContentVersionKey)
	if minContentKey == domain.UnknownContentKey {
		minContentKey = contentKey
	}

	policy := &domain.ReleasePolicy{
		LatestVersion:                 in.BuildVersion,
		MinSupportedVersion:           minVersion,
		LatestContentVersionKey:       contentKey,
		MinSupportedContentVersionKey: minContentKey,
		EnforceAfter:                  enforceAfter,
		UpdateFeedURL:                 in.UpdateFeedURL,
		UpdatedBy:                     activatedBy,
		UpdatedAt:                     now,
	}
	if err := s.repo.UpsertPolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("upsert policy: %w", err)
	}

	record := &domain.ReleaseRecord{
		BuildVersion:                  in.BuildVersion,
		MinSupportedVersion:           minVersion,
		ContentVersionKey:             contentKey,
		MinSupportedContentVersionKey: minContentKey,
		UpdateFeedURL:                 in.UpdateFeedURL,
		BuildReleaseNotes:             in.BuildReleaseNotes,
		UserFacingNotes:               in.UserFacingNotes,
		ActivatedBy:                   activatedBy,
		EnforceAfter:                  enforceAfter,
		ActivatedAt:                   now,
	}
	recordID, err := s.repo.CreateRecord(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create release record: %w", err)
	}
	record.ID = recordID

	event, err := s.orch.Start(ctx, drainsvc.StartInput{
		TriggerType:       "release_activation",
		ReasonCode:        "publish",
		InitiatedBy:       activatedBy,
		ContentVersionID:  &recordID,
		ContentVersionKey: contentKey,
		BuildVersion:      in.BuildVersion,
		GraceMinutes:      grace,
		Notes:             in.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("start drain: %w", err)
	}

	if s.hub != nil {
		enforceActive := policy.EnforceAfter != nil && !now.Before(*policy.EnforceAfter)
		s.hub.NotifyForceUpdate(realtime.ForceUpdateMessage{
			LatestVersion:                 policy.LatestVersion,
			MinSupportedVersion:           policy.MinSupportedVersion,
			LatestContentVersionKey:       policy.LatestContentVersionKey,
			MinSupportedContentVersionKey: policy.MinSupportedContentVersionKey,
			UpdateFeedURL:                 policy.UpdateFeedURL,
			EnforceAfter:                  policy.EnforceAfter,
			ForceUpdate:                   enforceActive,
			ContentUpdateRequired:         true,
		})
	}
	if event != nil && s.scheduler != nil {
		s.scheduler.Schedule(event.ID)
	}

	s.logger.Info("release activated",
		"build_version", in.BuildVersion,
		"content_version_key", contentKey,
		"activated_by", activatedBy,
		"drain_event", event != nil)
	return &Activation{Policy: policy, Record: record, Event: event}, nil
}

// Status returns the current policy and the latest activation record. Both may
// be nil before the first activation.
type Status struct {
	Policy       *domain.ReleasePolicy
	LatestRecord *domain.ReleaseRecord
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	policy, err := s.repo.GetPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	record, err := s.repo.LatestRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest record: %w", err)
	}
	return &Status{Policy: policy, LatestRecord: record}, nil
}

// Summary is the client-facing release evaluation plus the user-facing notes
// of the latest activation.
type Summary struct {
	Decision        domain.Decision
	UserFacingNotes string
}

// Summarize evaluates the client's versions against the current policy. With
// no policy written yet, everything passes and the decision is all-clear.
func (s *Service) Summarize(ctx context.Context, clientVersion, clientContentKey string) (*Summary, error) {
	policy, err := s.repo.GetPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if policy == nil {
		return &Summary{Decision: domain.Decision{
			ClientVersion:           clientVersion,
			ClientContentVersionKey: domain.NormalizeContentKey(clientContentKey),
		}}, nil
	}
	decision := domain.Evaluate(policy, clientVersion, clientContentKey, s.now().UTC())
	summary := &Summary{Decision: decision}
	if record, err := s.repo.LatestRecord(ctx); err == nil && record != nil {
		summary.UserFacingNotes = record.UserFacingNotes
	}
	return summary, nil
}

// EvaluateClient gates one authenticated request. Nil policy means no gate.
func (s *Service) EvaluateClient(ctx context.Context, clientVersion, clientContentKey string) (*domain.Decision, error) {
	policy, err := s.repo.GetPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if policy == nil {
		return nil, nil
	}
	d := domain.Evaluate(policy, clientVersion, clientContentKey, s.now().UTC())
	return &d, nil
}
