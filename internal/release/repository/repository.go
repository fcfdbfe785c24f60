package repository

import (
	"context"

	"live-game-backend/internal/release/domain"
)

// Repository defines persistence for the release policy singleton and the
// append-only activation history.
type Repository interface {
	GetPolicy(ctx context.Context) (*domain.ReleasePolicy, error)
	UpsertPolicy(ctx context.Context, p *domain.ReleasePolicy) error
	CreateRecord(ctx context.Context, rec *domain.ReleaseRecord) (int64, error)
	LatestRecord(ctx context.Context) (*domain.ReleaseRecord, error)
	RecordForBuild(ctx context.Context, buildVersion string) (*domain.ReleaseRecord, error)
}
