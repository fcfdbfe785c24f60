package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"live-game-backend/internal/release/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// The policy row is a singleton with a fixed primary key.
const policyRowID = 1

type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository returns a release repository that uses the given db for persistence.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// GetPolicy returns the release policy singleton, or nil if it has never been written.
func (r *PostgresRepository) GetPolicy(ctx context.Context) (*domain.ReleasePolicy, error) {
	var (
		p            domain.ReleasePolicy
		enforceAfter sql.NullTime
		feedURL      sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT latest_version, min_supported_version, latest_content_version_key,
			min_supported_content_version_key, enforce_after, update_feed_url, updated_by, updated_at
		 FROM release_policy WHERE id = $1`, policyRowID,
	).Scan(&p.LatestVersion, &p.MinSupportedVersion, &p.LatestContentVersionKey,
		&p.MinSupportedContentVersionKey, &enforceAfter, &feedURL, &p.UpdatedBy, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if enforceAfter.Valid {
		p.EnforceAfter = &enforceAfter.Time
	}
	if feedURL.Valid {
		p.UpdateFeedURL = feedURL.String
	}
	return &p, nil
}

// UpsertPolicy writes the release policy singleton.
func (r *PostgresRepository) UpsertPolicy(ctx context.Context, p *domain.ReleasePolicy) error {
	var enforceAfter sql.NullTime
	if p.EnforceAfter != nil {
		enforceAfter = sql.NullTime{Time: *p.EnforceAfter, Valid: true}
	}
	feedURL := sql.NullString{String: strings.TrimSpace(p.UpdateFeedURL), Valid: strings.TrimSpace(p.UpdateFeedURL) != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO release_policy (id, latest_version, min_supported_version,
			latest_content_version_key, min_supported_content_version_key,
			enforce_after, update_feed_url, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (id) DO UPDATE SET
			latest_version = EXCLUDED.latest_version,
			min_supported_version = EXCLUDED.min_supported_version,
			latest_content_version_key = EXCLUDED.latest_content_version_key,
			min_supported_content_version_key = EXCLUDED.min_supported_content_version_key,
			enforce_after = EXCLUDED.enforce_after,
			update_feed_url = EXCLUDED.update_feed_url,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()`,
		policyRowID, p.LatestVersion, p.MinSupportedVersion,
		p.LatestContentVersionKey, p.MinSupportedContentVersionKey,
		enforceAfter, feedURL, p.UpdatedBy)
	return err
}

// CreateRecord appends one activation record and returns its id.
func (r *PostgresRepository) CreateRecord(ctx context.Context, rec *domain.ReleaseRecord) (int64, error) {
	var enforceAfter sql.NullTime
	if rec.EnforceAfter != nil {
		enforceAfter = sql.NullTime{Time: *rec.EnforceAfter, Valid: true}
	}
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO release_records (build_version, min_supported_version, content_version_key,
			min_supported_content_version_key, update_feed_url, build_release_notes,
			user_facing_notes, activated_by, enforce_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		rec.BuildVersion, rec.MinSupportedVersion, rec.ContentVersionKey,
		rec.MinSupportedContentVersionKey, rec.UpdateFeedURL, rec.BuildReleaseNotes,
		rec.UserFacingNotes, rec.ActivatedBy, enforceAfter,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LatestRecord returns the most recent activation record, or nil if none exist.
func (r *PostgresRepository) LatestRecord(ctx context.Context) (*domain.ReleaseRecord, error) {
	return r.queryRecord(ctx,
		recordSelect+" ORDER BY activated_at DESC, id DESC LIMIT 1")
}

// RecordForBuild returns the most recent activation record for the given build
// version, or nil when the build was never activated or buildVersion is blank.
func (r *PostgresRepository) RecordForBuild(ctx context.Context, buildVersion string) (*domain.ReleaseRecord, error) {
	buildVersion = strings.TrimSpace(buildVersion)
	if buildVersion == "" {
		return nil, nil
	}
	return r.queryRecord(ctx,
		recordSelect+" WHERE build_version = $1 ORDER BY activated_at DESC, id DESC LIMIT 1", buildVersion)
}

const recordSelect = `SELECT id, build_version, min_supported_version, content_version_key,
	min_supported_content_version_key, update_feed_url, build_release_notes,
	user_facing_notes, activated_by, enforce_after, activated_at
 FROM release_records`

func (r *PostgresRepository) queryRecord(ctx context.Context, query string, args ...any) (*domain.ReleaseRecord, error) {
	var (
		rec          domain.ReleaseRecord
		feedURL      sql.NullString
		enforceAfter sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.BuildVersion, &rec.MinSupportedVersion, &rec.ContentVersionKey,
		&rec.MinSupportedContentVersionKey, &feedURL, &rec.BuildReleaseNotes,
		&rec.UserFacingNotes, &rec.ActivatedBy, &enforceAfter, &rec.ActivatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if feedURL.Valid {
		rec.UpdateFeedURL = feedURL.String
	}
	if enforceAfter.Valid {
		rec.EnforceAfter = &enforceAfter.Time
	}
	return &rec, nil
}
