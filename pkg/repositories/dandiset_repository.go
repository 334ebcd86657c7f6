package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// DandisetRepository provides data access for dandiset version records.
type DandisetRepository interface {
	// Upsert creates or updates a dandiset by its full versioned id, filling
	// the row's ID and provenance fields. When the entry is marked latest,
	// the latest flag is first cleared on siblings of the same base id so the
	// partial unique index never sees two latest rows.
	Upsert(ctx context.Context, ds *models.Dandiset) (created bool, err error)
	GetByDandiID(ctx context.Context, dandiID string) (*models.Dandiset, error)
	// ListLatest returns all rows currently flagged latest.
	ListLatest(ctx context.Context) ([]*models.Dandiset, error)
	// DeleteByBaseID removes every version of a base id. Returns the number
	// of rows removed.
	DeleteByBaseID(ctx context.Context, baseID string) (int64, error)
	ReplaceAbout(ctx context.Context, dandisetID int64, termIDs []int64) error
	LinkAccess(ctx context.Context, dandisetID, accessID int64) error
	LinkResource(ctx context.Context, dandisetID, resourceID int64) error
	LinkActivity(ctx context.Context, dandisetID, activityID int64) error
}

type dandisetRepository struct{}

// NewDandisetRepository creates a new DandisetRepository.
func NewDandisetRepository() DandisetRepository {
	return &dandisetRepository{}
}

var _ DandisetRepository = (*dandisetRepository)(nil)

func (r *dandisetRepository) Upsert(ctx context.Context, ds *models.Dandiset) (bool, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return false, apperrors.ErrNoScope
	}

	if ds.IsLatest {
		// Clear siblings inside the same transaction; the partial unique
		// index on (base_id) WHERE is_latest enforces the invariant.
		clear := `UPDATE dandisets SET is_latest = FALSE WHERE base_id = $1 AND dandi_id <> $2 AND is_latest`
		if _, err := q.Exec(ctx, clear, ds.BaseID, ds.DandiID); err != nil {
			return false, fmt.Errorf("failed to clear latest flag on siblings of %s: %w", ds.BaseID, err)
		}
	}

	query := `
		INSERT INTO dandisets (
			dandi_id, identifier, base_id, version, version_order, is_draft,
			is_latest, schema_version, name, description,
			date_created, date_modified, date_published,
			license, keywords, study_target, protocol, manifest_location,
			citation, acknowledgement, url, repository, doi,
			created_by_sync, last_modified_by_sync, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $24, now()
		)
		ON CONFLICT (dandi_id) DO UPDATE SET
			identifier = EXCLUDED.identifier,
			version = EXCLUDED.version,
			version_order = EXCLUDED.version_order,
			is_draft = EXCLUDED.is_draft,
			is_latest = EXCLUDED.is_latest,
			schema_version = EXCLUDED.schema_version,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			date_created = COALESCE(EXCLUDED.date_created, dandisets.date_created),
			date_modified = COALESCE(EXCLUDED.date_modified, dandisets.date_modified),
			date_published = COALESCE(EXCLUDED.date_published, dandisets.date_published),
			license = COALESCE(EXCLUDED.license, dandisets.license),
			keywords = COALESCE(EXCLUDED.keywords, dandisets.keywords),
			study_target = COALESCE(EXCLUDED.study_target, dandisets.study_target),
			protocol = COALESCE(EXCLUDED.protocol, dandisets.protocol),
			manifest_location = COALESCE(EXCLUDED.manifest_location, dandisets.manifest_location),
			citation = EXCLUDED.citation,
			acknowledgement = EXCLUDED.acknowledgement,
			url = EXCLUDED.url,
			repository = EXCLUDED.repository,
			doi = EXCLUDED.doi,
			last_modified_by_sync = EXCLUDED.last_modified_by_sync,
			updated_at = now()
		RETURNING id, created_by_sync, created_at, updated_at, (xmax = 0) AS inserted`

	var created bool
	err := q.QueryRow(ctx, query,
		ds.DandiID,
		ds.Identifier,
		ds.BaseID,
		ds.Version,
		ds.VersionOrder,
		ds.IsDraft,
		ds.IsLatest,
		ds.SchemaVersion,
		ds.Name,
		ds.Description,
		ds.DateCreated,
		ds.DateModified,
		ds.DatePublished,
		jsonbStrings(ds.License),
		jsonbStrings(ds.Keywords),
		jsonbStrings(ds.StudyTarget),
		jsonbStrings(ds.Protocol),
		jsonbStrings(ds.ManifestLocation),
		ds.Citation,
		ds.Acknowledgement,
		ds.URL,
		ds.Repository,
		ds.DOI,
		ds.LastModifiedBySync,
	).Scan(&ds.ID, &ds.CreatedBySync, &ds.CreatedAt, &ds.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert dandiset %s: %w", ds.DandiID, err)
	}
	return created, nil
}

func (r *dandisetRepository) GetByDandiID(ctx context.Context, dandiID string) (*models.Dandiset, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	row := q.QueryRow(ctx, dandisetSelect+` WHERE dandi_id = $1`, dandiID)
	ds, err := scanDandiset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ds, nil
}

func (r *dandisetRepository) ListLatest(ctx context.Context) ([]*models.Dandiset, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	rows, err := q.Query(ctx, dandisetSelect+` WHERE is_latest ORDER BY base_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest dandisets: %w", err)
	}
	defer rows.Close()

	var out []*models.Dandiset
	for rows.Next() {
		ds, err := scanDandiset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dandisets: %w", err)
	}
	return out, nil
}

func (r *dandisetRepository) DeleteByBaseID(ctx context.Context, baseID string) (int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoScope
	}

	result, err := q.Exec(ctx, `DELETE FROM dandisets WHERE base_id = $1`, baseID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dandiset %s: %w", baseID, err)
	}
	return result.RowsAffected(), nil
}

// ReplaceAbout rewrites the subject-matter links to exactly termIDs.
func (r *dandisetRepository) ReplaceAbout(ctx context.Context, dandisetID int64, termIDs []int64) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	if _, err := q.Exec(ctx, `DELETE FROM dandiset_about WHERE dandiset_id = $1`, dandisetID); err != nil {
		return fmt.Errorf("failed to clear dandiset about links: %w", err)
	}
	for _, termID := range termIDs {
		_, err := q.Exec(ctx,
			`INSERT INTO dandiset_about (dandiset_id, term_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			dandisetID, termID)
		if err != nil {
			return fmt.Errorf("failed to link dandiset about term: %w", err)
		}
	}
	return nil
}

func (r *dandisetRepository) LinkAccess(ctx context.Context, dandisetID, accessID int64) error {
	return insertLink(ctx, "dandiset_access", "dandiset_id", "access_requirement_id", dandisetID, accessID)
}

func (r *dandisetRepository) LinkResource(ctx context.Context, dandisetID, resourceID int64) error {
	return insertLink(ctx, "dandiset_resources", "dandiset_id", "resource_id", dandisetID, resourceID)
}

func (r *dandisetRepository) LinkActivity(ctx context.Context, dandisetID, activityID int64) error {
	return insertLink(ctx, "dandiset_activities", "dandiset_id", "activity_id", dandisetID, activityID)
}

// insertLink inserts one row into a two-column join table, idempotently.
func insertLink(ctx context.Context, table, leftCol, rightCol string, left, right int64) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		table, leftCol, rightCol)
	if _, err := q.Exec(ctx, query, left, right); err != nil {
		return fmt.Errorf("failed to insert %s link: %w", table, err)
	}
	return nil
}

const dandisetSelect = `
	SELECT id, dandi_id, identifier, base_id, version, version_order, is_draft,
	       is_latest, schema_version, name, description,
	       date_created, date_modified, date_published,
	       license, keywords, study_target, protocol, manifest_location,
	       citation, acknowledgement, url, repository, doi,
	       created_by_sync, last_modified_by_sync, created_at, updated_at
	FROM dandisets`

func scanDandiset(row pgx.Row) (*models.Dandiset, error) {
	var ds models.Dandiset
	var license, keywords, studyTarget, protocol, manifestLocation []byte
	var dateCreated, dateModified, datePublished *time.Time

	err := row.Scan(
		&ds.ID,
		&ds.DandiID,
		&ds.Identifier,
		&ds.BaseID,
		&ds.Version,
		&ds.VersionOrder,
		&ds.IsDraft,
		&ds.IsLatest,
		&ds.SchemaVersion,
		&ds.Name,
		&ds.Description,
		&dateCreated,
		&dateModified,
		&datePublished,
		&license,
		&keywords,
		&studyTarget,
		&protocol,
		&manifestLocation,
		&ds.Citation,
		&ds.Acknowledgement,
		&ds.URL,
		&ds.Repository,
		&ds.DOI,
		&ds.CreatedBySync,
		&ds.LastModifiedBySync,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan dandiset: %w", err)
	}

	ds.DateCreated = dateCreated
	ds.DateModified = dateModified
	ds.DatePublished = datePublished

	for _, col := range []struct {
		data []byte
		dst  *[]string
	}{
		{license, &ds.License},
		{keywords, &ds.Keywords},
		{studyTarget, &ds.StudyTarget},
		{protocol, &ds.Protocol},
		{manifestLocation, &ds.ManifestLocation},
	} {
		if err := jsonUnmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dandiset list field: %w", err)
		}
	}

	return &ds, nil
}
