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

// AssetRepository provides data access for assets and their dandiset
// associations.
type AssetRepository interface {
	// Upsert creates or updates an asset by its archive-wide id, filling the
	// row's ID and provenance fields.
	Upsert(ctx context.Context, asset *models.Asset) (created bool, err error)
	GetByDandiAssetID(ctx context.Context, dandiAssetID string) (*models.Asset, error)
	// Associate links an asset to a dandiset with the path from the current
	// document, updating the path if the association already exists.
	Associate(ctx context.Context, assetID, dandisetID int64, path string) error
	// AssociationIDs returns the set of archive asset ids currently
	// associated with a dandiset.
	AssociationIDs(ctx context.Context, dandisetID int64) (map[string]int64, error)
	// RemoveAssociation deletes one asset↔dandiset link and then the asset
	// itself when that was its last association. Reports whether the asset
	// row was removed.
	RemoveAssociation(ctx context.Context, assetID, dandisetID int64) (assetDeleted bool, err error)
	// DeleteOrphans removes assets that no longer belong to any dandiset.
	DeleteOrphans(ctx context.Context) (int64, error)
	// ListLindiEligible returns NWB assets lacking an enrichment record
	// (or all NWB assets when includeProcessed is set), with the base id of
	// one owning dandiset for URL construction.
	ListLindiEligible(ctx context.Context, includeProcessed bool, limit int) ([]LindiCandidate, error)
	LinkAccess(ctx context.Context, assetID, accessID int64) error
	LinkTerm(ctx context.Context, assetID, termID int64) error
	LinkParticipant(ctx context.Context, assetID, participantID int64) error
	LinkActivity(ctx context.Context, assetID, activityID int64) error
}

// LindiCandidate pairs an asset with the dandiset base id used to build its
// enrichment URL.
type LindiCandidate struct {
	AssetID      int64
	DandiAssetID string
	DandisetBase string
}

type assetRepository struct{}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository() AssetRepository {
	return &assetRepository{}
}

var _ AssetRepository = (*assetRepository)(nil)

func (r *assetRepository) Upsert(ctx context.Context, asset *models.Asset) (bool, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return false, apperrors.ErrNoScope
	}

	query := `
		INSERT INTO assets (
			dandi_asset_id, identifier, schema_version, content_size,
			encoding_format, date_modified, date_published, blob_date_modified,
			digest, content_url, variable_measured,
			created_by_sync, last_modified_by_sync, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, now())
		ON CONFLICT (dandi_asset_id) DO UPDATE SET
			identifier = EXCLUDED.identifier,
			schema_version = EXCLUDED.schema_version,
			content_size = EXCLUDED.content_size,
			encoding_format = EXCLUDED.encoding_format,
			date_modified = COALESCE(EXCLUDED.date_modified, assets.date_modified),
			date_published = COALESCE(EXCLUDED.date_published, assets.date_published),
			blob_date_modified = COALESCE(EXCLUDED.blob_date_modified, assets.blob_date_modified),
			digest = COALESCE(EXCLUDED.digest, assets.digest),
			content_url = COALESCE(EXCLUDED.content_url, assets.content_url),
			variable_measured = COALESCE(EXCLUDED.variable_measured, assets.variable_measured),
			last_modified_by_sync = EXCLUDED.last_modified_by_sync,
			updated_at = now()
		RETURNING id, created_by_sync, created_at, updated_at, (xmax = 0) AS inserted`

	var created bool
	err := q.QueryRow(ctx, query,
		asset.DandiAssetID,
		asset.Identifier,
		asset.SchemaVersion,
		asset.ContentSize,
		asset.EncodingFormat,
		asset.DateModified,
		asset.DatePublished,
		asset.BlobDateModified,
		jsonbMap(asset.Digest),
		jsonbStrings(asset.ContentURL),
		jsonbStrings(asset.VariableMeasured),
		asset.LastModifiedBySync,
	).Scan(&asset.ID, &asset.CreatedBySync, &asset.CreatedAt, &asset.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert asset %s: %w", asset.DandiAssetID, err)
	}
	return created, nil
}

func (r *assetRepository) GetByDandiAssetID(ctx context.Context, dandiAssetID string) (*models.Asset, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	query := `
		SELECT id, dandi_asset_id, identifier, schema_version, content_size,
		       encoding_format, date_modified, date_published, blob_date_modified,
		       digest, content_url, variable_measured,
		       created_by_sync, last_modified_by_sync, created_at, updated_at
		FROM assets
		WHERE dandi_asset_id = $1`

	row := q.QueryRow(ctx, query, dandiAssetID)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return asset, nil
}

func (r *assetRepository) Associate(ctx context.Context, assetID, dandisetID int64, path string) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		INSERT INTO asset_dandisets (asset_id, dandiset_id, path)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_id, dandiset_id) DO UPDATE SET path = EXCLUDED.path`

	if _, err := q.Exec(ctx, query, assetID, dandisetID, path); err != nil {
		return fmt.Errorf("failed to associate asset with dandiset: %w", err)
	}
	return nil
}

func (r *assetRepository) AssociationIDs(ctx context.Context, dandisetID int64) (map[string]int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	query := `
		SELECT a.dandi_asset_id, a.id
		FROM asset_dandisets ad
		JOIN assets a ON a.id = ad.asset_id
		WHERE ad.dandiset_id = $1`

	rows, err := q.Query(ctx, query, dandisetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset associations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var dandiAssetID string
		var assetID int64
		if err := rows.Scan(&dandiAssetID, &assetID); err != nil {
			return nil, fmt.Errorf("failed to scan asset association: %w", err)
		}
		out[dandiAssetID] = assetID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset associations: %w", err)
	}
	return out, nil
}

func (r *assetRepository) RemoveAssociation(ctx context.Context, assetID, dandisetID int64) (bool, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return false, apperrors.ErrNoScope
	}

	_, err := q.Exec(ctx,
		`DELETE FROM asset_dandisets WHERE asset_id = $1 AND dandiset_id = $2`,
		assetID, dandisetID)
	if err != nil {
		return false, fmt.Errorf("failed to remove asset association: %w", err)
	}

	// The asset row survives as long as any other dandiset still references it.
	result, err := q.Exec(ctx, `
		DELETE FROM assets
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM asset_dandisets WHERE asset_id = $1)`,
		assetID)
	if err != nil {
		return false, fmt.Errorf("failed to delete orphaned asset: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *assetRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return 0, apperrors.ErrNoScope
	}

	result, err := q.Exec(ctx, `
		DELETE FROM assets a
		WHERE NOT EXISTS (SELECT 1 FROM asset_dandisets ad WHERE ad.asset_id = a.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned assets: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *assetRepository) ListLindiEligible(ctx context.Context, includeProcessed bool, limit int) ([]LindiCandidate, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	query := `
		SELECT a.id, a.dandi_asset_id, MIN(d.base_id)
		FROM assets a
		JOIN asset_dandisets ad ON ad.asset_id = a.id
		JOIN dandisets d ON d.id = ad.dandiset_id
		WHERE a.encoding_format = $1
		  AND ($2 OR NOT EXISTS (SELECT 1 FROM lindi_metadata lm WHERE lm.asset_id = a.id))
		GROUP BY a.id, a.dandi_asset_id
		ORDER BY a.dandi_asset_id`
	args := []any{models.EncodingFormatNWB, includeProcessed}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lindi candidates: %w", err)
	}
	defer rows.Close()

	var out []LindiCandidate
	for rows.Next() {
		var c LindiCandidate
		if err := rows.Scan(&c.AssetID, &c.DandiAssetID, &c.DandisetBase); err != nil {
			return nil, fmt.Errorf("failed to scan lindi candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lindi candidates: %w", err)
	}
	return out, nil
}

func (r *assetRepository) LinkAccess(ctx context.Context, assetID, accessID int64) error {
	return insertLink(ctx, "asset_access", "asset_id", "access_requirement_id", assetID, accessID)
}

func (r *assetRepository) LinkTerm(ctx context.Context, assetID, termID int64) error {
	return insertLink(ctx, "asset_terms", "asset_id", "term_id", assetID, termID)
}

func (r *assetRepository) LinkParticipant(ctx context.Context, assetID, participantID int64) error {
	return insertLink(ctx, "asset_participants", "asset_id", "participant_id", assetID, participantID)
}

func (r *assetRepository) LinkActivity(ctx context.Context, assetID, activityID int64) error {
	return insertLink(ctx, "asset_activities", "asset_id", "activity_id", assetID, activityID)
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var a models.Asset
	var dateModified, datePublished, blobDateModified *time.Time
	var digest, contentURL, variableMeasured []byte

	err := row.Scan(
		&a.ID,
		&a.DandiAssetID,
		&a.Identifier,
		&a.SchemaVersion,
		&a.ContentSize,
		&a.EncodingFormat,
		&dateModified,
		&datePublished,
		&blobDateModified,
		&digest,
		&contentURL,
		&variableMeasured,
		&a.CreatedBySync,
		&a.LastModifiedBySync,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}

	a.DateModified = dateModified
	a.DatePublished = datePublished
	a.BlobDateModified = blobDateModified

	if err := jsonUnmarshal(digest, &a.Digest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset digest: %w", err)
	}
	if err := jsonUnmarshal(contentURL, &a.ContentURL); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset content urls: %w", err)
	}
	if err := jsonUnmarshal(variableMeasured, &a.VariableMeasured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset variables: %w", err)
	}
	return &a, nil
}
