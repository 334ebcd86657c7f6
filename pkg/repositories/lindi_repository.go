package repositories

import (
	"context"
	"fmt"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// LindiRepository provides data access for LINDI structural metadata records.
type LindiRepository interface {
	// Upsert writes an asset's enrichment record, replacing any previous one
	// (1:1 with the asset).
	Upsert(ctx context.Context, lm *models.LindiMetadata) error
}

type lindiRepository struct{}

// NewLindiRepository creates a new LindiRepository.
func NewLindiRepository() LindiRepository {
	return &lindiRepository{}
}

var _ LindiRepository = (*lindiRepository)(nil)

func (r *lindiRepository) Upsert(ctx context.Context, lm *models.LindiMetadata) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	if lm.ProcessingVersion == "" {
		lm.ProcessingVersion = models.LindiProcessingVersion
	}

	query := `
		INSERT INTO lindi_metadata (
			asset_id, structure_metadata, lindi_url, processing_version, sync_run_id
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id) DO UPDATE SET
			structure_metadata = EXCLUDED.structure_metadata,
			lindi_url = EXCLUDED.lindi_url,
			processing_version = EXCLUDED.processing_version,
			sync_run_id = EXCLUDED.sync_run_id,
			processed_at = now()
		RETURNING id, processed_at`

	err := q.QueryRow(ctx, query,
		lm.AssetID,
		lm.StructureMetadata,
		lm.LindiURL,
		lm.ProcessingVersion,
		lm.SyncRunID,
	).Scan(&lm.ID, &lm.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert lindi metadata for asset %d: %w", lm.AssetID, err)
	}
	return nil
}
