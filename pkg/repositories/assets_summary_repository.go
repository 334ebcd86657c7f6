package repositories

import (
	"context"
	"fmt"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// AssetsSummaryRepository provides data access for per-dandiset statistical
// rollups.
type AssetsSummaryRepository interface {
	// Replace writes the summary for a dandiset, overwriting any previous one
	// and resetting its term links to exactly termIDs.
	Replace(ctx context.Context, summary *models.AssetsSummary, termIDs []int64) error
}

type assetsSummaryRepository struct{}

// NewAssetsSummaryRepository creates a new AssetsSummaryRepository.
func NewAssetsSummaryRepository() AssetsSummaryRepository {
	return &assetsSummaryRepository{}
}

var _ AssetsSummaryRepository = (*assetsSummaryRepository)(nil)

func (r *assetsSummaryRepository) Replace(ctx context.Context, summary *models.AssetsSummary, termIDs []int64) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		INSERT INTO assets_summaries (
			dandiset_id, number_of_bytes, number_of_files,
			number_of_subjects, number_of_samples, number_of_cells,
			variable_measured
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dandiset_id) DO UPDATE SET
			number_of_bytes = EXCLUDED.number_of_bytes,
			number_of_files = EXCLUDED.number_of_files,
			number_of_subjects = EXCLUDED.number_of_subjects,
			number_of_samples = EXCLUDED.number_of_samples,
			number_of_cells = EXCLUDED.number_of_cells,
			variable_measured = EXCLUDED.variable_measured
		RETURNING id`

	err := q.QueryRow(ctx, query,
		summary.DandisetID,
		summary.NumberOfBytes,
		summary.NumberOfFiles,
		summary.NumberOfSubjects,
		summary.NumberOfSamples,
		summary.NumberOfCells,
		jsonbStrings(summary.VariableMeasured),
	).Scan(&summary.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert assets summary: %w", err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM assets_summary_terms WHERE assets_summary_id = $1`, summary.ID); err != nil {
		return fmt.Errorf("failed to clear assets summary terms: %w", err)
	}
	for _, termID := range termIDs {
		_, err := q.Exec(ctx,
			`INSERT INTO assets_summary_terms (assets_summary_id, term_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			summary.ID, termID)
		if err != nil {
			return fmt.Errorf("failed to link assets summary term: %w", err)
		}
	}
	return nil
}
