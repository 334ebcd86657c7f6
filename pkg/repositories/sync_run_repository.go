package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// SyncRunRepository provides data access for the sync ledger.
type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Finalize(ctx context.Context, run *models.SyncRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	// LatestCompletedRun returns the most recent completed run whose scope
	// covers syncType, or nil when none exists. Its LastSyncTimestamp is the
	// watermark for the next run of that scope.
	LatestCompletedRun(ctx context.Context, syncType string) (*models.SyncRun, error)
}

type syncRunRepository struct{}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository() SyncRunRepository {
	return &syncRunRepository{}
}

var _ SyncRunRepository = (*syncRunRepository)(nil)

func (r *syncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.SyncStatusRunning
	}

	query := `
		INSERT INTO sync_runs (id, sync_type, status)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	err := q.QueryRow(ctx, query, run.ID, run.SyncType, run.Status).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// Finalize writes the terminal state of a run: status, counts, duration and
// the watermark timestamp. It is called exactly once per run.
func (r *syncRunRepository) Finalize(ctx context.Context, run *models.SyncRun) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		UPDATE sync_runs
		SET status = $2,
		    last_sync_timestamp = $3,
		    dandisets_checked = $4,
		    dandisets_updated = $5,
		    dandisets_deleted = $6,
		    assets_checked = $7,
		    assets_updated = $8,
		    assets_deleted = $9,
		    lindi_processed = $10,
		    duration_seconds = $11,
		    error_message = $12
		WHERE id = $1`

	var lastSync *time.Time
	if !run.LastSyncTimestamp.IsZero() {
		lastSync = &run.LastSyncTimestamp
	}

	result, err := q.Exec(ctx, query,
		run.ID,
		run.Status,
		lastSync,
		run.DandisetsChecked,
		run.DandisetsUpdated,
		run.DandisetsDeleted,
		run.AssetsChecked,
		run.AssetsUpdated,
		run.AssetsDeleted,
		run.LindiProcessed,
		run.DurationSeconds,
		nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s not found", run.ID)
	}
	return nil
}

func (r *syncRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	row := q.QueryRow(ctx, syncRunSelect+` WHERE id = $1`, id)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *syncRunRepository) LatestCompletedRun(ctx context.Context, syncType string) (*models.SyncRun, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	// A full run covers every scope; any other scope covers only itself.
	query := syncRunSelect + `
		WHERE status = $1
		  AND last_sync_timestamp IS NOT NULL
		  AND (sync_type = $2 OR sync_type = $3)
		ORDER BY created_at DESC
		LIMIT 1`

	row := q.QueryRow(ctx, query, models.SyncStatusCompleted, syncType, models.SyncTypeFull)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

const syncRunSelect = `
	SELECT id, sync_type, status, last_sync_timestamp,
	       dandisets_checked, dandisets_updated, dandisets_deleted,
	       assets_checked, assets_updated, assets_deleted,
	       lindi_processed, duration_seconds, error_message, created_at
	FROM sync_runs`

func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	var lastSync *time.Time
	var errorMessage *string

	err := row.Scan(
		&run.ID,
		&run.SyncType,
		&run.Status,
		&lastSync,
		&run.DandisetsChecked,
		&run.DandisetsUpdated,
		&run.DandisetsDeleted,
		&run.AssetsChecked,
		&run.AssetsUpdated,
		&run.AssetsDeleted,
		&run.LindiProcessed,
		&run.DurationSeconds,
		&errorMessage,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	if lastSync != nil {
		run.LastSyncTimestamp = *lastSync
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	return &run, nil
}
