package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// ActivityRepository provides data access for provenance activities and the
// software tools associated with them.
type ActivityRepository interface {
	// FindOrCreate resolves an activity by (name, schema key), creating it on
	// first sight and backfilling description and dates on later sightings.
	FindOrCreate(ctx context.Context, a *models.Activity) error
	// FindOrCreateSoftware resolves software by (name, version).
	FindOrCreateSoftware(ctx context.Context, s *models.Software) error
	LinkSoftware(ctx context.Context, activityID, softwareID int64) error
}

type activityRepository struct{}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository() ActivityRepository {
	return &activityRepository{}
}

var _ ActivityRepository = (*activityRepository)(nil)

func (r *activityRepository) FindOrCreate(ctx context.Context, a *models.Activity) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		SELECT id, identifier, name, description, schema_key, start_date, end_date
		FROM activities
		WHERE name = $1 AND schema_key = $2
		ORDER BY id LIMIT 1`

	var existing models.Activity
	err := q.QueryRow(ctx, query, a.Name, a.SchemaKey).Scan(
		&existing.ID, &existing.Identifier, &existing.Name, &existing.Description,
		&existing.SchemaKey, &existing.StartDate, &existing.EndDate)
	if err == nil {
		update := `
			UPDATE activities
			SET identifier = COALESCE(NULLIF($2, ''), identifier),
			    description = COALESCE(NULLIF($3, ''), description),
			    start_date = COALESCE($4, start_date),
			    end_date = COALESCE($5, end_date)
			WHERE id = $1`
		if _, err := q.Exec(ctx, update, existing.ID, a.Identifier, a.Description, a.StartDate, a.EndDate); err != nil {
			return fmt.Errorf("failed to update activity: %w", err)
		}
		a.ID = existing.ID
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to query activity: %w", err)
	}

	insert := `
		INSERT INTO activities (identifier, name, description, schema_key, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err = q.QueryRow(ctx, insert,
		a.Identifier, a.Name, a.Description, a.SchemaKey, a.StartDate, a.EndDate,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func (r *activityRepository) FindOrCreateSoftware(ctx context.Context, s *models.Software) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		INSERT INTO software (identifier, name, version, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, version) DO UPDATE SET
			identifier = COALESCE(NULLIF(EXCLUDED.identifier, ''), software.identifier),
			url = COALESCE(NULLIF(EXCLUDED.url, ''), software.url)
		RETURNING id`

	err := q.QueryRow(ctx, query, s.Identifier, s.Name, s.Version, s.URL).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert software %s: %w", s.Name, err)
	}
	return nil
}

func (r *activityRepository) LinkSoftware(ctx context.Context, activityID, softwareID int64) error {
	return insertLink(ctx, "activity_software", "activity_id", "software_id", activityID, softwareID)
}
