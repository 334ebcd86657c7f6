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

// ResourceRepository provides data access for related external resources.
type ResourceRepository interface {
	// FindOrCreate resolves a resource by URL (falling back to name when the
	// document carries no URL), backfilling fields on later sightings.
	FindOrCreate(ctx context.Context, res *models.Resource) error
}

type resourceRepository struct{}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository() ResourceRepository {
	return &resourceRepository{}
}

var _ ResourceRepository = (*resourceRepository)(nil)

func (r *resourceRepository) FindOrCreate(ctx context.Context, res *models.Resource) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	var query string
	var arg string
	if res.URL != "" {
		query = `SELECT id FROM resources WHERE url = $1 ORDER BY id LIMIT 1`
		arg = res.URL
	} else {
		query = `SELECT id FROM resources WHERE name = $1 ORDER BY id LIMIT 1`
		arg = res.Name
	}

	err := q.QueryRow(ctx, query, arg).Scan(&res.ID)
	if err == nil {
		update := `
			UPDATE resources
			SET identifier = COALESCE(NULLIF($2, ''), identifier),
			    name = COALESCE(NULLIF($3, ''), name),
			    repository = COALESCE(NULLIF($4, ''), repository),
			    relation = COALESCE(NULLIF($5, ''), relation),
			    resource_type = COALESCE(NULLIF($6, ''), resource_type)
			WHERE id = $1`
		if _, err := q.Exec(ctx, update, res.ID, res.Identifier, res.Name, res.Repository, res.Relation, res.ResourceType); err != nil {
			return fmt.Errorf("failed to update resource: %w", err)
		}
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to query resource: %w", err)
	}

	insert := `
		INSERT INTO resources (identifier, name, url, repository, relation, resource_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err = q.QueryRow(ctx, insert,
		res.Identifier, res.Name, res.URL, res.Repository, res.Relation, res.ResourceType,
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}
