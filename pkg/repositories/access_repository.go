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

// AccessRepository provides data access for access requirements and their
// contact points.
type AccessRepository interface {
	// FindOrCreate resolves an access requirement by (status, schema key,
	// contact point, embargo date), creating it on first sight. Requirements
	// are shared: many dandisets and assets point at the same row.
	FindOrCreate(ctx context.Context, req *models.AccessRequirement) error
	FindOrCreateContactPoint(ctx context.Context, email, url string) (*models.ContactPoint, error)
}

type accessRepository struct{}

// NewAccessRepository creates a new AccessRepository.
func NewAccessRepository() AccessRepository {
	return &accessRepository{}
}

var _ AccessRepository = (*accessRepository)(nil)

func (r *accessRepository) FindOrCreate(ctx context.Context, req *models.AccessRequirement) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		SELECT id
		FROM access_requirements
		WHERE status = $1
		  AND schema_key = $2
		  AND contact_point_id IS NOT DISTINCT FROM $3
		  AND embargoed_until IS NOT DISTINCT FROM $4
		ORDER BY id LIMIT 1`

	err := q.QueryRow(ctx, query, req.Status, req.SchemaKey, req.ContactPointID, req.EmbargoedUntil).Scan(&req.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to query access requirement: %w", err)
	}

	insert := `
		INSERT INTO access_requirements (status, schema_key, contact_point_id, embargoed_until)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err = q.QueryRow(ctx, insert,
		req.Status, req.SchemaKey, req.ContactPointID, req.EmbargoedUntil,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("failed to create access requirement: %w", err)
	}
	return nil
}

func (r *accessRepository) FindOrCreateContactPoint(ctx context.Context, email, url string) (*models.ContactPoint, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	var cp models.ContactPoint
	query := `SELECT id, email, url FROM contact_points WHERE email = $1 AND url = $2 ORDER BY id LIMIT 1`
	err := q.QueryRow(ctx, query, email, url).Scan(&cp.ID, &cp.Email, &cp.URL)
	if err == nil {
		return &cp, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query contact point: %w", err)
	}

	cp.Email = email
	cp.URL = url
	err = q.QueryRow(ctx,
		`INSERT INTO contact_points (email, url) VALUES ($1, $2) RETURNING id`,
		email, url,
	).Scan(&cp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact point: %w", err)
	}
	return &cp, nil
}
