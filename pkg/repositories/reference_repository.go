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

// ReferenceRepository resolves typed vocabulary terms (species, approaches,
// measurement techniques, data standards, anatomy, sex values).
type ReferenceRepository interface {
	// FindOrCreate resolves a term by (kind, identifier) when an identifier
	// is present, else by (kind, name), creating the row on first sight.
	FindOrCreate(ctx context.Context, kind, identifier, name string) (*models.ReferenceTerm, error)
}

type referenceRepository struct{}

// NewReferenceRepository creates a new ReferenceRepository.
func NewReferenceRepository() ReferenceRepository {
	return &referenceRepository{}
}

var _ ReferenceRepository = (*referenceRepository)(nil)

func (r *referenceRepository) FindOrCreate(ctx context.Context, kind, identifier, name string) (*models.ReferenceTerm, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	var term models.ReferenceTerm
	var query string
	var arg string
	if identifier != "" {
		query = `SELECT id, kind, identifier, name FROM reference_terms WHERE kind = $1 AND identifier = $2 ORDER BY id LIMIT 1`
		arg = identifier
	} else {
		query = `SELECT id, kind, identifier, name FROM reference_terms WHERE kind = $1 AND name = $2 ORDER BY id LIMIT 1`
		arg = name
	}
	err := q.QueryRow(ctx, query, kind, arg).Scan(&term.ID, &term.Kind, &term.Identifier, &term.Name)
	if err == nil {
		return &term, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query %s term: %w", kind, err)
	}

	term = models.ReferenceTerm{Kind: kind, Identifier: identifier, Name: name}
	insert := `
		INSERT INTO reference_terms (kind, identifier, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, identifier, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`
	if err := q.QueryRow(ctx, insert, kind, identifier, name).Scan(&term.ID); err != nil {
		return nil, fmt.Errorf("failed to create %s term: %w", kind, err)
	}
	return &term, nil
}
