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

// ParticipantRepository provides data access for experimental subjects.
type ParticipantRepository interface {
	// FindOrCreate resolves a participant by (identifier, species, sex).
	// Identifiers like "sub-01" repeat across dandisets, so species and sex
	// take part in the match to avoid conflating unrelated subjects.
	FindOrCreate(ctx context.Context, p *models.Participant) error
}

type participantRepository struct{}

// NewParticipantRepository creates a new ParticipantRepository.
func NewParticipantRepository() ParticipantRepository {
	return &participantRepository{}
}

var _ ParticipantRepository = (*participantRepository)(nil)

func (r *participantRepository) FindOrCreate(ctx context.Context, p *models.Participant) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		SELECT id
		FROM participants
		WHERE identifier = $1
		  AND species_id IS NOT DISTINCT FROM $2
		  AND sex_id IS NOT DISTINCT FROM $3
		ORDER BY id LIMIT 1`

	err := q.QueryRow(ctx, query, p.Identifier, p.SpeciesID, p.SexID).Scan(&p.ID)
	if err == nil {
		if len(p.Age) > 0 {
			if _, err := q.Exec(ctx, `UPDATE participants SET age = $2 WHERE id = $1`, p.ID, jsonbMap(p.Age)); err != nil {
				return fmt.Errorf("failed to update participant age: %w", err)
			}
		}
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to query participant: %w", err)
	}

	insert := `
		INSERT INTO participants (identifier, schema_key, species_id, sex_id, age)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err = q.QueryRow(ctx, insert,
		p.Identifier, p.SchemaKey, p.SpeciesID, p.SexID, jsonbMap(p.Age),
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}
