package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
)

// ContributorRepository provides data access for contributors, their
// affiliations and their per-dandiset links.
type ContributorRepository interface {
	// FindByIdentifier / FindByEmail / FindByName are the ordered matcher
	// lookups; each returns nil when no row matches.
	FindByIdentifier(ctx context.Context, identifier string) (*models.Contributor, error)
	FindByEmail(ctx context.Context, email string) (*models.Contributor, error)
	FindByName(ctx context.Context, name string) (*models.Contributor, error)
	Create(ctx context.Context, c *models.Contributor) error
	// Update backfills fields onto a matched contributor without blanking
	// anything the document does not supply.
	Update(ctx context.Context, c *models.Contributor) error
	// MergeDandisetLink creates or updates the dandiset↔contributor link.
	// Roles are merged as a set union with whatever the link already holds;
	// includeInCitation is only written when the document carries it.
	MergeDandisetLink(ctx context.Context, dandisetID, contributorID int64, roles []string, includeInCitation *bool) error
	GetDandisetLink(ctx context.Context, dandisetID, contributorID int64) (*models.DandisetContributor, error)
	FindOrCreateAffiliation(ctx context.Context, identifier, name string) (*models.Affiliation, error)
	LinkAffiliation(ctx context.Context, contributorID, affiliationID int64) error
}

type contributorRepository struct{}

// NewContributorRepository creates a new ContributorRepository.
func NewContributorRepository() ContributorRepository {
	return &contributorRepository{}
}

var _ ContributorRepository = (*contributorRepository)(nil)

const contributorSelect = `
	SELECT id, identifier, name, email, url, award_number, schema_key
	FROM contributors`

func (r *contributorRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Contributor, error) {
	return r.findOne(ctx, contributorSelect+` WHERE identifier = $1 ORDER BY id LIMIT 1`, identifier)
}

func (r *contributorRepository) FindByEmail(ctx context.Context, email string) (*models.Contributor, error) {
	return r.findOne(ctx, contributorSelect+` WHERE email = $1 ORDER BY id LIMIT 1`, email)
}

func (r *contributorRepository) FindByName(ctx context.Context, name string) (*models.Contributor, error) {
	return r.findOne(ctx, contributorSelect+` WHERE name = $1 ORDER BY id LIMIT 1`, name)
}

func (r *contributorRepository) findOne(ctx context.Context, query string, arg any) (*models.Contributor, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	var c models.Contributor
	err := q.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Identifier, &c.Name, &c.Email, &c.URL, &c.AwardNumber, &c.SchemaKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query contributor: %w", err)
	}
	return &c, nil
}

func (r *contributorRepository) Create(ctx context.Context, c *models.Contributor) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	query := `
		INSERT INTO contributors (identifier, name, email, url, award_number, schema_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := q.QueryRow(ctx, query,
		c.Identifier, c.Name, c.Email, c.URL, c.AwardNumber, c.SchemaKey,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create contributor: %w", err)
	}
	return nil
}

func (r *contributorRepository) Update(ctx context.Context, c *models.Contributor) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	// NULLIF/COALESCE keeps existing values where the document is silent.
	query := `
		UPDATE contributors
		SET identifier = COALESCE(NULLIF($2, ''), identifier),
		    name = COALESCE(NULLIF($3, ''), name),
		    email = COALESCE(NULLIF($4, ''), email),
		    url = COALESCE(NULLIF($5, ''), url),
		    award_number = COALESCE(NULLIF($6, ''), award_number),
		    schema_key = COALESCE(NULLIF($7, ''), schema_key)
		WHERE id = $1`

	result, err := q.Exec(ctx, query,
		c.ID, c.Identifier, c.Name, c.Email, c.URL, c.AwardNumber, c.SchemaKey)
	if err != nil {
		return fmt.Errorf("failed to update contributor: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("contributor %d not found", c.ID)
	}
	return nil
}

func (r *contributorRepository) MergeDandisetLink(ctx context.Context, dandisetID, contributorID int64, roles []string, includeInCitation *bool) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return apperrors.ErrNoScope
	}

	existing, err := r.GetDandisetLink(ctx, dandisetID, contributorID)
	if err != nil {
		return err
	}

	merged := roles
	include := true
	if existing != nil {
		merged = unionRoles(existing.RoleName, roles)
		include = existing.IncludeInCitation
	}
	if includeInCitation != nil {
		include = *includeInCitation
	}

	query := `
		INSERT INTO dandiset_contributors (dandiset_id, contributor_id, role_name, include_in_citation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dandiset_id, contributor_id) DO UPDATE SET
			role_name = EXCLUDED.role_name,
			include_in_citation = EXCLUDED.include_in_citation`

	if _, err := q.Exec(ctx, query, dandisetID, contributorID, jsonbStrings(merged), include); err != nil {
		return fmt.Errorf("failed to merge dandiset contributor link: %w", err)
	}
	return nil
}

func (r *contributorRepository) GetDandisetLink(ctx context.Context, dandisetID, contributorID int64) (*models.DandisetContributor, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	query := `
		SELECT id, dandiset_id, contributor_id, role_name, include_in_citation
		FROM dandiset_contributors
		WHERE dandiset_id = $1 AND contributor_id = $2`

	var link models.DandisetContributor
	var roleName []byte
	err := q.QueryRow(ctx, query, dandisetID, contributorID).Scan(
		&link.ID, &link.DandisetID, &link.ContributorID, &roleName, &link.IncludeInCitation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query dandiset contributor link: %w", err)
	}
	if err := jsonUnmarshal(roleName, &link.RoleName); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contributor roles: %w", err)
	}
	return &link, nil
}

func (r *contributorRepository) FindOrCreateAffiliation(ctx context.Context, identifier, name string) (*models.Affiliation, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.ErrNoScope
	}

	var a models.Affiliation
	var query string
	var arg string
	if identifier != "" {
		query = `SELECT id, identifier, name FROM affiliations WHERE identifier = $1 ORDER BY id LIMIT 1`
		arg = identifier
	} else {
		query = `SELECT id, identifier, name FROM affiliations WHERE name = $1 ORDER BY id LIMIT 1`
		arg = name
	}
	err := q.QueryRow(ctx, query, arg).Scan(&a.ID, &a.Identifier, &a.Name)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query affiliation: %w", err)
	}

	a.Identifier = identifier
	a.Name = name
	err = q.QueryRow(ctx,
		`INSERT INTO affiliations (identifier, name) VALUES ($1, $2) RETURNING id`,
		identifier, name,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create affiliation: %w", err)
	}
	return &a, nil
}

func (r *contributorRepository) LinkAffiliation(ctx context.Context, contributorID, affiliationID int64) error {
	return insertLink(ctx, "contributor_affiliations", "contributor_id", "affiliation_id", contributorID, affiliationID)
}

// unionRoles merges two role lists into a sorted set.
func unionRoles(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, r := range a {
		set[r] = true
	}
	for _, r := range b {
		set[r] = true
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
