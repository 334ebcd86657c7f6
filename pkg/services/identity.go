package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
)

// Identifier normalization. The archive is inconsistent about external ids:
// ORCIDs arrive both bare and as URLs, ROR ids with and without the scheme,
// ontology terms as purl URLs or compact CURIEs. Everything is normalized
// before matching so the same real-world entity always resolves to one row.

var obolibraryTerm = regexp.MustCompile(`^http://purl\.obolibrary\.org/obo/(UBERON|CHEBI)_(\d+)$`)

// NormalizeContributorIdentifier canonicalizes ORCID and ROR identifiers.
// ORCIDs become the bare dashed form ("0000-0002-1825-0097"); ROR ids become
// full URLs ("https://ror.org/01aj84f44"). Anything else passes through
// trimmed.
func NormalizeContributorIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return identifier
	}

	lower := strings.ToLower(identifier)
	switch {
	case strings.Contains(lower, "orcid.org"):
		if strings.HasPrefix(lower, "http") {
			identifier = identifier[strings.LastIndexByte(identifier, '/')+1:]
		}
		// Bare 16-character ORCIDs get the standard dashes.
		if len(identifier) == 16 && !strings.Contains(identifier, "-") {
			identifier = identifier[:4] + "-" + identifier[4:8] + "-" + identifier[8:12] + "-" + identifier[12:]
		}
	case strings.Contains(lower, "ror.org"):
		if i := strings.LastIndexByte(identifier, '/'); i >= 0 {
			identifier = identifier[i+1:]
		}
		identifier = "https://ror.org/" + identifier
	}
	return identifier
}

// NormalizeOntologyIdentifier converts purl.obolibrary.org term URLs to the
// compact CURIE form ("UBERON:0002421", "CHEBI:15355").
func NormalizeOntologyIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if m := obolibraryTerm.FindStringSubmatch(identifier); m != nil {
		return m[1] + ":" + m[2]
	}
	return identifier
}

// ContributorMatcher is one resolution strategy: it either finds an existing
// contributor for the document or reports no match.
type ContributorMatcher func(ctx context.Context, repo repositories.ContributorRepository, doc *models.ContributorDocument) (*models.Contributor, error)

// ContributorMatchers is the resolution order for contributor documents:
// normalized external identifier, then email, then exact name. The chain is
// data, not branching; Resolve walks it until one strategy matches.
var ContributorMatchers = []ContributorMatcher{
	matchByIdentifier,
	matchByEmail,
	matchByName,
}

func matchByIdentifier(ctx context.Context, repo repositories.ContributorRepository, doc *models.ContributorDocument) (*models.Contributor, error) {
	id := NormalizeContributorIdentifier(doc.Identifier)
	if id == "" {
		return nil, nil
	}
	return repo.FindByIdentifier(ctx, id)
}

func matchByEmail(ctx context.Context, repo repositories.ContributorRepository, doc *models.ContributorDocument) (*models.Contributor, error) {
	if doc.Email == "" {
		return nil, nil
	}
	return repo.FindByEmail(ctx, doc.Email)
}

func matchByName(ctx context.Context, repo repositories.ContributorRepository, doc *models.ContributorDocument) (*models.Contributor, error) {
	if doc.Name == "" {
		return nil, nil
	}
	return repo.FindByName(ctx, doc.Name)
}

// ResolveContributor finds or creates the contributor for a document, running
// the matcher chain in order and backfilling missing fields on a match.
func ResolveContributor(ctx context.Context, repo repositories.ContributorRepository, doc *models.ContributorDocument) (*models.Contributor, error) {
	for _, match := range ContributorMatchers {
		found, err := match(ctx, repo, doc)
		if err != nil {
			return nil, err
		}
		if found == nil {
			continue
		}
		found.Identifier = NormalizeContributorIdentifier(doc.Identifier)
		found.Name = doc.Name
		found.Email = doc.Email
		found.URL = doc.URL
		found.AwardNumber = doc.AwardNumber
		found.SchemaKey = doc.SchemaKey
		if err := repo.Update(ctx, found); err != nil {
			return nil, err
		}
		return found, nil
	}

	c := &models.Contributor{
		Identifier:  NormalizeContributorIdentifier(doc.Identifier),
		Name:        doc.Name,
		Email:       doc.Email,
		URL:         doc.URL,
		AwardNumber: doc.AwardNumber,
		SchemaKey:   doc.SchemaKey,
	}
	if c.SchemaKey == "" {
		c.SchemaKey = models.SchemaKeyPerson
	}
	if err := repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
