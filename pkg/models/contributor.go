package models

// Contributor schema keys.
const (
	SchemaKeyPerson       = "Person"
	SchemaKeyOrganization = "Organization"
)

// Contributor is a person or organization contributing to one or more
// dandisets. Identifier holds a normalized external id (ORCID for people,
// ROR URL for institutions) when the archive supplies one; matching falls
// back to email and then name when it does not.
type Contributor struct {
	ID          int64  `json:"id"`
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	URL         string `json:"url"`
	AwardNumber string `json:"award_number"`
	SchemaKey   string `json:"schema_key"`
}

// DandisetContributor links a contributor to a dandiset with the per-link
// attributes that vary by dandiset. RoleName is merged as a set union across
// documents, never overwritten, so independently sourced updates do not erase
// previously recorded roles.
type DandisetContributor struct {
	ID                int64    `json:"id"`
	DandisetID        int64    `json:"dandiset_id"`
	ContributorID     int64    `json:"contributor_id"`
	RoleName          []string `json:"role_name"`
	IncludeInCitation bool     `json:"include_in_citation"`
}

// Affiliation is an institutional affiliation of a contributor.
type Affiliation struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}
