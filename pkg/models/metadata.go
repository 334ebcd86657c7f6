package models

import "time"

// ContactPoint is contact information attached to access requirements.
type ContactPoint struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	URL   string `json:"url"`
}

// AccessRequirement describes an access status (open, embargoed) shared by
// any number of dandisets and assets.
type AccessRequirement struct {
	ID             int64      `json:"id"`
	Status         string     `json:"status"`
	SchemaKey      string     `json:"schema_key"`
	ContactPointID *int64     `json:"contact_point_id,omitempty"`
	EmbargoedUntil *time.Time `json:"embargoed_until,omitempty"`
}

// Resource is an external related resource (publication, code repository,
// another dataset), resolved by URL.
type Resource struct {
	ID           int64  `json:"id"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Repository   string `json:"repository"`
	Relation     string `json:"relation"`
	ResourceType string `json:"resource_type"`
}

// AssetsSummary is the per-dandiset statistical rollup shipped inside the
// metadata document. One row per dandiset, replaced wholesale on every
// dandiset upsert so stale summaries never outlive their document.
type AssetsSummary struct {
	ID               int64    `json:"id"`
	DandisetID       int64    `json:"dandiset_id"`
	NumberOfBytes    int64    `json:"number_of_bytes"`
	NumberOfFiles    int64    `json:"number_of_files"`
	NumberOfSubjects *int64   `json:"number_of_subjects,omitempty"`
	NumberOfSamples  *int64   `json:"number_of_samples,omitempty"`
	NumberOfCells    *int64   `json:"number_of_cells,omitempty"`
	VariableMeasured []string `json:"variable_measured"`
}
