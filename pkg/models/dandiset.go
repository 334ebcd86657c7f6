package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dandiset is one versioned dataset record mirrored from the archive.
// Identity is (BaseID, Version); DandiID is the full versioned identifier such
// as "DANDI:000003/0.230629.1955". At most one row per BaseID carries
// IsLatest=true, enforced by a partial unique index.
type Dandiset struct {
	ID               int64      `json:"id"`
	DandiID          string     `json:"dandi_id"`
	Identifier       string     `json:"identifier"`
	BaseID           string     `json:"base_id"`
	Version          *string    `json:"version,omitempty"` // nil for drafts
	VersionOrder     int        `json:"version_order"`
	IsDraft          bool       `json:"is_draft"`
	IsLatest         bool       `json:"is_latest"`
	SchemaVersion    string     `json:"schema_version"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	DateCreated      *time.Time `json:"date_created,omitempty"`
	DateModified     *time.Time `json:"date_modified,omitempty"`
	DatePublished    *time.Time `json:"date_published,omitempty"`
	License          []string   `json:"license"`
	Keywords         []string   `json:"keywords"`
	StudyTarget      []string   `json:"study_target"`
	Protocol         []string   `json:"protocol"`
	Citation         string     `json:"citation"`
	Acknowledgement  string     `json:"acknowledgement"`
	URL              string     `json:"url"`
	Repository       string     `json:"repository"`
	DOI              string     `json:"doi"`
	ManifestLocation []string   `json:"manifest_location"`

	CreatedBySync      *uuid.UUID `json:"created_by_sync,omitempty"`
	LastModifiedBySync *uuid.UUID `json:"last_modified_by_sync,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// BaseIDFromDandiID extracts the base identifier from a full versioned id,
// e.g. "DANDI:000003/0.230629.1955" → "DANDI:000003".
func BaseIDFromDandiID(dandiID string) string {
	if i := strings.IndexByte(dandiID, '/'); i >= 0 {
		return dandiID[:i]
	}
	return dandiID
}
