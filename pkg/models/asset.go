package models

import (
	"time"

	"github.com/google/uuid"
)

// EncodingFormatNWB marks assets eligible for LINDI structural enrichment.
const EncodingFormatNWB = "application/x-nwb"

// Asset is a content-level file record. It is identified by the archive-wide
// DandiAssetID and owned by no single dandiset: the same asset may be
// referenced from several dandisets through AssetDandiset associations, each
// carrying its own path.
type Asset struct {
	ID               int64          `json:"id"`
	DandiAssetID     string         `json:"dandi_asset_id"`
	Identifier       string         `json:"identifier"`
	SchemaVersion    string         `json:"schema_version"`
	ContentSize      int64          `json:"content_size"`
	EncodingFormat   string         `json:"encoding_format"`
	DateModified     *time.Time     `json:"date_modified,omitempty"`
	DatePublished    *time.Time     `json:"date_published,omitempty"`
	BlobDateModified *time.Time     `json:"blob_date_modified,omitempty"`
	Digest           map[string]any `json:"digest"`
	ContentURL       []string       `json:"content_url"`
	VariableMeasured []string       `json:"variable_measured"`

	CreatedBySync      *uuid.UUID `json:"created_by_sync,omitempty"`
	LastModifiedBySync *uuid.UUID `json:"last_modified_by_sync,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// AssetDandiset joins an asset to a dandiset. Path lives here rather than on
// the asset because the same file can appear at different logical paths under
// different dandisets. Unique per (AssetID, DandisetID).
type AssetDandiset struct {
	ID         int64     `json:"id"`
	AssetID    int64     `json:"asset_id"`
	DandisetID int64     `json:"dandiset_id"`
	Path       string    `json:"path"`
	IsPrimary  bool      `json:"is_primary"`
	DateAdded  time.Time `json:"date_added"`
}

// LatestModification returns the more recent of the metadata and blob
// modification timestamps, or nil when neither is known.
func (a *Asset) LatestModification() *time.Time {
	return LaterTime(a.DateModified, a.BlobDateModified)
}

// LaterTime returns the later of two optional timestamps.
func LaterTime(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
