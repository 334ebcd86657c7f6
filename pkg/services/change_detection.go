package services

import (
	"time"

	"github.com/dandisql/mirror/pkg/models"
)

// Change detection compares remote modification timestamps against the
// watermark (the previous completed run's timestamp). The two entity classes
// treat a missing remote timestamp differently on purpose: dandiset listings
// are authoritative, so a dandiset without a timestamp is skipped, while an
// asset without one is assumed stale and refetched.

// DandisetNeedsUpdate reports whether a dandiset should be fetched and
// upserted. No watermark means a first (or forced full) run: everything is
// processed.
func DandisetNeedsUpdate(modified, watermark *time.Time) bool {
	if watermark == nil {
		return true
	}
	if modified == nil {
		return false
	}
	return modified.After(*watermark)
}

// AssetNeedsUpdate reports whether an asset's document should be fetched and
// upserted. Both sides compare on the later of the metadata and blob
// modification timestamps; a local record that does not exist yet, or a remote
// document with no usable dates, counts as stale.
func AssetNeedsUpdate(remoteModified, remoteBlobModified *time.Time, watermark *time.Time, local *models.Asset) bool {
	if watermark == nil {
		return true
	}
	if local == nil {
		return true
	}
	remote := models.LaterTime(remoteModified, remoteBlobModified)
	if remote == nil {
		return true
	}
	localLatest := local.LatestModification()
	if localLatest == nil {
		return true
	}
	return remote.After(*localLatest)
}
