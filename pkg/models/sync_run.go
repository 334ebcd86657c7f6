// Package models contains domain types for the archive mirror.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync run scopes. A run's watermark may be borrowed from any prior completed
// run whose scope is equal to or a superset of the requested scope; SyncTypeFull
// covers every other scope.
const (
	SyncTypeFull      = "full"
	SyncTypeDandisets = "dandisets"
	SyncTypeAssets    = "assets"
	SyncTypeLindi     = "lindi"
)

// Sync run statuses. The engine only ever moves running → completed or
// running → failed; cancelled exists for operators marking abandoned rows.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// SyncRun is one row of the sync ledger. A row is created with status running
// at the start of an invocation and finalized exactly once; the
// LastSyncTimestamp of the most recent completed row of covering scope is the
// watermark for the next run.
type SyncRun struct {
	ID                uuid.UUID `json:"id"`
	SyncType          string    `json:"sync_type"`
	Status            string    `json:"status"`
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
	DandisetsChecked  int       `json:"dandisets_checked"`
	DandisetsUpdated  int       `json:"dandisets_updated"`
	DandisetsDeleted  int       `json:"dandisets_deleted"`
	AssetsChecked     int       `json:"assets_checked"`
	AssetsUpdated     int       `json:"assets_updated"`
	AssetsDeleted     int       `json:"assets_deleted"`
	LindiProcessed    int       `json:"lindi_processed"`
	DurationSeconds   float64   `json:"duration_seconds"`
	ErrorMessage      string    `json:"error_message"`
	CreatedAt         time.Time `json:"created_at"`
}

// ScopeCovers reports whether a completed run of scope prior may supply the
// watermark for a run of scope requested. A full run covers everything; other
// scopes only cover themselves. A full run must never borrow a narrower run's
// watermark, or changes outside that scope would be silently skipped.
func ScopeCovers(prior, requested string) bool {
	if prior == SyncTypeFull {
		return true
	}
	return prior == requested
}
