package models

import (
	"time"

	"github.com/google/uuid"
)

// LindiProcessingVersion tags stored structures with the filter revision that
// produced them, so a future filter change can invalidate old rows.
const LindiProcessingVersion = "1.0"

// LindiMetadata is the derived structural summary of one NWB asset, fetched
// from the LINDI service and stored after filtering out inline binary payloads
// and chunk descriptors. Attached 1:1 to an asset; never required for
// correctness of the base mirror.
type LindiMetadata struct {
	ID                int64          `json:"id"`
	AssetID           int64          `json:"asset_id"`
	StructureMetadata map[string]any `json:"structure_metadata"`
	LindiURL          string         `json:"lindi_url"`
	ProcessedAt       time.Time      `json:"processed_at"`
	ProcessingVersion string         `json:"processing_version"`
	SyncRunID         *uuid.UUID     `json:"sync_run_id,omitempty"`
}
