//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestMirrorDBMigratedSchema(t *testing.T) {
	mirrorDB := GetMirrorDB(t)

	ctx := context.Background()

	for _, table := range []string{
		"sync_runs", "dandisets", "assets", "asset_dandisets",
		"contributors", "dandiset_contributors", "reference_terms",
		"assets_summaries", "lindi_metadata",
	} {
		var exists bool
		err := mirrorDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected migrated schema to contain table %s", table)
		}
	}
}
