//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/testhelpers"
)

// setupRepoTest returns a context scoped to the shared test database pool and
// wipes all mirror tables so each test starts from an empty schema.
func setupRepoTest(t *testing.T) (context.Context, *database.DB) {
	t.Helper()
	mirrorDB := testhelpers.GetMirrorDB(t)
	ctx := database.SetScope(context.Background(), mirrorDB.DB.Pool)
	truncateAll(t, ctx, mirrorDB.DB)
	return ctx, mirrorDB.DB
}

func truncateAll(t *testing.T, ctx context.Context, db *database.DB) {
	t.Helper()
	_, err := db.Exec(ctx, `
		TRUNCATE sync_runs, reference_terms, contact_points, access_requirements,
			contributors, affiliations, activities, software, resources,
			dandisets, assets, participants, lindi_metadata
		CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
