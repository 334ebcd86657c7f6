//go:build integration

package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/config"
	"github.com/dandisql/mirror/pkg/dandi"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/diskcache"
	"github.com/dandisql/mirror/pkg/lindi"
	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
	"github.com/dandisql/mirror/pkg/testhelpers"
)

// archiveFixture serves the listing API and the bulk document store for one
// dandiset, with a swappable asset document list.
type archiveFixture struct {
	srv *httptest.Server

	mu         sync.Mutex
	assetsBody []byte
}

const (
	fixtureIdentifier = "000031"
	fixtureVersion    = "0.230629.1955"
)

func newArchiveFixture(t *testing.T) *archiveFixture {
	t.Helper()
	f := &archiveFixture{}

	summary := fmt.Sprintf(`{
		"identifier": %q,
		"most_recent_published_version": {"version": %q, "modified": "2024-01-15T12:30:00Z"}
	}`, fixtureIdentifier, fixtureVersion)
	dandisetDoc := fmt.Sprintf(`{
		"id": "DANDI:%s/%s",
		"identifier": "DANDI:%s",
		"name": "Fixture dandiset",
		"schemaVersion": "0.6.4",
		"dateModified": "2024-01-15T12:30:00Z"
	}`, fixtureIdentifier, fixtureVersion, fixtureIdentifier)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/dandisets/":
			fmt.Fprintf(w, `{"count": 1, "next": null, "results": [%s]}`, summary)
		case "/api/dandisets/" + fixtureIdentifier + "/":
			fmt.Fprint(w, summary)
		case fmt.Sprintf("/bulk/dandisets/%s/%s/dandiset.jsonld", fixtureIdentifier, fixtureVersion):
			fmt.Fprint(w, dandisetDoc)
		case fmt.Sprintf("/bulk/dandisets/%s/%s/assets.jsonld", fixtureIdentifier, fixtureVersion):
			f.mu.Lock()
			body := f.assetsBody
			f.mu.Unlock()
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *archiveFixture) serveAssets(ids ...string) {
	body := "["
	for i, id := range ids {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{
			"id": "dandiasset:%s",
			"identifier": %q,
			"path": "sub-01/%s.tiff",
			"contentSize": 16,
			"encodingFormat": "image/tiff",
			"dateModified": "2024-01-10T08:00:00Z"
		}`, id, id, id)
	}
	body += "]"
	f.mu.Lock()
	f.assetsBody = []byte(body)
	f.mu.Unlock()
}

func setupSyncTest(t *testing.T) (context.Context, *database.DB) {
	t.Helper()
	mirrorDB := testhelpers.GetMirrorDB(t)
	ctx := database.SetScope(context.Background(), mirrorDB.DB.Pool)

	_, err := mirrorDB.DB.Exec(ctx, `
		TRUNCATE sync_runs, reference_terms, contact_points, access_requirements,
			contributors, affiliations, activities, software, resources,
			dandisets, assets, participants, lindi_metadata
		CASCADE`)
	require.NoError(t, err)
	return ctx, mirrorDB.DB
}

// buildSyncService wires the full service graph against the fixture archive.
// Each call gets a fresh cache directory so the bulk store never serves a
// stale asset list from a previous phase.
func buildSyncService(t *testing.T, db *database.DB, f *archiveFixture) SyncService {
	t.Helper()
	logger := zap.NewNop()

	client, err := dandi.NewClient(dandi.ClientConfig{BaseURL: f.srv.URL + "/api"}, logger)
	require.NoError(t, err)
	cache, err := diskcache.New(diskcache.Config{Dir: t.TempDir(), TTL: time.Minute}, logger)
	require.NoError(t, err)
	bulk, err := dandi.NewBulkStore(dandi.BulkStoreConfig{BaseURL: f.srv.URL + "/bulk"}, cache, logger)
	require.NoError(t, err)
	lindiClient, err := lindi.NewClient(lindi.ClientConfig{BaseURL: f.srv.URL + "/lindi"}, logger)
	require.NoError(t, err)

	dandisetRepo := repositories.NewDandisetRepository()
	assetRepo := repositories.NewAssetRepository()
	upsert := NewUpsertService(
		dandisetRepo,
		assetRepo,
		repositories.NewContributorRepository(),
		repositories.NewReferenceRepository(),
		repositories.NewActivityRepository(),
		repositories.NewParticipantRepository(),
		repositories.NewAccessRepository(),
		repositories.NewResourceRepository(),
		repositories.NewAssetsSummaryRepository(),
		logger,
	)
	deletion := NewDeletionService(db, dandisetRepo, assetRepo, logger)
	enrichment := NewLindiEnrichmentService(db, lindiClient, assetRepo, repositories.NewLindiRepository(), logger)

	return NewSyncService(
		db, client, bulk, upsert, deletion, enrichment,
		assetRepo, dandisetRepo, repositories.NewSyncRunRepository(),
		config.SyncConfig{LindiWorkers: 1, MaxAssetsPerDandiset: 2000, ErrorMessageLimit: 1000},
		logger)
}

func countAssociations(t *testing.T, ctx context.Context, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM asset_dandisets").Scan(&n))
	return n
}

func TestRunScopedToDandisetSkipsDeletions(t *testing.T) {
	ctx, db := setupSyncTest(t)
	fixture := newArchiveFixture(t)

	fixture.serveAssets("aaaa0001", "aaaa0002")
	summary, err := buildSyncService(t, db, fixture).Run(ctx, Options{
		DandisetID: fixtureIdentifier,
		SkipLindi:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.AssetsUpdated)
	require.Equal(t, 2, countAssociations(t, ctx, db))

	// The remote listing loses an asset, but a single-entity run must not
	// drive deletions.
	fixture.serveAssets("aaaa0001")
	summary, err = buildSyncService(t, db, fixture).Run(ctx, Options{
		DandisetID:    fixtureIdentifier,
		ForceFullSync: true,
		SkipLindi:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AssetsDeleted)
	assert.Equal(t, 0, summary.DandisetsDeleted)
	assert.Equal(t, 2, countAssociations(t, ctx, db))

	// The unscoped full run sees the complete listing and reconciles.
	summary, err = buildSyncService(t, db, fixture).Run(ctx, Options{
		ForceFullSync: true,
		SkipLindi:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AssetsDeleted)
	assert.Equal(t, 1, countAssociations(t, ctx, db))
}

func TestFinalizeFailedSurvivesDeadContext(t *testing.T) {
	ctx, db := setupSyncTest(t)
	syncRuns := repositories.NewSyncRunRepository()

	svc := &syncService{
		db:       db,
		syncRuns: syncRuns,
		cfg:      config.SyncConfig{ErrorMessageLimit: 500},
		logger:   zap.NewNop(),
	}

	run := &models.SyncRun{SyncType: models.SyncTypeFull, Status: models.SyncStatusRunning}
	require.NoError(t, syncRuns.Create(ctx, run))

	deadCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := svc.finalizeFailed(deadCtx, run, &Summary{DandisetsChecked: 3}, time.Now(), context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	// The ledger row must record the failure even though the run context died.
	stored, err := syncRuns.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	assert.Equal(t, "context canceled", stored.ErrorMessage)
	assert.Equal(t, 3, stored.DandisetsChecked)
}
