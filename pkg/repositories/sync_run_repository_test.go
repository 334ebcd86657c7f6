//go:build integration

package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandisql/mirror/pkg/models"
)

func TestSyncRunLifecycle(t *testing.T) {
	ctx, _ := setupRepoTest(t)
	repo := NewSyncRunRepository()

	run := &models.SyncRun{SyncType: models.SyncTypeFull, Status: models.SyncStatusRunning}
	require.NoError(t, repo.Create(ctx, run))
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", run.ID.String())

	run.Status = models.SyncStatusCompleted
	run.LastSyncTimestamp = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run.DandisetsChecked = 42
	run.DandisetsUpdated = 7
	run.AssetsChecked = 900
	run.AssetsUpdated = 13
	run.DurationSeconds = 123.4
	require.NoError(t, repo.Finalize(ctx, run))

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SyncStatusCompleted, stored.Status)
	assert.Equal(t, 42, stored.DandisetsChecked)
	assert.Equal(t, 7, stored.DandisetsUpdated)
	assert.InDelta(t, 123.4, stored.DurationSeconds, 0.001)
	assert.True(t, stored.LastSyncTimestamp.Equal(run.LastSyncTimestamp))
}

func TestSyncRunFailedKeepsError(t *testing.T) {
	ctx, _ := setupRepoTest(t)
	repo := NewSyncRunRepository()

	run := &models.SyncRun{SyncType: models.SyncTypeAssets, Status: models.SyncStatusRunning}
	require.NoError(t, repo.Create(ctx, run))

	run.Status = models.SyncStatusFailed
	run.ErrorMessage = "listing failed: connection refused"
	require.NoError(t, repo.Finalize(ctx, run))

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SyncStatusFailed, stored.Status)
	assert.Equal(t, "listing failed: connection refused", stored.ErrorMessage)

	// Failed runs never supply a watermark.
	prior, err := repo.LatestCompletedRun(ctx, models.SyncTypeAssets)
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestLatestCompletedRunScopeRule(t *testing.T) {
	ctx, _ := setupRepoTest(t)
	repo := NewSyncRunRepository()

	complete := func(syncType string, ts time.Time) *models.SyncRun {
		run := &models.SyncRun{SyncType: syncType, Status: models.SyncStatusRunning}
		require.NoError(t, repo.Create(ctx, run))
		run.Status = models.SyncStatusCompleted
		run.LastSyncTimestamp = ts
		require.NoError(t, repo.Finalize(ctx, run))
		return run
	}

	fullRun := complete(models.SyncTypeFull, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assetRun := complete(models.SyncTypeAssets, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	// An assets run may borrow from the newer assets run.
	prior, err := repo.LatestCompletedRun(ctx, models.SyncTypeAssets)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, assetRun.ID, prior.ID)

	// A full run must not borrow the narrower assets watermark: dandiset
	// changes since January would be silently skipped.
	prior, err = repo.LatestCompletedRun(ctx, models.SyncTypeFull)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, fullRun.ID, prior.ID)

	// A dandisets run with no prior dandisets run falls back to the full run.
	prior, err = repo.LatestCompletedRun(ctx, models.SyncTypeDandisets)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, fullRun.ID, prior.ID)
}
