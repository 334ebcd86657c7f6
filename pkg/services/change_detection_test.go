package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dandisql/mirror/pkg/models"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDandisetNeedsUpdate(t *testing.T) {
	watermark := ts("2024-01-01T00:00:00Z")

	tests := []struct {
		name      string
		modified  *time.Time
		watermark *time.Time
		want      bool
	}{
		{"no watermark processes everything", ts("2023-01-01T00:00:00Z"), nil, true},
		{"modified after watermark", ts("2024-01-02T00:00:00Z"), watermark, true},
		{"modified before watermark", ts("2023-12-31T00:00:00Z"), watermark, false},
		{"modified equal to watermark", watermark, watermark, false},
		{"missing timestamp is skipped", nil, watermark, false},
		{"missing timestamp without watermark", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DandisetNeedsUpdate(tt.modified, tt.watermark))
		})
	}
}

func TestAssetNeedsUpdate(t *testing.T) {
	watermark := ts("2024-01-01T00:00:00Z")
	localAsset := func(modified, blobModified *time.Time) *models.Asset {
		return &models.Asset{DateModified: modified, BlobDateModified: blobModified}
	}

	tests := []struct {
		name      string
		modified  *time.Time
		blob      *time.Time
		watermark *time.Time
		local     *models.Asset
		want      bool
	}{
		{"no watermark", ts("2020-01-01T00:00:00Z"), nil, nil, localAsset(ts("2024-01-01T00:00:00Z"), nil), true},
		{"unknown locally", ts("2020-01-01T00:00:00Z"), nil, watermark, nil, true},
		{"missing remote dates assume stale", nil, nil, watermark, localAsset(ts("2024-01-01T00:00:00Z"), nil), true},
		{"remote newer than local", ts("2024-02-01T00:00:00Z"), nil, watermark, localAsset(ts("2024-01-15T00:00:00Z"), nil), true},
		{"remote older than local", ts("2024-01-10T00:00:00Z"), nil, watermark, localAsset(ts("2024-01-15T00:00:00Z"), nil), false},
		{"blob date wins on remote side", ts("2024-01-10T00:00:00Z"), ts("2024-02-01T00:00:00Z"), watermark, localAsset(ts("2024-01-15T00:00:00Z"), nil), true},
		{"blob date wins on local side", ts("2024-01-20T00:00:00Z"), nil, watermark, localAsset(ts("2024-01-10T00:00:00Z"), ts("2024-02-01T00:00:00Z")), false},
		{"local without dates", ts("2024-01-02T00:00:00Z"), nil, watermark, localAsset(nil, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssetNeedsUpdate(tt.modified, tt.blob, tt.watermark, tt.local))
		})
	}
}

func TestScopeCovers(t *testing.T) {
	assert.True(t, models.ScopeCovers(models.SyncTypeFull, models.SyncTypeAssets))
	assert.True(t, models.ScopeCovers(models.SyncTypeFull, models.SyncTypeFull))
	assert.True(t, models.ScopeCovers(models.SyncTypeLindi, models.SyncTypeLindi))
	assert.False(t, models.ScopeCovers(models.SyncTypeAssets, models.SyncTypeFull))
	assert.False(t, models.ScopeCovers(models.SyncTypeDandisets, models.SyncTypeAssets))
}
