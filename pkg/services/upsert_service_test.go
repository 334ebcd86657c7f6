//go:build integration

package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
	"github.com/dandisql/mirror/pkg/testhelpers"
)

func setupUpsertTest(t *testing.T) (context.Context, *database.DB, UpsertService) {
	t.Helper()
	mirrorDB := testhelpers.GetMirrorDB(t)
	ctx := database.SetScope(context.Background(), mirrorDB.DB.Pool)

	_, err := mirrorDB.DB.Exec(ctx, `
		TRUNCATE sync_runs, reference_terms, contact_points, access_requirements,
			contributors, affiliations, activities, software, resources,
			dandisets, assets, participants, lindi_metadata
		CASCADE`)
	require.NoError(t, err)

	svc := NewUpsertService(
		repositories.NewDandisetRepository(),
		repositories.NewAssetRepository(),
		repositories.NewContributorRepository(),
		repositories.NewReferenceRepository(),
		repositories.NewActivityRepository(),
		repositories.NewParticipantRepository(),
		repositories.NewAccessRepository(),
		repositories.NewResourceRepository(),
		repositories.NewAssetsSummaryRepository(),
		zap.NewNop(),
	)
	return ctx, mirrorDB.DB, svc
}

func sampleDandisetDocument(t *testing.T) *models.DandisetDocument {
	t.Helper()
	raw := `{
		"id": "DANDI:000031/0.230629.1955",
		"identifier": "DANDI:000031",
		"name": "Mouse hippocampus recordings",
		"description": "Extracellular recordings",
		"schemaVersion": "0.6.4",
		"license": ["spdx:CC-BY-4.0"],
		"keywords": ["mouse", "hippocampus"],
		"dateCreated": "2022-03-01T10:00:00Z",
		"dateModified": "2024-01-15T12:30:00Z",
		"contributor": [
			{
				"name": "Yarrow, Ada",
				"email": "ada@example.org",
				"identifier": "https://orcid.org/0000-0001-2345-6789",
				"schemaKey": "Person",
				"roleName": ["dcite:ContactPerson"],
				"includeInCitation": true,
				"affiliation": [
					{"name": "University of Somewhere", "identifier": "https://ror.org/01aj84f44"}
				]
			}
		],
		"about": [
			{"name": "hippocampus", "identifier": "http://purl.obolibrary.org/obo/UBERON_0002421", "schemaKey": "Anatomy"},
			{"name": "learning", "schemaKey": "GenericType"}
		],
		"access": [
			{"status": "dandi:OpenAccess", "schemaKey": "AccessRequirements", "contactPoint": {"email": "help@example.org"}}
		],
		"relatedResource": [
			{"name": "companion paper", "url": "https://doi.org/10.1000/xyz", "relation": "dcite:IsDescribedBy"}
		],
		"assetsSummary": {
			"numberOfBytes": 1048576,
			"numberOfFiles": 2,
			"numberOfSubjects": 1,
			"species": [{"name": "Mus musculus", "identifier": "http://purl.obolibrary.org/obo/NCBITaxon_10090"}],
			"approach": [{"name": "electrophysiological approach"}],
			"variableMeasured": ["ElectricalSeries"]
		},
		"publishedBy": {
			"id": "urn:uuid:0d9b0ff6",
			"name": "DANDI publish",
			"schemaKey": "PublishActivity",
			"startDate": "2023-06-29T19:55:00Z",
			"wasAssociatedWith": [{"name": "DANDI API", "version": "0.1.0", "schemaKey": "Software"}]
		}
	}`
	var doc models.DandisetDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return &doc
}

func sampleAssetDocument(t *testing.T) *models.AssetDocument {
	t.Helper()
	raw := `{
		"id": "dandiasset:bbbb2222-0000-0000-0000-000000000001",
		"identifier": "bbbb2222-0000-0000-0000-000000000001",
		"path": "sub-01/sub-01_ses-01.nwb",
		"contentSize": 524288,
		"encodingFormat": "application/x-nwb",
		"dateModified": "2024-01-10T08:00:00Z",
		"blobDateModified": "2024-01-12T08:00:00Z",
		"digest": {"dandi:dandi-etag": "abc123"},
		"contentUrl": ["https://example.org/blobs/bbbb2222"],
		"approach": [{"name": "electrophysiological approach"}],
		"wasAttributedTo": [
			{
				"identifier": "sub-01",
				"schemaKey": "Participant",
				"species": {"name": "Mus musculus", "identifier": "http://purl.obolibrary.org/obo/NCBITaxon_10090"},
				"sex": {"name": "Male"},
				"age": {"value": "P90D", "unitText": "ISO-8601 duration"}
			}
		]
	}`
	var doc models.AssetDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return &doc
}

func TestApplyDandisetDocumentTwiceIsIdempotent(t *testing.T) {
	ctx, db, svc := setupUpsertTest(t)
	doc := sampleDandisetDocument(t)
	info := VersionInfo{Version: "0.230629.1955", IsLatest: true}

	var ds *models.Dandiset
	err := database.WithTx(ctx, db, func(ctx context.Context) error {
		var err error
		var created bool
		ds, created, err = svc.ApplyDandisetDocument(ctx, doc, info, nil)
		require.NoError(t, err)
		assert.True(t, created)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, ds)
	require.NotNil(t, ds.Version)
	assert.Equal(t, "0.230629.1955", *ds.Version)
	assert.False(t, ds.IsDraft)

	err = database.WithTx(ctx, db, func(ctx context.Context) error {
		_, created, err := svc.ApplyDandisetDocument(ctx, doc, info, nil)
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, table := range []string{"dandisets", "contributors", "affiliations", "reference_terms",
		"access_requirements", "resources", "activities", "software", "assets_summaries",
		"dandiset_contributors", "dandiset_about"} {
		var n int
		require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		counts[table] = n
	}
	assert.Equal(t, 1, counts["dandisets"])
	assert.Equal(t, 1, counts["contributors"])
	assert.Equal(t, 1, counts["affiliations"])
	assert.Equal(t, 1, counts["dandiset_contributors"])
	// anatomy + species + approach; the non-Anatomy about entry is skipped
	assert.Equal(t, 3, counts["reference_terms"])
	assert.Equal(t, 1, counts["dandiset_about"])
	assert.Equal(t, 1, counts["access_requirements"])
	assert.Equal(t, 1, counts["resources"])
	assert.Equal(t, 1, counts["activities"])
	assert.Equal(t, 1, counts["software"])
	assert.Equal(t, 1, counts["assets_summaries"])

	// Normalized identifiers landed in the entity rows.
	var orcid string
	require.NoError(t, db.QueryRow(ctx, "SELECT identifier FROM contributors").Scan(&orcid))
	assert.Equal(t, "0000-0001-2345-6789", orcid)
	var uberon string
	require.NoError(t, db.QueryRow(ctx,
		"SELECT identifier FROM reference_terms WHERE kind = $1", models.TermAnatomy).Scan(&uberon))
	assert.Equal(t, "UBERON:0002421", uberon)
}

func TestApplyAssetDocument(t *testing.T) {
	ctx, db, svc := setupUpsertTest(t)
	dsDoc := sampleDandisetDocument(t)
	info := VersionInfo{Version: "0.230629.1955", IsLatest: true}

	var ds *models.Dandiset
	err := database.WithTx(ctx, db, func(ctx context.Context) error {
		var err error
		ds, _, err = svc.ApplyDandisetDocument(ctx, dsDoc, info, nil)
		return err
	})
	require.NoError(t, err)

	assetDoc := sampleAssetDocument(t)
	var asset *models.Asset
	err = database.WithTx(ctx, db, func(ctx context.Context) error {
		var err error
		var created bool
		asset, created, err = svc.ApplyAssetDocument(ctx, assetDoc, ds.ID, assetDoc.Path, nil)
		require.NoError(t, err)
		assert.True(t, created)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(524288), asset.ContentSize)
	require.NotNil(t, asset.BlobDateModified)

	var path string
	require.NoError(t, db.QueryRow(ctx,
		"SELECT path FROM asset_dandisets WHERE asset_id = $1 AND dandiset_id = $2",
		asset.ID, ds.ID).Scan(&path))
	assert.Equal(t, "sub-01/sub-01_ses-01.nwb", path)

	var participants int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM participants").Scan(&participants))
	assert.Equal(t, 1, participants)

	// Subject species resolves to the same term the summary created.
	var speciesTerms int
	require.NoError(t, db.QueryRow(ctx,
		"SELECT COUNT(*) FROM reference_terms WHERE kind = $1", models.TermSpecies).Scan(&speciesTerms))
	assert.Equal(t, 1, speciesTerms)
}
