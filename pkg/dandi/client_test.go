package dandi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/apperrors"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{BaseURL: baseURL, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	// One attempt in tests: failures should fail fast, not back off.
	c.retryCfg.MaxRetries = 0
	return c
}

func TestListDandisetsFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "", "1":
			fmt.Fprintf(w, `{
				"count": 3,
				"next": "%s/dandisets/?page=2&page_size=100",
				"results": [
					{"identifier": "000003", "most_recent_published_version": {"version": "0.230629.1955", "modified": "2023-06-29T19:55:00Z"}},
					{"identifier": "000004", "draft_version": {"version": "draft", "modified": "2024-01-15T10:00:00Z"}}
				]
			}`, srv.URL)
		case "2":
			fmt.Fprint(w, `{
				"count": 3,
				"next": null,
				"results": [
					{"identifier": "000005", "most_recent_published_version": {"version": "0.240101.0000", "modified": "not-a-date"}}
				]
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	listings, err := c.ListDandisets(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 3)

	assert.Equal(t, "000003", listings[0].Identifier)
	assert.Equal(t, "0.230629.1955", listings[0].Version)
	assert.False(t, listings[0].IsDraft)
	require.NotNil(t, listings[0].Modified)
	assert.Equal(t, "DANDI:000003/0.230629.1955", listings[0].DandiID())

	assert.True(t, listings[1].IsDraft)
	assert.Equal(t, "draft", listings[1].Version)

	// Malformed timestamp degrades to nil, never an error.
	assert.Nil(t, listings[2].Modified)
}

func TestGetDandisetTriesIDCandidatesInOrder(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path == "/dandisets/000003/" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"identifier": "000003", "most_recent_published_version": {"version": "0.230629.1955", "modified": "2023-06-29T19:55:00Z"}}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	listing, err := c.GetDandiset(context.Background(), "DANDI:3")
	require.NoError(t, err)
	assert.Equal(t, "000003", listing.Identifier)

	// "DANDI:3" as given, then the bare number, then zero-padded.
	assert.Equal(t, []string{
		"/dandisets/DANDI:3/",
		"/dandisets/3/",
		"/dandisets/000003/",
	}, requested)
}

func TestGetDandisetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetDandiset(context.Background(), "999999")
	require.Error(t, err)

	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.status)
}

func TestGetDandisetServerErrorIsNotSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetDandiset(context.Background(), "000003")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrRemoteNotFound)
}

func TestListAssetsHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]any, 10)
		for i := range results {
			results[i] = map[string]any{
				"asset_id": fmt.Sprintf("asset-%d", i),
				"path":     fmt.Sprintf("sub-01/file-%d.nwb", i),
				"size":     1024,
				"modified": "2024-01-01T00:00:00Z",
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"next": nil, "results": results})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assets, err := c.ListAssets(context.Background(), "000003", "draft", 4)
	require.NoError(t, err)
	require.Len(t, assets, 4)
	assert.Equal(t, "asset-0", assets[0].AssetID)
	assert.Equal(t, "sub-01/file-0.nwb", assets[0].Path)
	assert.Equal(t, int64(1024), assets[0].Size)
}

func TestIDCandidates(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"padded number", "000003", []string{"000003"}},
		{"bare number", "3", []string{"3", "000003"}},
		{"prefixed", "DANDI:000003", []string{"DANDI:000003", "000003"}},
		{"versioned", "DANDI:000003/0.230629.1955", []string{"DANDI:000003/0.230629.1955", "000003"}},
		{"non-numeric", "abc", []string{"abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idCandidates(tt.in))
		})
	}
}
