// Package dandi provides clients for the two remote surfaces the mirror
// consumes: the paginated listing/detail API (change timestamps) and the bulk
// document store (full nested metadata documents).
package dandi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/retry"
)

// DefaultTimeout bounds archive API responses when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// listPageSize is the page size requested from paginated listing endpoints.
const listPageSize = 100

// DandisetListing is one entry of the archive's dandiset listing: enough to
// decide whether the full document needs fetching.
type DandisetListing struct {
	Identifier string // "000003"
	Version    string // published version, or "draft"
	IsDraft    bool
	Modified   *time.Time
}

// DandiID returns the full versioned id used as the mirror's natural key.
func (l *DandisetListing) DandiID() string {
	return fmt.Sprintf("DANDI:%s/%s", l.Identifier, l.Version)
}

// AssetListing is one entry of a dandiset's asset listing.
type AssetListing struct {
	AssetID  string
	Path     string
	Size     int64
	Modified *time.Time
}

// Client talks to the archive's listing/detail API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *retry.Config
	logger     *zap.Logger
}

// ClientConfig holds listing API client settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a listing API client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("archive API base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryCfg: retry.DefaultConfig(),
		logger:   logger.Named("dandi"),
	}, nil
}

// dandisetPage mirrors the listing endpoint's envelope.
type dandisetPage struct {
	Count   int               `json:"count"`
	Next    string            `json:"next"`
	Results []dandisetSummary `json:"results"`
}

type dandisetSummary struct {
	Identifier                 string          `json:"identifier"`
	DraftVersion               *versionSummary `json:"draft_version"`
	MostRecentPublishedVersion *versionSummary `json:"most_recent_published_version"`
}

type versionSummary struct {
	Version  string `json:"version"`
	Modified string `json:"modified"`
}

// ListDandisets walks the paginated dandiset listing and returns one entry
// per dandiset, preferring the most recent published version and falling back
// to the draft. Entries whose modified timestamp is malformed carry a nil
// Modified; the change detector decides what that means.
func (c *Client) ListDandisets(ctx context.Context) ([]DandisetListing, error) {
	endpoint := fmt.Sprintf("%s/dandisets/?page_size=%d", c.baseURL, listPageSize)
	var listings []DandisetListing

	for endpoint != "" {
		page, err := retry.DoWithResult(ctx, c.retryCfg, func() (*dandisetPage, error) {
			var p dandisetPage
			if err := c.getJSON(ctx, endpoint, &p); err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list dandisets: %w", err)
		}

		for _, s := range page.Results {
			listings = append(listings, c.toListing(s))
		}
		endpoint = page.Next
	}

	c.logger.Debug("listed dandisets", zap.Int("count", len(listings)))
	return listings, nil
}

func (c *Client) toListing(s dandisetSummary) DandisetListing {
	l := DandisetListing{Identifier: s.Identifier}
	version := s.MostRecentPublishedVersion
	if version == nil {
		version = s.DraftVersion
		l.IsDraft = true
	}
	if version == nil {
		l.Version = "draft"
		l.IsDraft = true
		return l
	}
	l.Version = version.Version
	if l.Version == "" || l.Version == "draft" {
		l.Version = "draft"
		l.IsDraft = true
	}
	modified, err := models.ParseTime(version.Modified)
	if err != nil {
		c.logger.Warn("unparseable dandiset modified timestamp",
			zap.String("identifier", s.Identifier),
			zap.Error(err))
	}
	l.Modified = modified
	return l
}

// GetDandiset fetches one dandiset's listing entry. Operators hand ids to the
// CLI in several forms, so lookup tries each candidate in order: the id as
// given, the six-digit zero-padded number, and the bare number extracted from
// a "DANDI:" prefix. Returns apperrors.ErrRemoteNotFound when no form exists.
func (c *Client) GetDandiset(ctx context.Context, id string) (*DandisetListing, error) {
	var lastErr error
	for _, candidate := range idCandidates(id) {
		endpoint := fmt.Sprintf("%s/dandisets/%s/", c.baseURL, url.PathEscape(candidate))
		var s dandisetSummary
		err := c.getJSON(ctx, endpoint, &s)
		if err == nil {
			l := c.toListing(s)
			return &l, nil
		}
		lastErr = err
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to fetch dandiset %s: %w", candidate, err)
		}
	}
	return nil, fmt.Errorf("dandiset %s: %w", id, errOrNotFound(lastErr))
}

func errOrNotFound(err error) error {
	if err == nil {
		return apperrors.ErrRemoteNotFound
	}
	return err
}

// idCandidates expands a user-supplied dandiset id into the lookup forms the
// archive might know it by, in priority order, without duplicates.
func idCandidates(id string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	add(id)

	bare := id
	if i := strings.IndexByte(bare, ':'); i >= 0 {
		bare = bare[i+1:]
	}
	if j := strings.IndexByte(bare, '/'); j >= 0 {
		bare = bare[:j]
	}
	add(bare)
	if n, err := strconv.Atoi(bare); err == nil {
		add(fmt.Sprintf("%06d", n))
	}
	return out
}

// assetPage mirrors the asset listing endpoint's envelope.
type assetPage struct {
	Next    string         `json:"next"`
	Results []assetSummary `json:"results"`
}

type assetSummary struct {
	AssetID  string `json:"asset_id"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// ListAssets walks the paginated asset listing for one dandiset version.
// limit > 0 caps the number of entries returned.
func (c *Client) ListAssets(ctx context.Context, identifier, version string, limit int) ([]AssetListing, error) {
	endpoint := fmt.Sprintf("%s/dandisets/%s/versions/%s/assets/?page_size=%d",
		c.baseURL, url.PathEscape(identifier), url.PathEscape(version), listPageSize)
	var listings []AssetListing

	for endpoint != "" {
		page, err := retry.DoWithResult(ctx, c.retryCfg, func() (*assetPage, error) {
			var p assetPage
			if err := c.getJSON(ctx, endpoint, &p); err != nil {
				return nil, err
			}
			return &p, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list assets for %s/%s: %w", identifier, version, err)
		}

		for _, s := range page.Results {
			modified, err := models.ParseTime(s.Modified)
			if err != nil {
				c.logger.Warn("unparseable asset modified timestamp",
					zap.String("asset_id", s.AssetID),
					zap.Error(err))
			}
			listings = append(listings, AssetListing{
				AssetID:  s.AssetID,
				Path:     s.Path,
				Size:     s.Size,
				Modified: modified,
			})
			if limit > 0 && len(listings) >= limit {
				c.logger.Debug("asset listing capped",
					zap.String("identifier", identifier),
					zap.Int("limit", limit))
				return listings, nil
			}
		}
		endpoint = page.Next
	}

	return listings, nil
}

// statusError carries an HTTP status so callers can distinguish a missing
// resource from a transport failure.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("archive returned status %d for %s", e.status, e.url)
}

// IsRetryable lets pkg/retry skip retries on client errors other than 429.
func (e *statusError) IsRetryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

// getJSON performs one GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &statusError{status: resp.StatusCode, url: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", endpoint, err)
	}
	return nil
}

// joinURL joins path segments onto a base URL.
func joinURL(baseURL string, segments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	parts := append([]string{u.Path}, segments...)
	u.Path = path.Join(parts...)
	return u.String(), nil
}
