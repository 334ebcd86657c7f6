// Package lindi fetches and filters derived structural metadata (LINDI
// documents) for NWB assets. Documents come from a secondary read-only
// service; a missing document is a normal condition, not an error.
package lindi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/apperrors"
)

// DefaultTimeout bounds LINDI service responses when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Document is the raw structural metadata document: a references map keyed by
// HDF5-style paths plus a block describing how the document was generated.
type Document struct {
	Refs               map[string]any `json:"refs"`
	GenerationMetadata map[string]any `json:"generationMetadata"`
}

// Client talks to the LINDI structural metadata service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientConfig holds LINDI client settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a LINDI service client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("lindi base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("lindi"),
	}, nil
}

// URL returns the document URL for one asset. dandisetNumber is the six-digit
// form ("000003"); assetID is the stable archive-wide asset id.
func (c *Client) URL(dandisetNumber, assetID string) string {
	return fmt.Sprintf("%s/dandisets/%s/assets/%s/nwb.lindi.json", c.baseURL, dandisetNumber, assetID)
}

// FetchStructure downloads and decodes one asset's structural document.
// A 404 surfaces as apperrors.ErrRemoteNotFound so callers can count a skip
// instead of an error.
func (c *Client) FetchStructure(ctx context.Context, dandisetNumber, assetID string) (*Document, error) {
	endpoint := c.URL(dandisetNumber, assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lindi document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lindi document for asset %s: %w", assetID, apperrors.ErrRemoteNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lindi service returned status %d for %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lindi document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: lindi document for asset %s: %v", apperrors.ErrMalformedDoc, assetID, err)
	}
	return &doc, nil
}
