package dandi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/diskcache"
	"github.com/dandisql/mirror/pkg/models"
)

// BulkStore fetches full metadata documents from the bulk document store,
// reading through the disk cache. Cache keys are (entity id, document name);
// a fresh hit never touches the network, and a document that fails to parse
// is never written to the cache.
type BulkStore struct {
	baseURL    string
	httpClient *http.Client
	cache      *diskcache.Cache
	logger     *zap.Logger
}

// BulkStoreConfig holds bulk store client settings.
type BulkStoreConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewBulkStore creates a bulk document client backed by cache.
func NewBulkStore(cfg BulkStoreConfig, cache *diskcache.Cache, logger *zap.Logger) (*BulkStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bulk store base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BulkStore{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:  cache,
		logger: logger.Named("bulkstore"),
	}, nil
}

// DandisetDocument fetches the full metadata document for one dandiset
// version.
func (b *BulkStore) DandisetDocument(ctx context.Context, identifier, version string) (*models.DandisetDocument, error) {
	key := fmt.Sprintf("dandisets/%s/%s/dandiset.jsonld", identifier, version)
	var doc models.DandisetDocument
	err := b.fetchDocument(ctx, key, func(data []byte) error {
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// AssetDocuments fetches the full asset metadata listing for one dandiset
// version. The store serves it either as a bare JSON array or wrapped in a
// results envelope.
func (b *BulkStore) AssetDocuments(ctx context.Context, identifier, version string) ([]models.AssetDocument, error) {
	key := fmt.Sprintf("dandisets/%s/%s/assets.jsonld", identifier, version)
	var docs []models.AssetDocument
	err := b.fetchDocument(ctx, key, func(data []byte) error {
		if err := json.Unmarshal(data, &docs); err == nil {
			return nil
		}
		var envelope struct {
			Results []models.AssetDocument `json:"results"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return err
		}
		docs = envelope.Results
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// fetchDocument resolves one cache key to parsed content: cache hit → parse
// from disk; miss → network fetch through a temp file, parse, write-through.
// A cached payload that no longer parses is treated as a miss and refetched.
func (b *BulkStore) fetchDocument(ctx context.Context, key string, parse func([]byte) error) error {
	if data, ok := b.cache.Get(key); ok {
		if err := parse(data); err == nil {
			b.logger.Debug("bulk document cache hit", zap.String("key", key))
			return nil
		}
		b.logger.Warn("corrupt cache entry, refetching", zap.String("key", key))
		if err := b.cache.Delete(key); err != nil {
			b.logger.Warn("failed to drop corrupt cache entry", zap.String("key", key), zap.Error(err))
		}
	}

	data, err := b.download(ctx, key)
	if err != nil {
		return err
	}
	if err := parse(data); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrMalformedDoc, key, err)
	}
	if err := b.cache.Put(key, data); err != nil {
		// A failed cache write costs a refetch next pass, nothing more.
		b.logger.Warn("failed to cache bulk document", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// download fetches one document, spooling the body through a temp file that
// is removed on every path so partial downloads never linger.
func (b *BulkStore) download(ctx context.Context, key string) ([]byte, error) {
	endpoint, err := joinURL(b.baseURL, key)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bulk document %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("bulk document %s: %w", key, apperrors.ErrRemoteNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{status: resp.StatusCode, url: endpoint}
	}

	tmp, err := os.CreateTemp("", "bulkdoc-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to spool bulk document %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	data, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, fmt.Errorf("failed to read spooled document: %w", err)
	}
	return data, nil
}
