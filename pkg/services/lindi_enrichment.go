package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/apperrors"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/lindi"
	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
	"github.com/dandisql/mirror/pkg/workerpool"
)

// LindiOptions controls one enrichment pass.
type LindiOptions struct {
	Reprocess bool // refetch assets that already have a structure record
	Limit     int  // cap on candidates this pass; 0 means no cap
	Workers   int  // concurrent fetches; 0 uses the pool default
}

// LindiStats reports the outcome of one enrichment pass. Every submitted
// candidate lands in exactly one of Processed, Skipped or Errors.
type LindiStats struct {
	Submitted int
	Processed int
	Skipped   int
	Errors    int
}

// LindiEnrichmentService fetches derived NWB structure documents for eligible
// assets, filters out inline payloads, and stores the result. Enrichment is
// best-effort: assets whose structure document does not exist are skipped,
// fetch or store failures are counted and logged without failing the pass.
type LindiEnrichmentService interface {
	EnrichAssets(ctx context.Context, runID *uuid.UUID, opts LindiOptions) (LindiStats, error)
}

type lindiEnrichmentService struct {
	db        *database.DB
	client    *lindi.Client
	assetRepo repositories.AssetRepository
	lindiRepo repositories.LindiRepository
	logger    *zap.Logger
}

// NewLindiEnrichmentService creates a new LindiEnrichmentService.
func NewLindiEnrichmentService(db *database.DB, client *lindi.Client, assetRepo repositories.AssetRepository, lindiRepo repositories.LindiRepository, logger *zap.Logger) LindiEnrichmentService {
	return &lindiEnrichmentService{
		db:        db,
		client:    client,
		assetRepo: assetRepo,
		lindiRepo: lindiRepo,
		logger:    logger.Named("lindi"),
	}
}

var _ LindiEnrichmentService = (*lindiEnrichmentService)(nil)

// lindiOutcome is what one work item resolved to.
type lindiOutcome int

const (
	lindiProcessed lindiOutcome = iota
	lindiSkipped
)

func (s *lindiEnrichmentService) EnrichAssets(ctx context.Context, runID *uuid.UUID, opts LindiOptions) (LindiStats, error) {
	candidates, err := s.assetRepo.ListLindiEligible(ctx, opts.Reprocess, opts.Limit)
	if err != nil {
		return LindiStats{}, err
	}
	stats := LindiStats{Submitted: len(candidates)}
	if len(candidates) == 0 {
		return stats, nil
	}

	pool := workerpool.New(workerpool.Config{MaxConcurrent: opts.Workers}, s.logger)
	items := make([]workerpool.Item[lindiOutcome], 0, len(candidates))
	for _, c := range candidates {
		candidate := c
		items = append(items, workerpool.Item[lindiOutcome]{
			ID: candidate.DandiAssetID,
			Execute: func(ctx context.Context) (lindiOutcome, error) {
				return s.enrichOne(ctx, candidate, runID)
			},
		})
	}

	s.logger.Info("starting structure enrichment",
		zap.Int("candidates", len(candidates)),
		zap.Bool("reprocess", opts.Reprocess))

	results := workerpool.Process(ctx, pool, items, func(completed, total int) {
		if completed%100 == 0 || completed == total {
			s.logger.Info("enrichment progress",
				zap.Int("completed", completed),
				zap.Int("total", total))
		}
	})

	for _, r := range results {
		switch {
		case r.Err != nil:
			stats.Errors++
			s.logger.Warn("structure enrichment failed",
				zap.String("dandi_asset_id", r.ID),
				zap.Error(r.Err))
		case r.Result == lindiSkipped:
			stats.Skipped++
		default:
			stats.Processed++
		}
	}
	return stats, nil
}

func (s *lindiEnrichmentService) enrichOne(ctx context.Context, candidate repositories.LindiCandidate, runID *uuid.UUID) (lindiOutcome, error) {
	number := dandisetNumber(candidate.DandisetBase)

	doc, err := s.client.FetchStructure(ctx, number, candidate.DandiAssetID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRemoteNotFound) {
			// No derived document exists for this asset; nothing to store.
			return lindiSkipped, nil
		}
		return lindiSkipped, err
	}

	filtered := lindi.Filter(doc)
	structure := map[string]any{"refs": filtered.Refs}
	if len(filtered.GenerationMetadata) > 0 {
		structure["generationMetadata"] = filtered.GenerationMetadata
	}

	lm := &models.LindiMetadata{
		AssetID:           candidate.AssetID,
		StructureMetadata: structure,
		LindiURL:          s.client.URL(number, candidate.DandiAssetID),
		ProcessingVersion: models.LindiProcessingVersion,
		SyncRunID:         runID,
	}
	err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
		return s.lindiRepo.Upsert(ctx, lm)
	})
	if err != nil {
		return lindiSkipped, err
	}
	return lindiProcessed, nil
}

// dandisetNumber extracts the zero-padded number from a base id,
// e.g. "DANDI:000003" → "000003".
func dandisetNumber(baseID string) string {
	if i := strings.LastIndexByte(baseID, ':'); i >= 0 {
		return baseID[i+1:]
	}
	return baseID
}
