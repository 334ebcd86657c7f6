package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/config"
	"github.com/dandisql/mirror/pkg/dandi"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/models"
	"github.com/dandisql/mirror/pkg/repositories"
)

// Options control one sync invocation.
type Options struct {
	DryRun               bool       // report what would change without writing
	ForceFullSync        bool       // ignore the watermark, reprocess everything
	DandisetID           string     // restrict the run to one dandiset
	Since                *time.Time // watermark override
	DandisetsOnly        bool       // skip per-dandiset asset processing
	AssetsOnly           bool       // skip dandiset metadata updates
	SkipLindi            bool
	SkipDeletions        bool
	MaxAssetsPerDandiset int // 0 uses the configured default
	WorkerCount          int // enrichment pool size; 0 uses the configured default
}

// Summary is what one run did, returned to the caller and mirrored into the
// sync ledger.
type Summary struct {
	RunID            uuid.UUID
	SyncType         string
	DandisetsChecked int
	DandisetsUpdated int
	DandisetsDeleted int
	AssetsChecked    int
	AssetsUpdated    int
	AssetsDeleted    int
	LindiProcessed   int
	LindiSkipped     int
	LindiErrors      int
	Errors           int
	Duration         time.Duration
}

// SyncService drives one incremental mirror pass: list remote dandisets,
// detect changes against the watermark, fetch and upsert changed documents,
// reconcile deletions, and enrich NWB assets. One failed entity never aborts
// the run; fatal failures finalize the ledger row as failed before returning.
type SyncService interface {
	Run(ctx context.Context, opts Options) (*Summary, error)
}

type syncService struct {
	db       *database.DB
	client   *dandi.Client
	bulk     *dandi.BulkStore
	upsert   UpsertService
	deletion DeletionService
	lindi    LindiEnrichmentService
	assets   repositories.AssetRepository
	dands    repositories.DandisetRepository
	syncRuns repositories.SyncRunRepository
	cfg      config.SyncConfig
	logger   *zap.Logger
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	db *database.DB,
	client *dandi.Client,
	bulk *dandi.BulkStore,
	upsert UpsertService,
	deletion DeletionService,
	lindi LindiEnrichmentService,
	assets repositories.AssetRepository,
	dands repositories.DandisetRepository,
	syncRuns repositories.SyncRunRepository,
	cfg config.SyncConfig,
	logger *zap.Logger,
) SyncService {
	return &syncService{
		db:       db,
		client:   client,
		bulk:     bulk,
		upsert:   upsert,
		deletion: deletion,
		lindi:    lindi,
		assets:   assets,
		dands:    dands,
		syncRuns: syncRuns,
		cfg:      cfg,
		logger:   logger.Named("sync"),
	}
}

var _ SyncService = (*syncService)(nil)

func (s *syncService) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	// Reads outside per-entity transactions go straight to the pool.
	ctx = database.SetScope(ctx, s.db.Pool)

	scope := syncScope(opts)
	summary := &Summary{SyncType: scope}

	var run *models.SyncRun
	if !opts.DryRun {
		run = &models.SyncRun{SyncType: scope, Status: models.SyncStatusRunning}
		if err := s.syncRuns.Create(ctx, run); err != nil {
			return summary, fmt.Errorf("failed to create sync run: %w", err)
		}
		summary.RunID = run.ID
	}

	watermark, err := s.resolveWatermark(ctx, scope, opts)
	if err != nil {
		return summary, s.finalizeFailed(ctx, run, summary, start, err)
	}

	listings, err := s.worklist(ctx, opts)
	if err != nil {
		return summary, s.finalizeFailed(ctx, run, summary, start, err)
	}

	s.logger.Info("sync started",
		zap.String("sync_type", scope),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("listed", len(listings)),
		zap.Timep("watermark", watermark))

	var runID *uuid.UUID
	if run != nil {
		runID = &run.ID
	}

	for i := range listings {
		if err := ctx.Err(); err != nil {
			return summary, s.finalizeFailed(ctx, run, summary, start, err)
		}
		listing := &listings[i]
		summary.DandisetsChecked++

		if !DandisetNeedsUpdate(listing.Modified, watermark) {
			continue
		}
		if opts.DryRun {
			summary.DandisetsUpdated++
			s.logger.Info("would update dandiset",
				zap.String("dandi_id", listing.DandiID()))
			continue
		}
		if err := s.processDandiset(ctx, listing, opts, watermark, runID, summary); err != nil {
			summary.Errors++
			s.logger.Error("dandiset sync failed",
				zap.String("dandi_id", listing.DandiID()),
				zap.Error(err))
		}
	}

	if s.dandisetDeletionEnabled(scope, opts) {
		remoteBase := make(map[string]bool, len(listings))
		for i := range listings {
			remoteBase["DANDI:"+listings[i].Identifier] = true
		}
		dsDeleted, orphans, err := s.deletion.ReconcileDandisets(ctx, remoteBase)
		summary.DandisetsDeleted += dsDeleted
		summary.AssetsDeleted += orphans
		if err != nil {
			summary.Errors++
			s.logger.Error("dandiset deletion pass failed", zap.Error(err))
		}
	}

	if !opts.SkipLindi && !opts.DryRun && !opts.DandisetsOnly {
		stats, err := s.lindi.EnrichAssets(ctx, runID, LindiOptions{
			Reprocess: opts.ForceFullSync,
			Workers:   opts.WorkerCount,
		})
		summary.LindiProcessed = stats.Processed
		summary.LindiSkipped = stats.Skipped
		summary.LindiErrors = stats.Errors
		if err != nil {
			summary.Errors++
			s.logger.Error("lindi enrichment pass failed", zap.Error(err))
		}
	}

	summary.Duration = time.Since(start)
	if run != nil {
		run.Status = models.SyncStatusCompleted
		// The watermark is the run's start time, not its end: anything
		// modified remotely while the run was in flight gets picked up again
		// next time instead of being lost in the gap.
		run.LastSyncTimestamp = start.UTC()
		s.copyCounts(run, summary)
		if err := s.syncRuns.Finalize(ctx, run); err != nil {
			return summary, fmt.Errorf("failed to finalize sync run: %w", err)
		}
	}

	s.logger.Info("sync completed",
		zap.String("sync_type", scope),
		zap.Int("dandisets_checked", summary.DandisetsChecked),
		zap.Int("dandisets_updated", summary.DandisetsUpdated),
		zap.Int("assets_updated", summary.AssetsUpdated),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// processDandiset applies one changed dandiset: document upsert in its own
// transaction, then the asset pass.
func (s *syncService) processDandiset(ctx context.Context, listing *dandi.DandisetListing, opts Options, watermark *time.Time, runID *uuid.UUID, summary *Summary) error {
	var ds *models.Dandiset

	if opts.AssetsOnly {
		existing, err := s.dands.GetByDandiID(ctx, listing.DandiID())
		if err != nil {
			return err
		}
		ds = existing
	}

	if ds == nil {
		doc, err := s.bulk.DandisetDocument(ctx, listing.Identifier, listing.Version)
		if err != nil {
			return err
		}
		info := VersionInfo{
			Version:  listing.Version,
			IsDraft:  listing.IsDraft,
			IsLatest: true,
		}
		err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
			applied, _, txErr := s.upsert.ApplyDandisetDocument(ctx, doc, info, runID)
			if txErr == nil {
				ds = applied
			}
			return txErr
		})
		if err != nil {
			return err
		}
		if !opts.AssetsOnly {
			summary.DandisetsUpdated++
		}
	}

	if opts.DandisetsOnly {
		return nil
	}
	return s.processAssets(ctx, listing, ds, opts, watermark, runID, summary)
}

func (s *syncService) processAssets(ctx context.Context, listing *dandi.DandisetListing, ds *models.Dandiset, opts Options, watermark *time.Time, runID *uuid.UUID, summary *Summary) error {
	docs, err := s.bulk.AssetDocuments(ctx, listing.Identifier, listing.Version)
	if err != nil {
		return err
	}

	// Snapshot before capping: the deletion pass needs the complete remote
	// set or it would remove live assets.
	remoteIDs := make(map[string]bool, len(docs))
	for i := range docs {
		remoteIDs[docs[i].AssetID()] = true
	}

	maxAssets := opts.MaxAssetsPerDandiset
	if maxAssets <= 0 {
		maxAssets = s.cfg.MaxAssetsPerDandiset
	}
	truncated := len(docs) > maxAssets
	if truncated {
		s.logger.Warn("asset processing capped",
			zap.String("dandi_id", listing.DandiID()),
			zap.Int("listed", len(docs)),
			zap.Int("cap", maxAssets))
		docs = docs[:maxAssets]
	}

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := &docs[i]
		summary.AssetsChecked++

		local, err := s.assets.GetByDandiAssetID(ctx, doc.AssetID())
		if err != nil {
			summary.Errors++
			s.logger.Error("asset lookup failed",
				zap.String("dandi_asset_id", doc.AssetID()),
				zap.Error(err))
			continue
		}
		remoteModified := parseListingTime(doc.DateModified)
		remoteBlob := parseListingTime(doc.BlobDateModified)
		if !AssetNeedsUpdate(remoteModified, remoteBlob, watermark, local) {
			continue
		}

		err = database.WithTx(ctx, s.db, func(ctx context.Context) error {
			_, _, txErr := s.upsert.ApplyAssetDocument(ctx, doc, ds.ID, doc.Path, runID)
			return txErr
		})
		if err != nil {
			summary.Errors++
			s.logger.Error("asset upsert failed",
				zap.String("dandi_asset_id", doc.AssetID()),
				zap.Error(err))
			continue
		}
		summary.AssetsUpdated++
	}

	// Deletion needs a run that saw the whole archive: a single-entity run
	// proves nothing about assets it never listed.
	if !opts.SkipDeletions && !truncated && opts.DandisetID == "" {
		deleted, err := s.deletion.ReconcileAssets(ctx, ds.ID, remoteIDs)
		summary.AssetsDeleted += deleted
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *syncService) resolveWatermark(ctx context.Context, scope string, opts Options) (*time.Time, error) {
	if opts.ForceFullSync {
		return nil, nil
	}
	if opts.Since != nil {
		return opts.Since, nil
	}
	prior, err := s.syncRuns.LatestCompletedRun(ctx, scope)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, nil
	}
	ts := prior.LastSyncTimestamp
	return &ts, nil
}

func (s *syncService) worklist(ctx context.Context, opts Options) ([]dandi.DandisetListing, error) {
	if opts.DandisetID != "" {
		listing, err := s.client.GetDandiset(ctx, opts.DandisetID)
		if err != nil {
			return nil, err
		}
		return []dandi.DandisetListing{*listing}, nil
	}
	return s.client.ListDandisets(ctx)
}

// dandisetDeletionEnabled: deleting dandisets requires a complete remote
// snapshot, so the pass only runs on unscoped full syncs.
func (s *syncService) dandisetDeletionEnabled(scope string, opts Options) bool {
	return scope == models.SyncTypeFull &&
		opts.DandisetID == "" &&
		!opts.SkipDeletions &&
		!opts.DryRun
}

func (s *syncService) finalizeFailed(ctx context.Context, run *models.SyncRun, summary *Summary, start time.Time, cause error) error {
	summary.Duration = time.Since(start)
	if run == nil {
		return cause
	}
	run.Status = models.SyncStatusFailed
	run.ErrorMessage = truncateError(cause.Error(), s.cfg.ErrorMessageLimit)
	s.copyCounts(run, summary)
	// The cause may be the run context itself expiring; the ledger write must
	// still land or the row stays running forever. WithoutCancel keeps the
	// scope value while shedding the dead deadline.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.syncRuns.Finalize(finCtx, run); err != nil {
		s.logger.Error("failed to finalize failed sync run",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
	return cause
}

func (s *syncService) copyCounts(run *models.SyncRun, summary *Summary) {
	run.DandisetsChecked = summary.DandisetsChecked
	run.DandisetsUpdated = summary.DandisetsUpdated
	run.DandisetsDeleted = summary.DandisetsDeleted
	run.AssetsChecked = summary.AssetsChecked
	run.AssetsUpdated = summary.AssetsUpdated
	run.AssetsDeleted = summary.AssetsDeleted
	run.LindiProcessed = summary.LindiProcessed
	run.DurationSeconds = summary.Duration.Seconds()
}

// syncScope derives the ledger scope from the run options.
func syncScope(opts Options) string {
	switch {
	case opts.DandisetsOnly:
		return models.SyncTypeDandisets
	case opts.AssetsOnly:
		return models.SyncTypeAssets
	default:
		return models.SyncTypeFull
	}
}

func truncateError(msg string, limit int) string {
	if limit <= 0 {
		limit = 1000
	}
	if len(msg) > limit {
		return msg[:limit]
	}
	return msg
}

// parseListingTime parses a document timestamp for change detection;
// malformed values read as unknown, which errs toward refetching.
func parseListingTime(value string) *time.Time {
	t, err := models.ParseTime(value)
	if err != nil {
		return nil
	}
	return t
}
