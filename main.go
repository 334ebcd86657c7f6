package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/config"
	"github.com/dandisql/mirror/pkg/dandi"
	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/diskcache"
	"github.com/dandisql/mirror/pkg/lindi"
	"github.com/dandisql/mirror/pkg/logging"
	"github.com/dandisql/mirror/pkg/repositories"
	"github.com/dandisql/mirror/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	var (
		dryRun        = flag.Bool("dry-run", false, "report what would change without writing")
		forceFull     = flag.Bool("force-full", false, "ignore the watermark and reprocess everything")
		dandisetID    = flag.String("dandiset", "", "sync a single dandiset (id such as 000003 or DANDI:000003)")
		since         = flag.String("since", "", "watermark override (RFC3339 or YYYY-MM-DD)")
		dandisetsOnly = flag.Bool("dandisets-only", false, "skip asset processing")
		assetsOnly    = flag.Bool("assets-only", false, "skip dandiset metadata updates")
		skipLindi     = flag.Bool("skip-lindi", false, "skip NWB structure enrichment")
		skipDeletions = flag.Bool("skip-deletions", false, "skip deletion reconciliation")
		maxAssets     = flag.Int("max-assets", 0, "cap assets processed per dandiset (0 = configured default)")
		workers       = flag.Int("workers", 0, "enrichment worker count (0 = configured default)")
		timeout       = flag.Duration("timeout", 0, "per-request timeout for remote fetches (0 = configured default)")
	)
	flag.Parse()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := services.Options{
		DryRun:               *dryRun,
		ForceFullSync:        *forceFull,
		DandisetID:           *dandisetID,
		DandisetsOnly:        *dandisetsOnly,
		AssetsOnly:           *assetsOnly,
		SkipLindi:            *skipLindi,
		SkipDeletions:        *skipDeletions,
		MaxAssetsPerDandiset: *maxAssets,
		WorkerCount:          *workers,
	}
	if *since != "" {
		t, err := parseSince(*since)
		if err != nil {
			logger.Fatal("Invalid -since value", zap.String("value", *since), zap.Error(err))
		}
		opts.Since = &t
	}

	summary, err := run(context.Background(), cfg, opts, *timeout, logger)
	if summary != nil {
		printSummary(summary)
	}
	if err != nil {
		logger.Error("Sync failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts services.Options, requestTimeout time.Duration, logger *zap.Logger) (*services.Summary, error) {
	if requestTimeout <= 0 {
		requestTimeout = cfg.Archive.RequestTimeout()
	}
	logger.Info("Starting mirror sync",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	// Migrations run over database/sql; the engine itself uses the pgx pool.
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	client, err := dandi.NewClient(dandi.ClientConfig{
		BaseURL: cfg.Archive.APIBaseURL,
		Timeout: requestTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	cache, err := diskcache.New(diskcache.Config{
		Dir: cfg.Cache.Dir,
		TTL: cfg.Cache.TTL(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if removed, err := cache.Purge(); err != nil {
		logger.Warn("Failed to purge expired cache entries", zap.Error(err))
	} else if removed > 0 {
		logger.Info("Purged expired cache entries", zap.Int("removed", removed))
	}

	bulk, err := dandi.NewBulkStore(dandi.BulkStoreConfig{
		BaseURL: cfg.Archive.BulkBaseURL,
		Timeout: requestTimeout,
	}, cache, logger)
	if err != nil {
		return nil, err
	}

	lindiClient, err := lindi.NewClient(lindi.ClientConfig{
		BaseURL: cfg.Archive.LindiBaseURL,
		Timeout: requestTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	dandisetRepo := repositories.NewDandisetRepository()
	assetRepo := repositories.NewAssetRepository()
	contributorRepo := repositories.NewContributorRepository()
	referenceRepo := repositories.NewReferenceRepository()
	activityRepo := repositories.NewActivityRepository()
	participantRepo := repositories.NewParticipantRepository()
	accessRepo := repositories.NewAccessRepository()
	resourceRepo := repositories.NewResourceRepository()
	summaryRepo := repositories.NewAssetsSummaryRepository()
	lindiRepo := repositories.NewLindiRepository()
	syncRunRepo := repositories.NewSyncRunRepository()

	upsert := services.NewUpsertService(
		dandisetRepo, assetRepo, contributorRepo, referenceRepo, activityRepo,
		participantRepo, accessRepo, resourceRepo, summaryRepo, logger)
	deletion := services.NewDeletionService(db, dandisetRepo, assetRepo, logger)

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = cfg.Sync.LindiWorkers
	}
	enrichment := services.NewLindiEnrichmentService(db, lindiClient, assetRepo, lindiRepo, logger)

	sync := services.NewSyncService(
		db, client, bulk, upsert, deletion, enrichment,
		assetRepo, dandisetRepo, syncRunRepo, cfg.Sync, logger)

	summary, runErr := sync.Run(ctx, opts)

	// Close the log with what the ledger actually recorded, even when the run
	// context died: the row is the durable record.
	if summary != nil && summary.RunID != uuid.Nil {
		lctx := database.SetScope(context.WithoutCancel(ctx), db.Pool)
		if run, err := syncRunRepo.GetByID(lctx, summary.RunID); err != nil {
			logger.Warn("Failed to read back sync run", zap.Error(err))
		} else if run != nil {
			logger.Info("Sync run recorded",
				zap.String("run_id", run.ID.String()),
				zap.String("status", run.Status),
				zap.String("sync_type", run.SyncType))
		}
	}
	return summary, runErr
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func parseSince(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func printSummary(s *services.Summary) {
	fmt.Printf("sync %s finished in %s\n", s.SyncType, s.Duration.Round(time.Millisecond))
	if s.RunID != uuid.Nil {
		fmt.Printf("  run id:    %s\n", s.RunID)
	}
	fmt.Printf("  dandisets: %d checked, %d updated, %d deleted\n",
		s.DandisetsChecked, s.DandisetsUpdated, s.DandisetsDeleted)
	fmt.Printf("  assets:    %d checked, %d updated, %d deleted\n",
		s.AssetsChecked, s.AssetsUpdated, s.AssetsDeleted)
	fmt.Printf("  lindi:     %d processed, %d skipped, %d errors\n",
		s.LindiProcessed, s.LindiSkipped, s.LindiErrors)
	if s.Errors > 0 {
		fmt.Printf("  errors:    %d\n", s.Errors)
	}
}
