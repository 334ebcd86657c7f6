package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/dandisql/mirror/pkg/database"
	"github.com/dandisql/mirror/pkg/repositories"
)

// DeletionService reconciles the local mirror against remote listings,
// removing rows whose remote counterpart has disappeared. Each removal runs
// in its own transaction so one failure never rolls back unrelated deletions.
type DeletionService interface {
	// ReconcileDandisets deletes every local dandiset whose base id is absent
	// from remoteBaseIDs, then sweeps assets orphaned by those deletions.
	// remoteBaseIDs must be a complete snapshot of the archive listing; a
	// partial listing would delete live data.
	ReconcileDandisets(ctx context.Context, remoteBaseIDs map[string]bool) (dandisetsDeleted, assetsDeleted int, err error)
	// ReconcileAssets removes associations for assets no longer listed under
	// the dandiset, deleting the asset row itself when the association was
	// its last. Returns the number of asset rows deleted.
	ReconcileAssets(ctx context.Context, dandisetID int64, remoteAssetIDs map[string]bool) (assetsDeleted int, err error)
}

type deletionService struct {
	db           *database.DB
	dandisetRepo repositories.DandisetRepository
	assetRepo    repositories.AssetRepository
	logger       *zap.Logger
}

// NewDeletionService creates a new DeletionService.
func NewDeletionService(db *database.DB, dandisetRepo repositories.DandisetRepository, assetRepo repositories.AssetRepository, logger *zap.Logger) DeletionService {
	return &deletionService{
		db:           db,
		dandisetRepo: dandisetRepo,
		assetRepo:    assetRepo,
		logger:       logger.Named("deletion"),
	}
}

var _ DeletionService = (*deletionService)(nil)

func (s *deletionService) ReconcileDandisets(ctx context.Context, remoteBaseIDs map[string]bool) (int, int, error) {
	local, err := s.dandisetRepo.ListLatest(ctx)
	if err != nil {
		return 0, 0, err
	}

	var dandisetsDeleted int
	for _, ds := range local {
		if remoteBaseIDs[ds.BaseID] {
			continue
		}
		var removed int64
		err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
			var txErr error
			removed, txErr = s.dandisetRepo.DeleteByBaseID(ctx, ds.BaseID)
			return txErr
		})
		if err != nil {
			return dandisetsDeleted, 0, err
		}
		dandisetsDeleted += int(removed)
		s.logger.Info("deleted dandiset no longer present remotely",
			zap.String("base_id", ds.BaseID),
			zap.Int64("versions_removed", removed))
	}

	var orphans int64
	if dandisetsDeleted > 0 {
		err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
			var txErr error
			orphans, txErr = s.assetRepo.DeleteOrphans(ctx)
			return txErr
		})
		if err != nil {
			return dandisetsDeleted, 0, err
		}
		if orphans > 0 {
			s.logger.Info("swept orphaned assets", zap.Int64("deleted", orphans))
		}
	}
	return dandisetsDeleted, int(orphans), nil
}

func (s *deletionService) ReconcileAssets(ctx context.Context, dandisetID int64, remoteAssetIDs map[string]bool) (int, error) {
	associations, err := s.assetRepo.AssociationIDs(ctx, dandisetID)
	if err != nil {
		return 0, err
	}

	var assetsDeleted int
	for dandiAssetID, assetID := range associations {
		if remoteAssetIDs[dandiAssetID] {
			continue
		}
		var rowDeleted bool
		err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
			var txErr error
			rowDeleted, txErr = s.assetRepo.RemoveAssociation(ctx, assetID, dandisetID)
			return txErr
		})
		if err != nil {
			return assetsDeleted, err
		}
		if rowDeleted {
			assetsDeleted++
		}
		s.logger.Debug("removed stale asset association",
			zap.Int64("dandiset_id", dandisetID),
			zap.String("dandi_asset_id", dandiAssetID),
			zap.Bool("asset_row_deleted", rowDeleted))
	}
	return assetsDeleted, nil
}
