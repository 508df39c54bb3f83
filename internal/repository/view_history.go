package repository

import (
	"context"
	"fmt"

	"livecount/internal/models"
	"livecount/internal/observability"

	"gorm.io/gorm"
)

const viewHistoryBatchSize = 200

// ViewHistoryRepository stores drained view events
type ViewHistoryRepository interface {
	SaveViewHistory(ctx context.Context, rows []models.ViewHistory) error
	CountViewHistory(ctx context.Context, viewType string, broadcastID int64) (int64, error)
}

type viewHistoryRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewViewHistoryRepository creates a new view history repository
func NewViewHistoryRepository(db *gorm.DB) ViewHistoryRepository {
	return &viewHistoryRepository{db: db, log: observability.NewRepoLogger("view_histories")}
}

func (r *viewHistoryRepository) SaveViewHistory(ctx context.Context, rows []models.ViewHistory) (err error) {
	if len(rows) == 0 {
		return nil
	}

	ctx, finish := track(ctx, "SaveViewHistory", "view_histories")
	defer func() { finish(err) }()

	if err = r.db.WithContext(ctx).CreateInBatches(rows, viewHistoryBatchSize).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return fmt.Errorf("save %d view history rows: %w", len(rows), err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"rows": len(rows)})
	return nil
}

func (r *viewHistoryRepository) CountViewHistory(ctx context.Context, viewType string, broadcastID int64) (n int64, err error) {
	ctx, finish := track(ctx, "CountViewHistory", "view_histories")
	defer func() { finish(err) }()

	err = r.db.WithContext(ctx).Model(&models.ViewHistory{}).
		Where("view_type = ? AND broadcast_id = ?", viewType, broadcastID).
		Count(&n).Error
	return n, err
}
