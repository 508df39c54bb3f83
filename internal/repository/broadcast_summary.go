package repository

import (
	"context"
	"errors"
	"fmt"

	"livecount/internal/models"
	"livecount/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BroadcastSummaryRepository stores the final counters of ended broadcasts
type BroadcastSummaryRepository interface {
	// SaveBroadcastSummary inserts s or replaces an earlier summary for the same broadcast.
	SaveBroadcastSummary(ctx context.Context, s *models.BroadcastSummary) error
	// GetBroadcastSummary returns nil, nil when no summary was saved.
	GetBroadcastSummary(ctx context.Context, broadcastID int64) (*models.BroadcastSummary, error)
}

type broadcastSummaryRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewBroadcastSummaryRepository creates a new broadcast summary repository
func NewBroadcastSummaryRepository(db *gorm.DB) BroadcastSummaryRepository {
	return &broadcastSummaryRepository{db: db, log: observability.NewRepoLogger("broadcast_summaries")}
}

func (r *broadcastSummaryRepository) SaveBroadcastSummary(ctx context.Context, s *models.BroadcastSummary) (err error) {
	if s == nil || s.BroadcastID <= 0 {
		return errors.New("broadcast summary requires a broadcast id")
	}

	ctx, finish := track(ctx, "SaveBroadcastSummary", "broadcast_summaries")
	defer func() { finish(err) }()

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "broadcast_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"peak_viewers", "peak_viewers_at", "total_viewers",
			"like_count", "report_count", "ended_at", "updated_at",
		}),
	}).Create(s).Error
	if err != nil {
		r.log.LogError(ctx, err, "upsert")
		return fmt.Errorf("save broadcast %d summary: %w", s.BroadcastID, err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"broadcast_id": s.BroadcastID})
	return nil
}

func (r *broadcastSummaryRepository) GetBroadcastSummary(ctx context.Context, broadcastID int64) (_ *models.BroadcastSummary, err error) {
	ctx, finish := track(ctx, "GetBroadcastSummary", "broadcast_summaries")
	defer func() { finish(err) }()

	var row models.BroadcastSummary
	err = r.db.WithContext(ctx).Where("broadcast_id = ?", broadcastID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load broadcast %d summary: %w", broadcastID, err)
	}
	return &row, nil
}
