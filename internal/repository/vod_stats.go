package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livecount/internal/engagement"
	"livecount/internal/models"
	"livecount/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VodStatsRepository defines the interface for durable VOD totals
type VodStatsRepository interface {
	// ApplyVodDelta adds d to the totals of vodID, creating the row on first use.
	ApplyVodDelta(ctx context.Context, vodID int64, d engagement.VodStatsDelta) error
	// GetVodStats returns nil, nil when vodID has never been flushed.
	GetVodStats(ctx context.Context, vodID int64) (*models.VodStats, error)
}

type vodStatsRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
	now func() time.Time
}

// NewVodStatsRepository creates a new VOD stats repository
func NewVodStatsRepository(db *gorm.DB) VodStatsRepository {
	return &vodStatsRepository{
		db:  db,
		log: observability.NewRepoLogger("vod_stats"),
		now: time.Now,
	}
}

func (r *vodStatsRepository) ApplyVodDelta(ctx context.Context, vodID int64, d engagement.VodStatsDelta) (err error) {
	if vodID <= 0 {
		return engagement.ErrInvalidBroadcast
	}
	if d.IsZero() {
		return nil
	}

	ctx, finish := track(ctx, "ApplyVodDelta", "vod_stats")
	defer func() { finish(err) }()

	now := r.now().UTC()
	row := models.VodStats{
		VodID:       vodID,
		ViewCount:   d.View,
		LikeCount:   d.Like,
		ReportCount: d.Report,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vod_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"view_count":   gorm.Expr("vod_stats.view_count + excluded.view_count"),
			"like_count":   gorm.Expr("vod_stats.like_count + excluded.like_count"),
			"report_count": gorm.Expr("vod_stats.report_count + excluded.report_count"),
			"updated_at":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		r.log.LogError(ctx, err, "apply_delta")
		return fmt.Errorf("apply vod %d delta: %w", vodID, err)
	}

	r.log.LogUpdate(ctx, map[string]interface{}{
		"vod_id": vodID,
		"view":   d.View,
		"like":   d.Like,
		"report": d.Report,
	})
	return nil
}

func (r *vodStatsRepository) GetVodStats(ctx context.Context, vodID int64) (_ *models.VodStats, err error) {
	ctx, finish := track(ctx, "GetVodStats", "vod_stats")
	defer func() { finish(err) }()

	var row models.VodStats
	err = r.db.WithContext(ctx).Where("vod_id = ?", vodID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vod %d stats: %w", vodID, err)
	}
	return &row, nil
}
