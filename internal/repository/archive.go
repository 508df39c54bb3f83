package repository

import (
	"context"

	"livecount/internal/engagement"
	"livecount/internal/models"

	"gorm.io/gorm"
)

// Archive is the durable side of the engine. It receives flushed VOD deltas and
// drained view history, and serves totals and broadcast summaries back.
type Archive struct {
	Vods       VodStatsRepository
	History    ViewHistoryRepository
	Broadcasts BroadcastSummaryRepository
}

// NewArchive builds an Archive over db.
func NewArchive(db *gorm.DB) *Archive {
	return &Archive{
		Vods:       NewVodStatsRepository(db),
		History:    NewViewHistoryRepository(db),
		Broadcasts: NewBroadcastSummaryRepository(db),
	}
}

// ApplyVodDelta adds a flushed delta to the VOD's durable totals.
func (a *Archive) ApplyVodDelta(ctx context.Context, vodID int64, d engagement.VodStatsDelta) error {
	return a.Vods.ApplyVodDelta(ctx, vodID, d)
}

// SaveViewHistory stores drained view events.
func (a *Archive) SaveViewHistory(ctx context.Context, rows []models.ViewHistory) error {
	return a.History.SaveViewHistory(ctx, rows)
}

// VodStats returns the durable totals of vodID, or nil when none were flushed yet.
func (a *Archive) VodStats(ctx context.Context, vodID int64) (*models.VodStats, error) {
	return a.Vods.GetVodStats(ctx, vodID)
}

// SaveBroadcastSummary stores the teardown snapshot of a broadcast.
func (a *Archive) SaveBroadcastSummary(ctx context.Context, s *models.BroadcastSummary) error {
	return a.Broadcasts.SaveBroadcastSummary(ctx, s)
}

// BroadcastSummary returns the stored teardown snapshot, or nil.
func (a *Archive) BroadcastSummary(ctx context.Context, broadcastID int64) (*models.BroadcastSummary, error) {
	return a.Broadcasts.GetBroadcastSummary(ctx, broadcastID)
}
