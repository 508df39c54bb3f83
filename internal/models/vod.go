package models

import (
	"time"
)

// VodStats holds the durable view, like and report totals of a recorded broadcast.
// Rows are only changed by adding flushed deltas.
type VodStats struct {
	VodID       int64     `gorm:"primaryKey;autoIncrement:false" json:"vod_id" yaml:"vod_id"`
	ViewCount   int64     `gorm:"not null;default:0" json:"view_count" yaml:"view_count"`
	LikeCount   int64     `gorm:"not null;default:0" json:"like_count" yaml:"like_count"`
	ReportCount int64     `gorm:"not null;default:0" json:"report_count" yaml:"report_count"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// ViewHistory is one drained view event.
type ViewHistory struct {
	ID          uint      `gorm:"primaryKey" json:"id" yaml:"id"`
	ViewType    string    `gorm:"size:16;not null;index:idx_view_histories_target" json:"view_type" yaml:"view_type"` // "live" or "vod"
	BroadcastID int64     `gorm:"not null;index:idx_view_histories_target" json:"broadcast_id" yaml:"broadcast_id"`
	ViewerID    string    `gorm:"size:64;not null;index" json:"viewer_id" yaml:"viewer_id"`
	ViewedAt    time.Time `gorm:"not null" json:"viewed_at" yaml:"viewed_at"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// VodStatsResponse combines durable totals with deltas still waiting for a flush.
type VodStatsResponse struct {
	VodID          int64 `json:"vodId" yaml:"vodId"`
	Views          int64 `json:"views" yaml:"views"`
	Likes          int64 `json:"likes" yaml:"likes"`
	Reports        int64 `json:"reports" yaml:"reports"`
	PendingViews   int64 `json:"pendingViews" yaml:"pendingViews"`
	PendingLikes   int64 `json:"pendingLikes" yaml:"pendingLikes"`
	PendingReports int64 `json:"pendingReports" yaml:"pendingReports"`
}

// TableName returns the database table name for VodStats.
func (VodStats) TableName() string {
	return "vod_stats"
}

// TableName returns the database table name for ViewHistory.
func (ViewHistory) TableName() string {
	return "view_histories"
}
