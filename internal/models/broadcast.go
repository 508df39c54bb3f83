// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// BroadcastSummary is the durable snapshot of a live broadcast's counters,
// written once when the broadcast is torn down.
type BroadcastSummary struct {
	BroadcastID   int64      `gorm:"primaryKey;autoIncrement:false" json:"broadcast_id" yaml:"broadcast_id"`
	PeakViewers   int64      `gorm:"not null;default:0" json:"peak_viewers" yaml:"peak_viewers"`
	PeakViewersAt *time.Time `json:"peak_viewers_at,omitempty" yaml:"peak_viewers_at,omitempty"`
	TotalViewers  int64      `gorm:"not null;default:0" json:"total_viewers" yaml:"total_viewers"`
	LikeCount     int64      `gorm:"not null;default:0" json:"like_count" yaml:"like_count"`
	ReportCount   int64      `gorm:"not null;default:0" json:"report_count" yaml:"report_count"`
	EndedAt       time.Time  `gorm:"not null;index" json:"ended_at" yaml:"ended_at"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
}

// MediaConfig is a seller's saved device setup for one broadcast.
type MediaConfig struct {
	CameraID     string `json:"cameraId" yaml:"cameraId"`
	MicrophoneID string `json:"microphoneId" yaml:"microphoneId"`
	CameraOn     bool   `json:"cameraOn" yaml:"cameraOn"`
	MicrophoneOn bool   `json:"microphoneOn" yaml:"microphoneOn"`
	Volume       int    `json:"volume" yaml:"volume"`
}

// BroadcastStats is the realtime engagement snapshot served to clients.
type BroadcastStats struct {
	BroadcastID    int64      `json:"broadcastId" yaml:"broadcastId"`
	Realtime       int64      `json:"realtime" yaml:"realtime"`
	TotalUnique    int64      `json:"totalUnique" yaml:"totalUnique"`
	Likes          int64      `json:"likes" yaml:"likes"`
	Reports        int64      `json:"reports" yaml:"reports"`
	MaxViewers     int64      `json:"maxViewers" yaml:"maxViewers"`
	MaxViewersTime *time.Time `json:"maxViewersTime,omitempty" yaml:"maxViewersTime,omitempty"`
}

// TableName returns the database table name for BroadcastSummary.
func (BroadcastSummary) TableName() string {
	return "broadcast_summaries"
}
