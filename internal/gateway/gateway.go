// Package gateway translates transport events and HTTP engagement requests
// into presence, ledger and peak-tracker calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"livecount/internal/engagement"
	"livecount/internal/featureflags"
	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/models"
	"livecount/internal/presence"
	"livecount/internal/store"
)

// View-history buffer types.
const (
	HistoryLive = "live"
	HistoryVod  = "vod"
)

var chatDestination = regexp.MustCompile(`^/sub/chat/(\d+)$`)

// ParseDestination extracts the broadcast id from a "/sub/chat/{id}" subscription.
func ParseDestination(destination string) (int64, bool) {
	m := chatDestination.FindStringSubmatch(destination)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Archive is durable storage for VOD totals and broadcast summaries.
type Archive interface {
	VodStats(ctx context.Context, vodID int64) (*models.VodStats, error)
	SaveBroadcastSummary(ctx context.Context, summary *models.BroadcastSummary) error
}

// Config wires a Gateway. Store, Tracker, Ledger and Peaks are required.
type Config struct {
	Store     store.CounterStore
	Tracker   *presence.Tracker
	Ledger    *engagement.Ledger
	Peaks     *engagement.PeakTracker
	Publisher presence.Publisher
	Archive   Archive
	Flags     *featureflags.Manager
	Now       func() time.Time
	Logger    *slog.Logger
}

// Gateway is the single entry point for engagement events.
type Gateway struct {
	store   store.CounterStore
	tracker *presence.Tracker
	ledger  *engagement.Ledger
	peaks   *engagement.PeakTracker
	pub     presence.Publisher
	archive Archive
	flags   *featureflags.Manager
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	g := &Gateway{
		store:   cfg.Store,
		tracker: cfg.Tracker,
		ledger:  cfg.Ledger,
		peaks:   cfg.Peaks,
		pub:     cfg.Publisher,
		archive: cfg.Archive,
		flags:   cfg.Flags,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = middleware.Logger
	}
	return g
}

// OnSubscribe handles a transport subscription. Destinations other than a
// broadcast chat topic are ignored. Store failures are logged, not returned.
func (g *Gateway) OnSubscribe(ctx context.Context, sessionID, viewerID, destination, role string) (int64, bool) {
	broadcastID, ok := ParseDestination(destination)
	if !ok {
		return 0, false
	}
	g.OnSubscribeBroadcast(ctx, sessionID, viewerID, broadcastID, role)
	return broadcastID, true
}

// OnSubscribeBroadcast registers sessionID as watching broadcastID.
func (g *Gateway) OnSubscribeBroadcast(ctx context.Context, sessionID, viewerID string, broadcastID int64, role string) {
	prev, had := g.tracker.BroadcastOf(sessionID)
	if err := g.tracker.RegisterViewer(ctx, sessionID, viewerID, broadcastID, role); err != nil {
		g.logger.WarnContext(ctx, "viewer registration failed",
			slog.String("session_id", sessionID),
			slog.Int64("broadcast_id", broadcastID),
			slog.String("error", err.Error()))
		return
	}
	if had && prev == broadcastID {
		return
	}
	if id, ok := g.tracker.BroadcastOf(sessionID); ok && id == broadcastID && g.historyEnabled(viewerID) {
		g.bufferHistory(ctx, HistoryLive, broadcastID, viewerID)
	}
}

// OnUnsubscribe handles an explicit unsubscribe.
func (g *Gateway) OnUnsubscribe(ctx context.Context, sessionID string) {
	g.unregister(ctx, sessionID, "unsubscribe")
}

// OnDisconnect handles a closed transport session.
func (g *Gateway) OnDisconnect(ctx context.Context, sessionID string) {
	g.unregister(ctx, sessionID, "disconnect")
}

func (g *Gateway) unregister(ctx context.Context, sessionID, reason string) {
	if err := g.tracker.UnregisterViewer(ctx, sessionID); err != nil {
		g.logger.WarnContext(ctx, "viewer unregistration failed",
			slog.String("session_id", sessionID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
}

// ToggleLike flips a member's like and returns the new state and like count.
func (g *Gateway) ToggleLike(ctx context.Context, broadcastID, memberID int64) (bool, int64, error) {
	liked, err := g.ledger.ToggleLike(ctx, broadcastID, memberID)
	if err != nil {
		return false, 0, err
	}
	count, err := g.ledger.LikeCount(ctx, broadcastID)
	return liked, count, err
}

// LikeCount returns a live broadcast's like count.
func (g *Gateway) LikeCount(ctx context.Context, broadcastID int64) (int64, error) {
	return g.ledger.LikeCount(ctx, broadcastID)
}

// ReportBroadcast records a member's report and returns whether it was new and the report count.
func (g *Gateway) ReportBroadcast(ctx context.Context, broadcastID, memberID int64) (bool, int64, error) {
	reported, err := g.ledger.ReportBroadcast(ctx, broadcastID, memberID)
	if err != nil {
		return false, 0, err
	}
	count, err := g.ledger.ReportCount(ctx, broadcastID)
	return reported, count, err
}

// ReportCount returns a live broadcast's report count.
func (g *Gateway) ReportCount(ctx context.Context, broadcastID int64) (int64, error) {
	return g.ledger.ReportCount(ctx, broadcastID)
}

// Stats snapshots a live broadcast's counters.
func (g *Gateway) Stats(ctx context.Context, broadcastID int64) (models.BroadcastStats, error) {
	stats := models.BroadcastStats{BroadcastID: broadcastID}
	var err error
	if stats.Realtime, err = g.ledger.RealtimeViewerCount(ctx, broadcastID); err != nil {
		return stats, err
	}
	if stats.TotalUnique, err = g.ledger.TotalUniqueViewerCount(ctx, broadcastID); err != nil {
		return stats, err
	}
	if stats.Likes, err = g.ledger.LikeCount(ctx, broadcastID); err != nil {
		return stats, err
	}
	if stats.Reports, err = g.ledger.ReportCount(ctx, broadcastID); err != nil {
		return stats, err
	}
	if stats.MaxViewers, err = g.peaks.MaxViewers(ctx, broadcastID); err != nil {
		return stats, err
	}
	at, ok, err := g.peaks.MaxViewersTime(ctx, broadcastID)
	if err != nil {
		return stats, err
	}
	if ok {
		stats.MaxViewersTime = &at
	}
	return stats, nil
}

// RecordVodView counts a VOD view by a member id or anonymous viewer UUID.
func (g *Gateway) RecordVodView(ctx context.Context, broadcastID int64, viewerID string) (bool, error) {
	counted, err := g.ledger.RecordVodView(ctx, broadcastID, viewerID)
	if err != nil {
		return false, err
	}
	if counted && g.historyEnabled(viewerID) {
		g.bufferHistory(ctx, HistoryVod, broadcastID, viewerID)
	}
	return counted, nil
}

// ToggleVodLike flips a member's VOD like.
func (g *Gateway) ToggleVodLike(ctx context.Context, broadcastID, memberID int64) (bool, error) {
	return g.ledger.ToggleVodLike(ctx, broadcastID, memberID)
}

// ReportVod records a member's VOD report.
func (g *Gateway) ReportVod(ctx context.Context, broadcastID, memberID int64) (bool, error) {
	return g.ledger.ReportVod(ctx, broadcastID, memberID)
}

// VodStats combines durable totals with deltas not yet flushed.
func (g *Gateway) VodStats(ctx context.Context, vodID int64) (models.VodStatsResponse, error) {
	resp := models.VodStatsResponse{VodID: vodID}
	if g.archive != nil {
		row, err := g.archive.VodStats(ctx, vodID)
		if err != nil {
			return resp, err
		}
		if row != nil {
			resp.Views, resp.Likes, resp.Reports = row.ViewCount, row.LikeCount, row.ReportCount
		}
	}
	var err error
	if resp.PendingViews, err = g.ledger.VodViewDelta(ctx, vodID); err != nil {
		return resp, err
	}
	if resp.PendingLikes, err = g.ledger.VodLikeDelta(ctx, vodID); err != nil {
		return resp, err
	}
	if resp.PendingReports, err = g.ledger.VodReportDelta(ctx, vodID); err != nil {
		return resp, err
	}
	return resp, nil
}

// SaveMediaConfig stores a seller's device settings.
func (g *Gateway) SaveMediaConfig(ctx context.Context, broadcastID, sellerID int64, cfg models.MediaConfig) error {
	return g.ledger.SaveMediaConfig(ctx, broadcastID, sellerID, cfg)
}

// MediaConfig loads a seller's device settings.
func (g *Gateway) MediaConfig(ctx context.Context, broadcastID, sellerID int64) (models.MediaConfig, bool, error) {
	return g.ledger.MediaConfig(ctx, broadcastID, sellerID)
}

// EndBroadcast snapshots a broadcast's live counters into the archive, then
// deletes every live key. Sessions still tracked locally for the broadcast
// unregister harmlessly later.
func (g *Gateway) EndBroadcast(ctx context.Context, broadcastID int64) (*models.BroadcastSummary, error) {
	if broadcastID <= 0 {
		return nil, engagement.ErrInvalidBroadcast
	}
	stats, err := g.Stats(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("snapshot broadcast %d: %w", broadcastID, err)
	}
	summary := &models.BroadcastSummary{
		BroadcastID:   broadcastID,
		PeakViewers:   stats.MaxViewers,
		PeakViewersAt: stats.MaxViewersTime,
		TotalViewers:  stats.TotalUnique,
		LikeCount:     stats.Likes,
		ReportCount:   stats.Reports,
		EndedAt:       g.now().UTC(),
	}

	var errs []error
	if g.archive != nil {
		if err := g.archive.SaveBroadcastSummary(ctx, summary); err != nil {
			// Teardown runs regardless.
			errs = append(errs, fmt.Errorf("save summary: %w", err))
		}
	}
	if err := g.store.Delete(ctx, keyspace.For(broadcastID).TeardownKeys()...); err != nil {
		return summary, errors.Join(append(errs, fmt.Errorf("teardown broadcast %d: %w", broadcastID, err))...)
	}
	if g.pub != nil {
		if err := g.pub.PublishViewerCount(ctx, broadcastID, 0); err != nil {
			g.logger.WarnContext(ctx, "final viewer count publish failed", slog.Int64("broadcast_id", broadcastID), slog.String("error", err.Error()))
		}
	}
	g.logger.InfoContext(ctx, "broadcast ended",
		slog.Int64("broadcast_id", broadcastID),
		slog.Int64("peak_viewers", summary.PeakViewers),
		slog.Int64("total_viewers", summary.TotalViewers))
	return summary, errors.Join(errs...)
}

// MarkNoticeOnce claims a schedule notice for a broadcast.
func (g *Gateway) MarkNoticeOnce(ctx context.Context, broadcastID int64, noticeType string, ttl time.Duration) (bool, error) {
	return g.ledger.MarkNoticeOnce(ctx, broadcastID, noticeType, ttl)
}

func (g *Gateway) historyEnabled(viewerID string) bool {
	if g.flags == nil {
		return false
	}
	memberID, _ := strconv.ParseInt(viewerID, 10, 64)
	return g.flags.Enabled(featureflags.ViewHistory, memberID)
}

func (g *Gateway) bufferHistory(ctx context.Context, historyType string, broadcastID int64, viewerID string) {
	if err := g.ledger.BufferViewHistory(ctx, historyType, broadcastID, viewerID); err != nil {
		g.logger.WarnContext(ctx, "view history not buffered",
			slog.String("type", historyType),
			slog.Int64("broadcast_id", broadcastID),
			slog.String("error", err.Error()))
	}
}
