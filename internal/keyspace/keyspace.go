// Package keyspace maps broadcast ids and statistic kinds to shared-store keys.
package keyspace

import (
	"fmt"
	"strconv"
	"time"
)

const (
	broadcastPrefix = "broadcast:%d:"
	vodPrefix       = "vod:%d:"

	// VodStatsDirty is the set of broadcast ids with unconsumed VOD deltas.
	VodStatsDirty = "vod:stats:dirty"
	// VodStatsFlushLock guards one rollup cycle across processes.
	VodStatsFlushLock = "lock:vod:stats:flush"
	// ViewerChannelPattern matches every per-broadcast viewer-count channel.
	ViewerChannelPattern = "live:*:viewers"
)

const (
	// LiveTTL is the sliding expiry applied to per-broadcast live keys.
	LiveTTL = 24 * time.Hour
	// ReportTTL is the expiry applied to the live report-user set on first report.
	ReportTTL = 24 * time.Hour
	// MediaConfigTTL bounds stored seller device settings.
	MediaConfigTTL = 24 * time.Hour
)

// Kind identifies one statistic kept per broadcast.
type Kind string

// Live statistic kinds.
const (
	ActiveViewers  Kind = "active_uv"
	SessionCounts  Kind = "session_counts"
	TotalViewers   Kind = "total_uv"
	LikeUsers      Kind = "like_users"
	Sanctions      Kind = "sanctions"
	ReportUsers    Kind = "report_users"
	ReportCount    Kind = "reports"
	MaxViewers     Kind = "max_viewers"
	MaxViewersTime Kind = "max_viewers_time"
)

// VOD statistic kinds.
const (
	VodViewers     Kind = "viewers"
	VodViewDelta   Kind = "view_delta"
	VodLikeUsers   Kind = "like_users"
	VodLikeDelta   Kind = "like_delta"
	VodReportUsers Kind = "report_users"
	VodReportDelta Kind = "report_delta"
)

// KeySpace derives every key for one broadcast id.
type KeySpace struct {
	BroadcastID int64
}

// For returns the KeySpace of a broadcast.
func For(broadcastID int64) KeySpace {
	return KeySpace{BroadcastID: broadcastID}
}

// Live returns the live key for kind.
func (k KeySpace) Live(kind Kind) string {
	return fmt.Sprintf(broadcastPrefix, k.BroadcastID) + string(kind)
}

// Vod returns the VOD key for kind.
func (k KeySpace) Vod(kind Kind) string {
	return fmt.Sprintf(vodPrefix, k.BroadcastID) + string(kind)
}

func (k KeySpace) ActiveViewers() string  { return k.Live(ActiveViewers) }
func (k KeySpace) SessionCounts() string  { return k.Live(SessionCounts) }
func (k KeySpace) TotalViewers() string   { return k.Live(TotalViewers) }
func (k KeySpace) LikeUsers() string      { return k.Live(LikeUsers) }
func (k KeySpace) Sanctions() string      { return k.Live(Sanctions) }
func (k KeySpace) ReportUsers() string    { return k.Live(ReportUsers) }
func (k KeySpace) ReportCount() string    { return k.Live(ReportCount) }
func (k KeySpace) MaxViewers() string     { return k.Live(MaxViewers) }
func (k KeySpace) MaxViewersTime() string { return k.Live(MaxViewersTime) }

func (k KeySpace) VodViewers() string     { return k.Vod(VodViewers) }
func (k KeySpace) VodViewDelta() string   { return k.Vod(VodViewDelta) }
func (k KeySpace) VodLikeUsers() string   { return k.Vod(VodLikeUsers) }
func (k KeySpace) VodLikeDelta() string   { return k.Vod(VodLikeDelta) }
func (k KeySpace) VodReportUsers() string { return k.Vod(VodReportUsers) }
func (k KeySpace) VodReportDelta() string { return k.Vod(VodReportDelta) }

// MediaConfig is the hash of a seller's device settings for this broadcast.
func (k KeySpace) MediaConfig(sellerID int64) string {
	return k.Live(Kind("media:" + strconv.FormatInt(sellerID, 10)))
}

// ScheduleNotice is the dedupe marker for one notice type.
func (k KeySpace) ScheduleNotice(noticeType string) string {
	return k.Live(Kind("notice:" + noticeType))
}

// ViewerChannel is the pub/sub channel carrying this broadcast's viewer count.
func (k KeySpace) ViewerChannel() string {
	return fmt.Sprintf("live:%d:viewers", k.BroadcastID)
}

// ViewerTopic is the client-facing topic for this broadcast's viewer count.
func (k KeySpace) ViewerTopic() string {
	return fmt.Sprintf("/sub/live/%d/viewers", k.BroadcastID)
}

// TeardownKeys lists every live key removed when a broadcast room is closed.
func (k KeySpace) TeardownKeys() []string {
	return []string{
		k.ActiveViewers(),
		k.SessionCounts(),
		k.TotalViewers(),
		k.LikeUsers(),
		k.Sanctions(),
		k.ReportUsers(),
		k.ReportCount(),
		k.MaxViewers(),
		k.MaxViewersTime(),
	}
}

// ViewHistoryBuffer is the list buffering raw view events of one type.
func ViewHistoryBuffer(historyType string) string {
	return "view_history:buffer:" + historyType
}

// ParseViewerChannel extracts the broadcast id from a viewer-count channel name.
func ParseViewerChannel(channel string) (int64, bool) {
	var id int64
	if _, err := fmt.Sscanf(channel, "live:%d:viewers", &id); err != nil || id <= 0 {
		return 0, false
	}
	if channel != For(id).ViewerChannel() {
		return 0, false
	}
	return id, true
}
