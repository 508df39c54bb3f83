package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySpace_LiveKeys(t *testing.T) {
	t.Parallel()
	k := For(100)

	tests := []struct {
		got      string
		expected string
	}{
		{k.ActiveViewers(), "broadcast:100:active_uv"},
		{k.SessionCounts(), "broadcast:100:session_counts"},
		{k.TotalViewers(), "broadcast:100:total_uv"},
		{k.LikeUsers(), "broadcast:100:like_users"},
		{k.Sanctions(), "broadcast:100:sanctions"},
		{k.ReportUsers(), "broadcast:100:report_users"},
		{k.ReportCount(), "broadcast:100:reports"},
		{k.MaxViewers(), "broadcast:100:max_viewers"},
		{k.MaxViewersTime(), "broadcast:100:max_viewers_time"},
		{k.MediaConfig(7), "broadcast:100:media:7"},
		{k.ScheduleNotice("start"), "broadcast:100:notice:start"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.got)
	}
}

func TestKeySpace_VodKeys(t *testing.T) {
	t.Parallel()
	k := For(42)

	assert.Equal(t, "vod:42:viewers", k.VodViewers())
	assert.Equal(t, "vod:42:view_delta", k.VodViewDelta())
	assert.Equal(t, "vod:42:like_users", k.VodLikeUsers())
	assert.Equal(t, "vod:42:like_delta", k.VodLikeDelta())
	assert.Equal(t, "vod:42:report_users", k.VodReportUsers())
	assert.Equal(t, "vod:42:report_delta", k.VodReportDelta())
	assert.Equal(t, "view_history:buffer:vod", ViewHistoryBuffer("vod"))
}

func TestKeySpace_TeardownKeysAreLiveOnly(t *testing.T) {
	t.Parallel()
	keys := For(9).TeardownKeys()

	assert.Len(t, keys, 9)
	for _, key := range keys {
		assert.Contains(t, key, "broadcast:9:")
	}
	assert.NotContains(t, keys, For(9).VodViewDelta())
}

func TestParseViewerChannel(t *testing.T) {
	t.Parallel()

	id, ok := ParseViewerChannel(For(15).ViewerChannel())
	assert.True(t, ok)
	assert.Equal(t, int64(15), id)

	for _, bad := range []string{"live:abc:viewers", "live:0:viewers", "chat:conv:1", "live:5:viewersx"} {
		_, ok := ParseViewerChannel(bad)
		assert.False(t, ok, bad)
	}
	assert.Equal(t, "/sub/live/15/viewers", For(15).ViewerTopic())
}
