package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"livecount/internal/engagement"
	"livecount/internal/featureflags"
	"livecount/internal/keyspace"
	"livecount/internal/models"
	"livecount/internal/presence"
	"livecount/internal/store"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	mu        sync.Mutex
	vods      map[int64]*models.VodStats
	summaries []*models.BroadcastSummary
	failSave  bool
}

func (a *fakeArchive) VodStats(_ context.Context, vodID int64) (*models.VodStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vods[vodID], nil
}

func (a *fakeArchive) SaveBroadcastSummary(_ context.Context, s *models.BroadcastSummary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSave {
		return errors.New("database down")
	}
	a.summaries = append(a.summaries, s)
	return nil
}

type countSpy struct {
	mu     sync.Mutex
	counts map[int64][]int64
}

func (s *countSpy) PublishViewerCount(_ context.Context, broadcastID, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[int64][]int64{}
	}
	s.counts[broadcastID] = append(s.counts[broadcastID], count)
	return nil
}

type fixture struct {
	store   *store.MemoryStore
	ledger  *engagement.Ledger
	archive *fakeArchive
	spy     *countSpy
	gw      *Gateway
}

var endedAt = time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, flags string) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	now := func() time.Time { return endedAt }
	ledger := engagement.NewLedger(engagement.LedgerConfig{Store: s, Now: now})
	peaks := engagement.NewPeakTracker(s, now)
	spy := &countSpy{}
	tracker := presence.NewTracker(presence.Config{
		Store:     s,
		Policy:    presence.DefaultRolePolicy(),
		Publisher: spy,
		Peaks:     peaks,
	})
	archive := &fakeArchive{vods: map[int64]*models.VodStats{}}
	return &fixture{
		store:   s,
		ledger:  ledger,
		archive: archive,
		spy:     spy,
		gw: New(Config{
			Store:     s,
			Tracker:   tracker,
			Ledger:    ledger,
			Peaks:     peaks,
			Publisher: spy,
			Archive:   archive,
			Flags:     featureflags.NewManager(flags),
			Now:       now,
		}),
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		destination string
		id          int64
		ok          bool
	}{
		{"/sub/chat/100", 100, true},
		{"/sub/chat/1", 1, true},
		{"/sub/chat/0", 0, false},
		{"/sub/chat/", 0, false},
		{"/sub/chat/12a", 0, false},
		{"/sub/chat/100/extra", 0, false},
		{"/sub/live/100/viewers", 0, false},
		{"/sub/chat/99999999999999999999", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.destination, func(t *testing.T) {
			id, ok := ParseDestination(tt.destination)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestGateway_TwoTabsEndToEnd(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	id, ok := f.gw.OnSubscribe(ctx, "s1", "v", "/sub/chat/100", "ROLE_MEMBER")
	require.True(t, ok)
	require.Equal(t, int64(100), id)
	f.gw.OnSubscribe(ctx, "s2", "v", "/sub/chat/100", "ROLE_MEMBER")

	stats, err := f.gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Realtime)
	assert.Equal(t, int64(1), stats.TotalUnique)

	f.gw.OnDisconnect(ctx, "s1")
	stats, err = f.gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Realtime)

	f.gw.OnUnsubscribe(ctx, "s2")
	stats, err = f.gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Realtime)
	assert.Equal(t, int64(1), stats.TotalUnique)
	assert.Equal(t, int64(1), stats.MaxViewers)
	require.NotNil(t, stats.MaxViewersTime)
	assert.True(t, endedAt.Equal(*stats.MaxViewersTime))
}

func TestGateway_PeakKeepsHighestActiveCount(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	for i, v := range []string{"a", "b", "c"} {
		f.gw.OnSubscribe(ctx, fmt.Sprintf("s%d", i), v, "/sub/chat/200", "")
	}
	f.gw.OnDisconnect(ctx, "s0")
	f.gw.OnUnsubscribe(ctx, "s1")
	f.gw.OnSubscribe(ctx, "s3", "d", "/sub/chat/200", "")

	stats, err := f.gw.Stats(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Realtime)
	assert.Equal(t, int64(3), stats.MaxViewers)

	faker := gofakeit.New(7)
	viewers := []string{"a", "b", "c", "d", "e"}
	var highest int64
	for step := 0; step < 300; step++ {
		n := faker.Number(0, 7)
		session := fmt.Sprintf("r%d", n)
		if faker.Bool() {
			// Sessions r0 and r5 share a viewer, like two tabs.
			f.gw.OnSubscribe(ctx, session, viewers[n%len(viewers)], "/sub/chat/201", "")
		} else {
			f.gw.OnDisconnect(ctx, session)
		}

		stats, err := f.gw.Stats(ctx, 201)
		require.NoError(t, err)
		if stats.Realtime > highest {
			highest = stats.Realtime
		}
		require.Equal(t, highest, stats.MaxViewers, "step %d", step)
	}
	assert.Positive(t, highest)
}

func TestGateway_IgnoresOtherDestinationsAndExcludedRoles(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, ok := f.gw.OnSubscribe(ctx, "s1", "v", "/sub/notice/100", "")
	assert.False(t, ok)
	f.gw.OnSubscribe(ctx, "s2", "seller", "/sub/chat/100", "ROLE_SELLER")
	f.gw.OnSubscribe(ctx, "s3", "admin", "/sub/chat/100", "ROLE_ADMIN")

	stats, err := f.gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Realtime)
	assert.Empty(t, f.spy.counts)
}

func TestGateway_LiveViewHistoryBufferedOncePerSubscription(t *testing.T) {
	f := newFixture(t, "view_history=on")
	ctx := context.Background()

	f.gw.OnSubscribe(ctx, "s1", "7", "/sub/chat/100", "")
	f.gw.OnSubscribe(ctx, "s1", "7", "/sub/chat/100", "")
	f.gw.OnSubscribe(ctx, "s2", "seller", "/sub/chat/100", "ROLE_SELLER")

	rows, err := f.ledger.PopViewHistory(ctx, HistoryLive, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0].ViewerID)
}

func TestGateway_ViewHistoryOffByDefault(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.gw.OnSubscribe(ctx, "s1", "7", "/sub/chat/100", "")
	_, err := f.gw.RecordVodView(ctx, 100, "7")
	require.NoError(t, err)

	for _, typ := range []string{HistoryLive, HistoryVod} {
		rows, err := f.ledger.PopViewHistory(ctx, typ, 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	}
}

func TestGateway_LikeAndReportReturnCounts(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	liked, count, err := f.gw.ToggleLike(ctx, 5, 1)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), count)

	liked, count, err = f.gw.ToggleLike(ctx, 5, 1)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Zero(t, count)

	reported, count, err := f.gw.ReportBroadcast(ctx, 5, 1)
	require.NoError(t, err)
	assert.True(t, reported)
	assert.Equal(t, int64(1), count)

	reported, count, err = f.gw.ReportBroadcast(ctx, 5, 1)
	require.NoError(t, err)
	assert.False(t, reported)
	assert.Equal(t, int64(1), count)

	_, _, err = f.gw.ToggleLike(ctx, 5, 0)
	assert.ErrorIs(t, err, engagement.ErrInvalidViewer)
}

func TestGateway_VodStatsAddsPendingDeltas(t *testing.T) {
	f := newFixture(t, "view_history=on")
	ctx := context.Background()
	f.archive.vods[9] = &models.VodStats{VodID: 9, ViewCount: 10, LikeCount: 4, ReportCount: 1}

	counted, err := f.gw.RecordVodView(ctx, 9, "anon-1")
	require.NoError(t, err)
	assert.True(t, counted)
	_, err = f.gw.ToggleVodLike(ctx, 9, 3)
	require.NoError(t, err)
	_, err = f.gw.ReportVod(ctx, 9, 3)
	require.NoError(t, err)

	resp, err := f.gw.VodStats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, models.VodStatsResponse{
		VodID: 9, Views: 10, Likes: 4, Reports: 1,
		PendingViews: 1, PendingLikes: 1, PendingReports: 1,
	}, resp)

	// Anonymous viewers have no member id for percentage rollouts, but "on" covers them.
	rows, err := f.ledger.PopViewHistory(ctx, HistoryVod, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	resp, err = f.gw.VodStats(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, models.VodStatsResponse{VodID: 404}, resp)
}

func TestGateway_EndBroadcastSnapshotsThenTearsDown(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	f.gw.OnSubscribe(ctx, "s1", "a", "/sub/chat/100", "")
	f.gw.OnSubscribe(ctx, "s2", "b", "/sub/chat/100", "")
	_, _, err := f.gw.ToggleLike(ctx, 100, 1)
	require.NoError(t, err)
	_, _, err = f.gw.ReportBroadcast(ctx, 100, 2)
	require.NoError(t, err)
	_, err = f.store.AddToSet(ctx, keyspace.For(100).Sanctions(), "42")
	require.NoError(t, err)

	summary, err := f.gw.EndBroadcast(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.PeakViewers)
	assert.Equal(t, int64(2), summary.TotalViewers)
	assert.Equal(t, int64(1), summary.LikeCount)
	assert.Equal(t, int64(1), summary.ReportCount)
	assert.Equal(t, endedAt, summary.EndedAt)
	require.Len(t, f.archive.summaries, 1)

	for _, key := range keyspace.For(100).TeardownKeys() {
		assert.False(t, f.store.Exists(key), key)
	}
	counts := f.spy.counts[100]
	assert.Equal(t, int64(0), counts[len(counts)-1])

	// Sessions still open on this instance unregister without going negative.
	f.gw.OnDisconnect(ctx, "s1")
	stats, err := f.gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Realtime)
	assert.False(t, f.store.Exists(keyspace.For(100).SessionCounts()))
}

func TestGateway_EndBroadcastTearsDownWhenArchiveFails(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.archive.failSave = true

	f.gw.OnSubscribe(ctx, "s1", "a", "/sub/chat/100", "")
	summary, err := f.gw.EndBroadcast(ctx, 100)
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.False(t, f.store.Exists(keyspace.For(100).ActiveViewers()))

	_, err = f.gw.EndBroadcast(ctx, 0)
	assert.ErrorIs(t, err, engagement.ErrInvalidBroadcast)
}

func TestGateway_MediaConfigAndNotices(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	cfg := models.MediaConfig{CameraID: "c", MicrophoneID: "m", MicrophoneOn: true, Volume: 30}
	require.NoError(t, f.gw.SaveMediaConfig(ctx, 1, 2, cfg))
	got, found, err := f.gw.MediaConfig(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cfg, got)

	first, err := f.gw.MarkNoticeOnce(ctx, 1, "ending", time.Minute)
	require.NoError(t, err)
	again, err := f.gw.MarkNoticeOnce(ctx, 1, "ending", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
}
