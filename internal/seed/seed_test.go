package seed

import (
	"context"
	"testing"

	"livecount/internal/engagement"
	"livecount/internal/gateway"
	"livecount/internal/presence"
	"livecount/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) (*gateway.Gateway, *presence.Tracker) {
	t.Helper()
	s := store.NewMemoryStore()
	ledger := engagement.NewLedger(engagement.LedgerConfig{Store: s})
	peaks := engagement.NewPeakTracker(s, nil)
	tracker := presence.NewTracker(presence.Config{Store: s, Peaks: peaks})
	gw := gateway.New(gateway.Config{Store: s, Tracker: tracker, Ledger: ledger, Peaks: peaks})
	return gw, tracker
}

func TestRun_CountsMatchGateway(t *testing.T) {
	gw, tracker := newGateway(t)
	ctx := context.Background()

	opts := DefaultOptions()
	opts.FirstBroadcastID = 100
	opts.Broadcasts = 2
	opts.Seed = 7

	sum, err := Run(ctx, gw, opts)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, sum.Broadcasts)
	assert.Equal(t, 2*opts.Viewers, sum.Viewers)
	assert.Len(t, sum.Sessions, sum.Viewers)
	assert.Equal(t, sum.Viewers, tracker.SessionCount())

	var likes int64
	var vodViews int64
	for _, id := range sum.Broadcasts {
		stats, err := gw.Stats(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.Realtime, int64(opts.Viewers))
		assert.Equal(t, stats.Realtime, stats.MaxViewers)
		likes += stats.Likes

		vod, err := gw.VodStats(ctx, id)
		require.NoError(t, err)
		vodViews += vod.PendingViews
	}
	assert.Equal(t, int64(sum.Likes), likes)
	assert.Equal(t, int64(sum.VodViews), vodViews)

	require.NoError(t, tracker.UnregisterAll(ctx))
	stats, err := gw.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Realtime)
	assert.Positive(t, stats.MaxViewers)
}

func TestRun_SameSeedSameTraffic(t *testing.T) {
	opts := DefaultOptions()
	opts.Seed = 42

	gwA, _ := newGateway(t)
	a, err := Run(context.Background(), gwA, opts)
	require.NoError(t, err)

	gwB, _ := newGateway(t)
	b, err := Run(context.Background(), gwB, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Likes, b.Likes)
	assert.Equal(t, a.VodViews, b.VodViews)
	assert.Equal(t, a.Sessions, b.Sessions)
}

func TestRun_RejectsBadOptions(t *testing.T) {
	gw, _ := newGateway(t)

	for name, mutate := range map[string]func(*Options){
		"zero first id":    func(o *Options) { o.FirstBroadcastID = 0 },
		"no broadcasts":    func(o *Options) { o.Broadcasts = 0 },
		"negative viewers": func(o *Options) { o.Viewers = -1 },
		"ratio above one":  func(o *Options) { o.LikeRatio = 1.5 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			_, err := Run(context.Background(), gw, opts)
			assert.Error(t, err)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	gw, _ := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, gw, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
