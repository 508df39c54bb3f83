package engagement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"livecount/internal/keyspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeakTracker_NeverDecreases(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := fixedNow
			p := NewPeakTracker(s, func() time.Time { return now })
			active := keyspace.For(100).ActiveViewers()

			peak, err := p.MaxViewers(ctx, 100)
			require.NoError(t, err)
			assert.Zero(t, peak)
			_, ok, err := p.MaxViewersTime(ctx, 100)
			require.NoError(t, err)
			assert.False(t, ok)

			for i := 0; i < 3; i++ {
				_, err := s.AddToSet(ctx, active, fmt.Sprintf("v%d", i))
				require.NoError(t, err)
				require.NoError(t, p.UpdatePeakViewers(ctx, 100))
			}
			peakAt := now

			now = now.Add(time.Minute)
			require.NoError(t, s.RemoveFromSet(ctx, active, "v0"))
			require.NoError(t, s.RemoveFromSet(ctx, active, "v1"))
			require.NoError(t, p.UpdatePeakViewers(ctx, 100))

			peak, err = p.MaxViewers(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, int64(3), peak)

			at, ok, err := p.MaxViewersTime(ctx, 100)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, peakAt.Equal(at))
		})
	}
}

func TestPeakTracker_EqualCountKeepsTimestamp(t *testing.T) {
	s := backends(t)["memory"]
	ctx := context.Background()
	now := fixedNow
	p := NewPeakTracker(s, func() time.Time { return now })

	_, err := s.AddToSet(ctx, keyspace.For(1).ActiveViewers(), "a")
	require.NoError(t, err)
	require.NoError(t, p.UpdatePeakViewers(ctx, 1))

	now = now.Add(time.Hour)
	require.NoError(t, p.UpdatePeakViewers(ctx, 1))

	at, ok, err := p.MaxViewersTime(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fixedNow.Equal(at))
}

func TestPeakTracker_UnparsableTimeIsAbsent(t *testing.T) {
	s := backends(t)["memory"]
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, keyspace.For(2).MaxViewersTime(), "yesterday", 0))

	_, ok, err := NewPeakTracker(s, nil).MaxViewersTime(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
