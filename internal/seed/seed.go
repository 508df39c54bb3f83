// Package seed generates synthetic viewer traffic for development and load checks.
// It drives the same entry points the transport does, so every counter, peak and
// pending VOD delta it produces is indistinguishable from real traffic.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"livecount/internal/middleware"

	"github.com/brianvoe/gofakeit/v6"
)

// Target is the engagement surface the seeder drives.
type Target interface {
	OnSubscribeBroadcast(ctx context.Context, sessionID, viewerID string, broadcastID int64, role string)
	ToggleLike(ctx context.Context, broadcastID, memberID int64) (bool, int64, error)
	RecordVodView(ctx context.Context, broadcastID int64, viewerID string) (bool, error)
}

// Options configures one seeding run.
type Options struct {
	FirstBroadcastID int64
	Broadcasts       int
	// Viewers joins this many sessions to each broadcast.
	Viewers int
	// MemberRatio is the share of viewers with a member id; the rest are anonymous UUIDs.
	MemberRatio float64
	// LikeRatio is the share of members who like the broadcast.
	LikeRatio float64
	// VodViews records this many VOD views per broadcast.
	VodViews int
	// Seed makes a run repeatable. Zero picks a random seed.
	Seed int64
}

// Summary counts what a run produced.
type Summary struct {
	Broadcasts []int64   `json:"broadcasts" yaml:"broadcasts"`
	Sessions   []string `json:"-" yaml:"-"`
	Viewers    int      `json:"viewers" yaml:"viewers"`
	Likes      int      `json:"likes" yaml:"likes"`
	VodViews   int      `json:"vodViews" yaml:"vod_views"`
}

// DefaultOptions returns a small run suitable for a local dev stack.
func DefaultOptions() Options {
	return Options{
		FirstBroadcastID: 1,
		Broadcasts:       3,
		Viewers:          25,
		MemberRatio:      0.6,
		LikeRatio:        0.3,
		VodViews:         40,
	}
}

func (o Options) validate() error {
	switch {
	case o.FirstBroadcastID <= 0:
		return errors.New("first broadcast id must be positive")
	case o.Broadcasts <= 0:
		return errors.New("broadcasts must be positive")
	case o.Viewers < 0 || o.VodViews < 0:
		return errors.New("viewer counts cannot be negative")
	case o.MemberRatio < 0 || o.MemberRatio > 1 || o.LikeRatio < 0 || o.LikeRatio > 1:
		return errors.New("ratios must be within [0, 1]")
	}
	return nil
}

// Run joins fake viewers to each broadcast, has some members like it and records VOD views.
// The sessions it registers stay registered; callers unregister them through the tracker.
func Run(ctx context.Context, target Target, opts Options) (Summary, error) {
	var sum Summary
	if err := opts.validate(); err != nil {
		return sum, err
	}
	faker := gofakeit.New(opts.Seed)

	for b := 0; b < opts.Broadcasts; b++ {
		broadcastID := opts.FirstBroadcastID + int64(b)
		sum.Broadcasts = append(sum.Broadcasts, broadcastID)

		for i := 0; i < opts.Viewers; i++ {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			viewerID, memberID := fakeViewer(faker, opts.MemberRatio)
			sessionID := fmt.Sprintf("seed-%d-%s", broadcastID, faker.UUID())
			target.OnSubscribeBroadcast(ctx, sessionID, viewerID, broadcastID, "ROLE_MEMBER")
			sum.Sessions = append(sum.Sessions, sessionID)
			sum.Viewers++

			if memberID > 0 && faker.Float64Range(0, 1) < opts.LikeRatio {
				liked, _, err := target.ToggleLike(ctx, broadcastID, memberID)
				if err != nil {
					return sum, fmt.Errorf("like broadcast %d: %w", broadcastID, err)
				}
				if liked {
					sum.Likes++
				}
			}
		}

		for i := 0; i < opts.VodViews; i++ {
			viewerID, _ := fakeViewer(faker, opts.MemberRatio)
			counted, err := target.RecordVodView(ctx, broadcastID, viewerID)
			if err != nil {
				return sum, fmt.Errorf("vod view %d: %w", broadcastID, err)
			}
			if counted {
				sum.VodViews++
			}
		}
	}

	middleware.Logger.InfoContext(ctx, "seeded viewer traffic",
		slog.Int("broadcasts", len(sum.Broadcasts)),
		slog.Int("viewers", sum.Viewers),
		slog.Int("likes", sum.Likes),
		slog.Int("vod_views", sum.VodViews))
	return sum, nil
}

// fakeViewer returns a member id as a string, or an anonymous UUID with memberID 0.
func fakeViewer(faker *gofakeit.Faker, memberRatio float64) (viewerID string, memberID int64) {
	if faker.Float64Range(0, 1) < memberRatio {
		memberID = int64(faker.Number(1, 1_000_000))
		return strconv.FormatInt(memberID, 10), memberID
	}
	return faker.UUID(), 0
}
