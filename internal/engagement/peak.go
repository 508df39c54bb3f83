package engagement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"livecount/internal/keyspace"
	"livecount/internal/store"
)

// PeakTracker keeps the high-water mark of a broadcast's active viewer count.
//
// UpdatePeakViewers is an unlocked read-compare-write. Two processes racing on
// the same broadcast may each write, and the lower value can land last; the
// next increment corrects it.
type PeakTracker struct {
	store store.CounterStore
	now   func() time.Time
}

// NewPeakTracker creates a PeakTracker. A nil now uses time.Now.
func NewPeakTracker(s store.CounterStore, now func() time.Time) *PeakTracker {
	if now == nil {
		now = time.Now
	}
	return &PeakTracker{store: s, now: now}
}

// UpdatePeakViewers raises the stored peak to the current active count when it is strictly greater.
func (p *PeakTracker) UpdatePeakViewers(ctx context.Context, broadcastID int64) error {
	ks := keyspace.For(broadcastID)
	current, err := p.store.SetSize(ctx, ks.ActiveViewers())
	if err != nil {
		return fmt.Errorf("update peak viewers: %w", err)
	}
	peak, err := p.store.GetInt(ctx, ks.MaxViewers())
	if err != nil {
		return fmt.Errorf("update peak viewers: %w", err)
	}
	if current <= peak {
		return nil
	}
	if err := p.store.Set(ctx, ks.MaxViewers(), strconv.FormatInt(current, 10), 0); err != nil {
		return fmt.Errorf("update peak viewers: %w", err)
	}
	if err := p.store.Set(ctx, ks.MaxViewersTime(), p.now().UTC().Format(time.RFC3339Nano), 0); err != nil {
		return fmt.Errorf("update peak viewers: %w", err)
	}
	return nil
}

// MaxViewers is the recorded peak, zero when none.
func (p *PeakTracker) MaxViewers(ctx context.Context, broadcastID int64) (int64, error) {
	return p.store.GetInt(ctx, keyspace.For(broadcastID).MaxViewers())
}

// MaxViewersTime is when the peak was last raised. The bool is false when no
// peak is recorded or the stored value does not parse.
func (p *PeakTracker) MaxViewersTime(ctx context.Context, broadcastID int64) (time.Time, bool, error) {
	raw, ok, err := p.store.Get(ctx, keyspace.For(broadcastID).MaxViewersTime())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}
