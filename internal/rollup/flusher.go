// Package rollup drains pending VOD deltas and buffered view history from the
// counter store into durable storage.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livecount/internal/engagement"
	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/models"
	"livecount/internal/observability"
	"livecount/internal/store"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// ErrLockHeld is returned when another process is already flushing.
var ErrLockHeld = errors.New("rollup lock held by another process")

// Source is the pending state a flush consumes.
type Source interface {
	DirtyVodIDs(ctx context.Context) ([]int64, error)
	ConsumeVodStats(ctx context.Context, broadcastID int64) (engagement.VodStatsDelta, error)
	ClearVodDirty(ctx context.Context, broadcastID int64) error
	PopViewHistory(ctx context.Context, historyType string, n int) ([]models.ViewHistory, error)
}

// Sink is durable storage for consumed deltas and drained view events.
type Sink interface {
	ApplyVodDelta(ctx context.Context, vodID int64, delta engagement.VodStatsDelta) error
	SaveViewHistory(ctx context.Context, rows []models.ViewHistory) error
}

// Config wires a Flusher. Store, Source and Sink are required.
type Config struct {
	Store   store.CounterStore
	Source  Source
	Sink    Sink
	LockTTL time.Duration
	// HistoryTypes are the view-history buffers drained after each VOD pass.
	// Empty disables draining.
	HistoryTypes []string
	HistoryBatch int
	Logger       *slog.Logger
}

// Result summarizes one flush cycle.
type Result struct {
	RunID       string `json:"runId" yaml:"run_id"`
	Scanned     int    `json:"scanned" yaml:"scanned"`
	Applied     int    `json:"applied" yaml:"applied"`
	Skipped     int    `json:"skipped" yaml:"skipped"`
	Failed      int    `json:"failed" yaml:"failed"`
	ViewHistory int    `json:"viewHistory" yaml:"view_history"`
}

// Flusher runs rollup cycles. A cluster-wide lock in the counter store keeps
// cycles from overlapping across processes.
type Flusher struct {
	store        store.CounterStore
	source       Source
	sink         Sink
	lockTTL      time.Duration
	historyTypes []string
	historyBatch int
	logger       *slog.Logger
}

// NewFlusher creates a Flusher.
func NewFlusher(cfg Config) *Flusher {
	f := &Flusher{
		store:        cfg.Store,
		source:       cfg.Source,
		sink:         cfg.Sink,
		lockTTL:      cfg.LockTTL,
		historyTypes: cfg.HistoryTypes,
		historyBatch: cfg.HistoryBatch,
		logger:       cfg.Logger,
	}
	if f.lockTTL <= 0 {
		f.lockTTL = 55 * time.Second
	}
	if f.logger == nil {
		f.logger = middleware.Logger
	}
	return f
}

// FlushOnce runs one cycle: for every dirty VOD it consumes the pending deltas,
// hands non-zero deltas to the sink and clears the dirty mark.
//
// A delta whose durable write fails is dropped; the failure is logged and
// counted. Returns ErrLockHeld when another process holds the flush lock.
func (f *Flusher) FlushOnce(ctx context.Context) (Result, error) {
	res := Result{RunID: ulid.Make().String()}
	ctx = context.WithValue(ctx, middleware.RunIDKey, res.RunID)

	span, ctx := observability.NewSpan(ctx, "rollup.flush", observability.WithSpanKind(observability.SpanKindInternal))
	defer span.End()
	span.AddAttributes(attribute.String("rollup.run_id", res.RunID))

	start := time.Now()
	defer func() { observability.RollupDuration.Observe(time.Since(start).Seconds()) }()

	acquired, err := store.AcquireLock(ctx, f.store, keyspace.VodStatsFlushLock, res.RunID, f.lockTTL)
	if err != nil {
		observability.RollupCycles.WithLabelValues("error").Inc()
		span.SetError(err)
		return res, fmt.Errorf("acquire flush lock: %w", err)
	}
	if !acquired {
		observability.RollupCycles.WithLabelValues("lock_held").Inc()
		return res, ErrLockHeld
	}
	defer func() {
		released, err := store.ReleaseLock(context.WithoutCancel(ctx), f.store, keyspace.VodStatsFlushLock, res.RunID)
		switch {
		case err != nil:
			f.logger.WarnContext(ctx, "flush lock release failed", slog.String("error", err.Error()))
		case !released:
			f.logger.WarnContext(ctx, "flush lock expired before the cycle finished", slog.Duration("lock_ttl", f.lockTTL))
		}
	}()

	ids, err := f.source.DirtyVodIDs(ctx)
	if err != nil {
		observability.RollupCycles.WithLabelValues("error").Inc()
		span.SetError(err)
		return res, err
	}
	res.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		f.flushVod(ctx, id, &res)
	}

	for _, t := range f.historyTypes {
		n, err := f.DrainViewHistory(ctx, t, f.historyBatch)
		res.ViewHistory += n
		if err != nil {
			f.logger.ErrorContext(ctx, "view history drain failed", slog.String("type", t), slog.String("error", err.Error()))
		}
	}

	span.AddAttributes(
		attribute.Int("rollup.scanned", res.Scanned),
		attribute.Int("rollup.applied", res.Applied),
		attribute.Int("rollup.failed", res.Failed),
	)
	observability.RollupCycles.WithLabelValues("applied").Inc()
	if res.Scanned > 0 || res.ViewHistory > 0 {
		f.logger.InfoContext(ctx, "rollup cycle complete",
			slog.Int("scanned", res.Scanned),
			slog.Int("applied", res.Applied),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
			slog.Int("view_history", res.ViewHistory))
	}
	return res, nil
}

// flushVod consumes and applies one VOD's deltas. The dirty mark is cleared only
// when every counter was consumed; a counter that failed to consume keeps its
// value and is picked up by the next cycle.
func (f *Flusher) flushVod(ctx context.Context, id int64, res *Result) {
	delta, consumeErr := f.source.ConsumeVodStats(ctx, id)
	if consumeErr != nil {
		f.logger.ErrorContext(ctx, "consume vod stats failed", slog.Int64("vod_id", id), slog.String("error", consumeErr.Error()))
		if delta.IsZero() {
			res.Failed++
			observability.RollupDeltas.WithLabelValues("error").Inc()
			return
		}
	}

	if delta.IsZero() {
		res.Skipped++
		observability.RollupDeltas.WithLabelValues("skipped").Inc()
	} else if err := f.sink.ApplyVodDelta(ctx, id, delta); err != nil {
		res.Failed++
		observability.RollupDeltas.WithLabelValues("error").Inc()
		f.logger.ErrorContext(ctx, "vod delta lost",
			slog.Int64("vod_id", id),
			slog.Int64("views", delta.View),
			slog.Int64("likes", delta.Like),
			slog.Int64("reports", delta.Report),
			slog.String("error", err.Error()))
	} else {
		res.Applied++
		observability.RollupDeltas.WithLabelValues("applied").Inc()
	}

	if consumeErr != nil {
		res.Failed++
		return
	}
	if err := f.source.ClearVodDirty(ctx, id); err != nil {
		f.logger.WarnContext(ctx, "dirty mark not cleared", slog.Int64("vod_id", id), slog.String("error", err.Error()))
	}
}

// DrainViewHistory moves up to batch buffered events of historyType to the
// sink and returns how many were saved. Events popped but not saved are lost.
func (f *Flusher) DrainViewHistory(ctx context.Context, historyType string, batch int) (int, error) {
	if batch <= 0 {
		return 0, nil
	}
	rows, err := f.source.PopViewHistory(ctx, historyType, batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := f.sink.SaveViewHistory(ctx, rows); err != nil {
		return 0, fmt.Errorf("save %d %s view events: %w", len(rows), historyType, err)
	}
	return len(rows), nil
}

// Run calls FlushOnce every interval until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observability.LogAsyncOperationStart(ctx, "rollup", map[string]interface{}{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			observability.LogAsyncOperationEnd(ctx, "rollup", nil)
			return
		case <-ticker.C:
			res, err := f.FlushOnce(ctx)
			switch {
			case errors.Is(err, ErrLockHeld):
				f.logger.DebugContext(ctx, "rollup skipped, lock held elsewhere", slog.String("run_id", res.RunID))
			case err != nil:
				observability.LogAsyncOperationError(ctx, "rollup", err, map[string]interface{}{"run_id": res.RunID})
			}
		}
	}
}
