// Package presence tracks which broadcast each local viewer session is watching
// and keeps the shared per-broadcast viewer counts in step with it.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/observability"
	"livecount/internal/store"
)

// Publisher delivers a broadcast's new active viewer count to its subscribers.
type Publisher interface {
	PublishViewerCount(ctx context.Context, broadcastID, count int64) error
}

// PeakRecorder is told about every viewer increment so it can raise the peak.
type PeakRecorder interface {
	UpdatePeakViewers(ctx context.Context, broadcastID int64) error
}

// Config wires a Tracker. Only Store is required.
type Config struct {
	Store     store.CounterStore
	Policy    RolePolicy
	Publisher Publisher
	Peaks     PeakRecorder
	LiveTTL   time.Duration
	Logger    *slog.Logger
}

type session struct {
	broadcastID int64
	viewerID    string
}

// Tracker owns this process's session-to-broadcast map. The shared session-count
// hash and viewer sets live in the counter store.
type Tracker struct {
	store   store.CounterStore
	policy  RolePolicy
	pub     Publisher
	peaks   PeakRecorder
	liveTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]session
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		store:    cfg.Store,
		policy:   cfg.Policy,
		pub:      cfg.Publisher,
		peaks:    cfg.Peaks,
		liveTTL:  cfg.LiveTTL,
		logger:   cfg.Logger,
		sessions: make(map[string]session),
	}
	if t.liveTTL <= 0 {
		t.liveTTL = keyspace.LiveTTL
	}
	if t.logger == nil {
		t.logger = middleware.Logger
	}
	return t
}

// change is the outcome of one session-count step, applied after the lock is released.
type change struct {
	broadcastID int64
	viewerID    string
	entered     bool
}

// RegisterViewer records that sessionID is watching broadcastID as viewerID.
// Excluded roles, blank ids and re-subscribes to the same broadcast are no-ops.
// Switching broadcasts leaves the previous one first.
func (t *Tracker) RegisterViewer(ctx context.Context, sessionID, viewerID string, broadcastID int64, role string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(viewerID) == "" || broadcastID <= 0 {
		observability.ViewerEvents.WithLabelValues("register", "invalid").Inc()
		return nil
	}
	if category, excluded := t.policy.Classify(role); excluded {
		observability.ViewerEvents.WithLabelValues("register", "excluded").Inc()
		t.logger.DebugContext(ctx, "viewer not counted",
			slog.String("session_id", sessionID),
			slog.Int64("broadcast_id", broadcastID),
			slog.String("category", category.String()))
		return nil
	}

	var changes []change
	var errs []error

	t.mu.Lock()
	prev, had := t.sessions[sessionID]
	if had && prev.broadcastID == broadcastID {
		t.mu.Unlock()
		observability.ViewerEvents.WithLabelValues("register", "unchanged").Inc()
		return nil
	}
	if had {
		delete(t.sessions, sessionID)
		if err := t.leave(ctx, prev); err != nil {
			errs = append(errs, err)
		} else {
			changes = append(changes, change{broadcastID: prev.broadcastID, viewerID: prev.viewerID})
		}
	}
	next := session{broadcastID: broadcastID, viewerID: viewerID}
	enterErr := t.enter(ctx, next)
	if enterErr == nil {
		t.sessions[sessionID] = next
		changes = append(changes, change{broadcastID: broadcastID, viewerID: viewerID, entered: true})
	} else {
		errs = append(errs, enterErr)
	}
	observability.LocalSessions.Set(float64(len(t.sessions)))
	t.mu.Unlock()

	t.afterChanges(ctx, changes)

	err := errors.Join(errs...)
	observability.ViewerEvents.WithLabelValues("register", observability.Result(enterErr == nil, err)).Inc()
	return err
}

// UnregisterViewer forgets sessionID and leaves the broadcast it was watching.
// Unknown sessions are a no-op.
func (t *Tracker) UnregisterViewer(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	t.mu.Lock()
	prev, had := t.sessions[sessionID]
	if !had {
		t.mu.Unlock()
		observability.ViewerEvents.WithLabelValues("unregister", "unchanged").Inc()
		return nil
	}
	delete(t.sessions, sessionID)
	err := t.leave(ctx, prev)
	observability.LocalSessions.Set(float64(len(t.sessions)))
	t.mu.Unlock()

	if err != nil {
		observability.ViewerEvents.WithLabelValues("unregister", "error").Inc()
		return err
	}
	t.afterChanges(ctx, []change{{broadcastID: prev.broadcastID, viewerID: prev.viewerID}})
	observability.ViewerEvents.WithLabelValues("unregister", "changed").Inc()
	return nil
}

// UnregisterAll leaves every broadcast this process is tracking. Used on shutdown
// so other instances stop counting these sessions before the keys expire.
func (t *Tracker) UnregisterAll(ctx context.Context) error {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[string]session)
	observability.LocalSessions.Set(0)

	var errs []error
	touched := make(map[int64]string)
	for id, s := range sessions {
		if err := t.leave(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		touched[s.broadcastID] = s.viewerID
	}
	t.mu.Unlock()

	changes := make([]change, 0, len(touched))
	for broadcastID, viewerID := range touched {
		changes = append(changes, change{broadcastID: broadcastID, viewerID: viewerID})
	}
	t.afterChanges(ctx, changes)

	t.logger.InfoContext(ctx, "drained viewer sessions",
		slog.Int("sessions", len(sessions)),
		slog.Int("broadcasts", len(touched)))
	return errors.Join(errs...)
}

// SessionCount is the number of sessions tracked by this process.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// BroadcastOf returns the broadcast sessionID is currently counted on.
func (t *Tracker) BroadcastOf(sessionID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	return s.broadcastID, ok
}

// enter bumps the viewer's session count; the store adds them to the active set
// in the same step. Caller holds mu.
func (t *Tracker) enter(ctx context.Context, s session) error {
	ks := keyspace.For(s.broadcastID)
	if _, err := t.store.JoinCounted(ctx, ks.SessionCounts(), ks.ActiveViewers(), s.viewerID); err != nil {
		return fmt.Errorf("enter broadcast %d: %w", s.broadcastID, err)
	}
	return nil
}

// leave drops the viewer's session count. At zero the store removes the field and
// the active membership in the same step, so counts never go negative. Caller holds mu.
func (t *Tracker) leave(ctx context.Context, s session) error {
	ks := keyspace.For(s.broadcastID)
	if _, err := t.store.LeaveCounted(ctx, ks.SessionCounts(), ks.ActiveViewers(), s.viewerID); err != nil {
		return fmt.Errorf("leave broadcast %d: %w", s.broadcastID, err)
	}
	return nil
}

// afterChanges refreshes expiry, records total uniques and peaks, and publishes
// the new active count for every touched broadcast.
func (t *Tracker) afterChanges(ctx context.Context, changes []change) {
	for _, c := range changes {
		ks := keyspace.For(c.broadcastID)
		if c.entered {
			if _, err := t.store.AddToSet(ctx, ks.TotalViewers(), c.viewerID); err != nil {
				t.warn(ctx, "total viewer add failed", c.broadcastID, err)
			}
			for _, key := range []string{ks.SessionCounts(), ks.ActiveViewers(), ks.TotalViewers()} {
				if err := t.store.Expire(ctx, key, t.liveTTL); err != nil {
					t.warn(ctx, "live key expire failed", c.broadcastID, err)
				}
			}
			if t.peaks != nil {
				if err := t.peaks.UpdatePeakViewers(ctx, c.broadcastID); err != nil {
					t.warn(ctx, "peak update failed", c.broadcastID, err)
				}
			}
		}
		t.publish(ctx, c.broadcastID)
	}
}

func (t *Tracker) publish(ctx context.Context, broadcastID int64) {
	if t.pub == nil {
		return
	}
	count, err := t.store.SetSize(ctx, keyspace.For(broadcastID).ActiveViewers())
	if err != nil {
		t.warn(ctx, "viewer count read failed", broadcastID, err)
		return
	}
	if err := t.pub.PublishViewerCount(ctx, broadcastID, count); err != nil {
		t.warn(ctx, "viewer count publish failed", broadcastID, err)
	}
}

func (t *Tracker) warn(ctx context.Context, msg string, broadcastID int64, err error) {
	t.logger.WarnContext(ctx, msg, slog.Int64("broadcast_id", broadcastID), slog.String("error", err.Error()))
}
