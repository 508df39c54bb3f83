// Package engagement keeps idempotent like, report and VOD view state in the
// counter store and accumulates the VOD deltas that the rollup flushes.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"livecount/internal/keyspace"
	"livecount/internal/middleware"
	"livecount/internal/models"
	"livecount/internal/observability"
	"livecount/internal/store"
)

var (
	// ErrInvalidViewer is returned for a blank viewer id or a non-positive member id.
	ErrInvalidViewer = errors.New("invalid viewer id")
	// ErrInvalidBroadcast is returned for a non-positive broadcast id.
	ErrInvalidBroadcast = errors.New("invalid broadcast id")
)

// VodStatsDelta is the consumed change to one VOD's durable totals.
type VodStatsDelta struct {
	View   int64
	Like   int64
	Report int64
}

// IsZero reports whether applying d would change nothing.
func (d VodStatsDelta) IsZero() bool {
	return d.View == 0 && d.Like == 0 && d.Report == 0
}

// LedgerConfig wires a Ledger. Only Store is required.
type LedgerConfig struct {
	Store     store.CounterStore
	LiveTTL   time.Duration
	ReportTTL time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Ledger records engagement actions. Every method is a short sequence of
// atomic store calls; no in-process state is kept.
type Ledger struct {
	store     store.CounterStore
	liveTTL   time.Duration
	reportTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		store:     cfg.Store,
		liveTTL:   cfg.LiveTTL,
		reportTTL: cfg.ReportTTL,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if l.liveTTL <= 0 {
		l.liveTTL = keyspace.LiveTTL
	}
	if l.reportTTL <= 0 {
		l.reportTTL = keyspace.ReportTTL
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = middleware.Logger
	}
	return l
}

func validMember(broadcastID, memberID int64) error {
	if broadcastID <= 0 {
		return ErrInvalidBroadcast
	}
	if memberID <= 0 {
		return ErrInvalidViewer
	}
	return nil
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

func record(action string, changed bool, err error) {
	observability.LedgerActions.WithLabelValues(action, observability.Result(changed, err)).Inc()
}

// ToggleLike flips memberID's like on a live broadcast and reports whether it is now liked.
func (l *Ledger) ToggleLike(ctx context.Context, broadcastID, memberID int64) (liked bool, err error) {
	defer func() { record("like", liked, err) }()
	if err := validMember(broadcastID, memberID); err != nil {
		return false, err
	}

	key := keyspace.For(broadcastID).LikeUsers()
	m := member(memberID)
	present, err := l.store.IsMember(ctx, key, m)
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	if present {
		if err := l.store.RemoveFromSet(ctx, key, m); err != nil {
			return true, fmt.Errorf("toggle like: %w", err)
		}
		return false, nil
	}
	if _, err := l.store.AddToSet(ctx, key, m); err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	if err := l.store.Expire(ctx, key, l.liveTTL); err != nil {
		l.logger.WarnContext(ctx, "like set expire failed", slog.Int64("broadcast_id", broadcastID), slog.String("error", err.Error()))
	}
	return true, nil
}

// LikeCount is the number of members currently liking a live broadcast.
func (l *Ledger) LikeCount(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.SetSize(ctx, keyspace.For(broadcastID).LikeUsers())
}

// ReportBroadcast records memberID's report of a live broadcast. It reports
// true only for the member's first report.
func (l *Ledger) ReportBroadcast(ctx context.Context, broadcastID, memberID int64) (reported bool, err error) {
	defer func() { record("report", reported, err) }()
	if err := validMember(broadcastID, memberID); err != nil {
		return false, err
	}

	ks := keyspace.For(broadcastID)
	added, err := l.store.AddToSet(ctx, ks.ReportUsers(), member(memberID))
	if err != nil {
		return false, fmt.Errorf("report broadcast: %w", err)
	}
	if !added {
		return false, nil
	}
	if _, err := l.store.Increment(ctx, ks.ReportCount(), 1); err != nil {
		return true, fmt.Errorf("report broadcast: %w", err)
	}
	if err := l.store.Expire(ctx, ks.ReportUsers(), l.reportTTL); err != nil {
		l.logger.WarnContext(ctx, "report set expire failed", slog.Int64("broadcast_id", broadcastID), slog.String("error", err.Error()))
	}
	return true, nil
}

// ReportCount is the number of distinct members who reported a live broadcast.
func (l *Ledger) ReportCount(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.GetInt(ctx, keyspace.For(broadcastID).ReportCount())
}

// RecordVodView counts viewerID's first view of a VOD.
func (l *Ledger) RecordVodView(ctx context.Context, broadcastID int64, viewerID string) (counted bool, err error) {
	defer func() { record("vod_view", counted, err) }()
	if broadcastID <= 0 {
		return false, ErrInvalidBroadcast
	}
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return false, ErrInvalidViewer
	}

	ks := keyspace.For(broadcastID)
	added, err := l.store.AddToSet(ctx, ks.VodViewers(), viewerID)
	if err != nil {
		return false, fmt.Errorf("record vod view: %w", err)
	}
	if !added {
		return false, nil
	}
	if _, err := l.store.Increment(ctx, ks.VodViewDelta(), 1); err != nil {
		return true, fmt.Errorf("record vod view: %w", err)
	}
	return true, l.MarkVodDirty(ctx, broadcastID)
}

// ToggleVodLike flips memberID's like on a VOD. Both directions move the like
// delta and mark the VOD dirty.
func (l *Ledger) ToggleVodLike(ctx context.Context, broadcastID, memberID int64) (liked bool, err error) {
	defer func() { record("vod_like", liked, err) }()
	if err := validMember(broadcastID, memberID); err != nil {
		return false, err
	}

	ks := keyspace.For(broadcastID)
	m := member(memberID)
	present, err := l.store.IsMember(ctx, ks.VodLikeUsers(), m)
	if err != nil {
		return false, fmt.Errorf("toggle vod like: %w", err)
	}

	delta := int64(1)
	if present {
		delta = -1
		err = l.store.RemoveFromSet(ctx, ks.VodLikeUsers(), m)
	} else {
		_, err = l.store.AddToSet(ctx, ks.VodLikeUsers(), m)
	}
	if err != nil {
		return present, fmt.Errorf("toggle vod like: %w", err)
	}
	if _, err := l.store.Increment(ctx, ks.VodLikeDelta(), delta); err != nil {
		return !present, fmt.Errorf("toggle vod like: %w", err)
	}
	return !present, l.MarkVodDirty(ctx, broadcastID)
}

// ReportVod records memberID's first report of a VOD.
func (l *Ledger) ReportVod(ctx context.Context, broadcastID, memberID int64) (reported bool, err error) {
	defer func() { record("vod_report", reported, err) }()
	if err := validMember(broadcastID, memberID); err != nil {
		return false, err
	}

	ks := keyspace.For(broadcastID)
	added, err := l.store.AddToSet(ctx, ks.VodReportUsers(), member(memberID))
	if err != nil {
		return false, fmt.Errorf("report vod: %w", err)
	}
	if !added {
		return false, nil
	}
	if _, err := l.store.Increment(ctx, ks.VodReportDelta(), 1); err != nil {
		return true, fmt.Errorf("report vod: %w", err)
	}
	return true, l.MarkVodDirty(ctx, broadcastID)
}

// VodViewDelta is the pending, unflushed view delta.
func (l *Ledger) VodViewDelta(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.GetInt(ctx, keyspace.For(broadcastID).VodViewDelta())
}

// VodLikeDelta is the pending, unflushed like delta. It may be negative.
func (l *Ledger) VodLikeDelta(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.GetInt(ctx, keyspace.For(broadcastID).VodLikeDelta())
}

// VodReportDelta is the pending, unflushed report delta.
func (l *Ledger) VodReportDelta(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.GetInt(ctx, keyspace.For(broadcastID).VodReportDelta())
}

// ConsumeVodStats reads and zeroes the three VOD deltas. Each counter is
// consumed independently: on error the returned delta still holds whatever was
// consumed, and the caller must apply it or lose it.
func (l *Ledger) ConsumeVodStats(ctx context.Context, broadcastID int64) (VodStatsDelta, error) {
	ks := keyspace.For(broadcastID)
	var d VodStatsDelta
	var errs []error
	for _, c := range []struct {
		key string
		dst *int64
	}{
		{ks.VodViewDelta(), &d.View},
		{ks.VodLikeDelta(), &d.Like},
		{ks.VodReportDelta(), &d.Report},
	} {
		n, err := l.store.GetAndReset(ctx, c.key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*c.dst = n
	}
	if err := errors.Join(errs...); err != nil {
		return d, fmt.Errorf("consume vod stats %d: %w", broadcastID, err)
	}
	return d, nil
}

// DirtyVodIDs lists VODs with unconsumed deltas in ascending order.
// Unparsable members are skipped.
func (l *Ledger) DirtyVodIDs(ctx context.Context) ([]int64, error) {
	members, err := l.store.Members(ctx, keyspace.VodStatsDirty)
	if err != nil {
		return nil, fmt.Errorf("dirty vod ids: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil || id <= 0 {
			l.logger.WarnContext(ctx, "skipping malformed dirty vod id", slog.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// MarkVodDirty queues a VOD for the next rollup.
func (l *Ledger) MarkVodDirty(ctx context.Context, broadcastID int64) error {
	if _, err := l.store.AddToSet(ctx, keyspace.VodStatsDirty, member(broadcastID)); err != nil {
		return fmt.Errorf("mark vod dirty: %w", err)
	}
	return nil
}

// ClearVodDirty removes a VOD from the rollup queue. A delta that arrives
// afterwards re-marks it.
func (l *Ledger) ClearVodDirty(ctx context.Context, broadcastID int64) error {
	if err := l.store.RemoveFromSet(ctx, keyspace.VodStatsDirty, member(broadcastID)); err != nil {
		return fmt.Errorf("clear vod dirty: %w", err)
	}
	return nil
}

// RealtimeViewerCount is the number of viewers with an open session right now.
func (l *Ledger) RealtimeViewerCount(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.SetSize(ctx, keyspace.For(broadcastID).ActiveViewers())
}

// TotalUniqueViewerCount is the number of viewers who ever joined the broadcast.
func (l *Ledger) TotalUniqueViewerCount(ctx context.Context, broadcastID int64) (int64, error) {
	return l.store.SetSize(ctx, keyspace.For(broadcastID).TotalViewers())
}

// BufferViewHistory appends one raw view event to the buffer of historyType.
func (l *Ledger) BufferViewHistory(ctx context.Context, historyType string, broadcastID int64, viewerID string) error {
	if broadcastID <= 0 {
		return ErrInvalidBroadcast
	}
	if strings.TrimSpace(viewerID) == "" || strings.Contains(viewerID, ":") {
		return ErrInvalidViewer
	}
	entry := fmt.Sprintf("%d:%s:%d", broadcastID, viewerID, l.now().UnixMilli())
	if err := l.store.PushList(ctx, keyspace.ViewHistoryBuffer(historyType), entry); err != nil {
		return fmt.Errorf("buffer view history: %w", err)
	}
	return nil
}

// PopViewHistory removes and returns up to n buffered events of historyType,
// oldest first. Malformed entries are dropped.
func (l *Ledger) PopViewHistory(ctx context.Context, historyType string, n int) ([]models.ViewHistory, error) {
	if n <= 0 {
		return nil, nil
	}
	key := keyspace.ViewHistoryBuffer(historyType)
	raw, err := l.store.RangeList(ctx, key, 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("pop view history: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := l.store.TrimList(ctx, key, int64(len(raw)), -1); err != nil {
		return nil, fmt.Errorf("pop view history: %w", err)
	}

	out := make([]models.ViewHistory, 0, len(raw))
	for _, entry := range raw {
		h, ok := parseViewHistory(historyType, entry)
		if !ok {
			l.logger.WarnContext(ctx, "dropping malformed view history entry", slog.String("entry", entry))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func parseViewHistory(historyType, entry string) (models.ViewHistory, bool) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 || parts[1] == "" {
		return models.ViewHistory{}, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return models.ViewHistory{}, false
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return models.ViewHistory{}, false
	}
	return models.ViewHistory{
		ViewType:    historyType,
		BroadcastID: id,
		ViewerID:    parts[1],
		ViewedAt:    time.UnixMilli(millis).UTC(),
	}, true
}

const (
	mediaCameraID     = "cameraId"
	mediaMicrophoneID = "microphoneId"
	mediaCameraOn     = "cameraOn"
	mediaMicrophoneOn = "microphoneOn"
	mediaVolume       = "volume"
)

// SaveMediaConfig stores a seller's device settings for a broadcast.
func (l *Ledger) SaveMediaConfig(ctx context.Context, broadcastID, sellerID int64, cfg models.MediaConfig) error {
	if err := validMember(broadcastID, sellerID); err != nil {
		return err
	}
	key := keyspace.For(broadcastID).MediaConfig(sellerID)
	err := l.store.SetHashFields(ctx, key, map[string]string{
		mediaCameraID:     cfg.CameraID,
		mediaMicrophoneID: cfg.MicrophoneID,
		mediaCameraOn:     strconv.FormatBool(cfg.CameraOn),
		mediaMicrophoneOn: strconv.FormatBool(cfg.MicrophoneOn),
		mediaVolume:       strconv.Itoa(cfg.Volume),
	})
	if err != nil {
		return fmt.Errorf("save media config: %w", err)
	}
	if err := l.store.Expire(ctx, key, keyspace.MediaConfigTTL); err != nil {
		return fmt.Errorf("save media config: %w", err)
	}
	return nil
}

// MediaConfig loads a seller's device settings. The bool is false when none are stored.
func (l *Ledger) MediaConfig(ctx context.Context, broadcastID, sellerID int64) (models.MediaConfig, bool, error) {
	key := keyspace.For(broadcastID).MediaConfig(sellerID)
	vals, err := l.store.HashValues(ctx, key, mediaCameraID, mediaMicrophoneID, mediaCameraOn, mediaMicrophoneOn, mediaVolume)
	if err != nil {
		return models.MediaConfig{}, false, fmt.Errorf("media config: %w", err)
	}
	found := false
	for _, v := range vals {
		if v != "" {
			found = true
			break
		}
	}
	if !found {
		return models.MediaConfig{}, false, nil
	}
	cameraOn, _ := strconv.ParseBool(vals[2])
	microphoneOn, _ := strconv.ParseBool(vals[3])
	volume, _ := strconv.Atoi(vals[4])
	return models.MediaConfig{
		CameraID:     vals[0],
		MicrophoneID: vals[1],
		CameraOn:     cameraOn,
		MicrophoneOn: microphoneOn,
		Volume:       volume,
	}, true, nil
}

// MarkNoticeOnce reports true the first time a notice of noticeType is
// claimed for a broadcast within ttl.
func (l *Ledger) MarkNoticeOnce(ctx context.Context, broadcastID int64, noticeType string, ttl time.Duration) (bool, error) {
	ok, err := l.store.SetIfAbsent(ctx, keyspace.For(broadcastID).ScheduleNotice(noticeType), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("mark notice %s: %w", noticeType, err)
	}
	return ok, nil
}
