// Package bootstrap connects the backing services and wires the engine components.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"livecount/internal/config"
	"livecount/internal/database"
	"livecount/internal/engagement"
	"livecount/internal/featureflags"
	"livecount/internal/gateway"
	"livecount/internal/middleware"
	"livecount/internal/notifications"
	"livecount/internal/presence"
	"livecount/internal/repository"
	"livecount/internal/rollup"
	"livecount/internal/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// View-history buffers drained by the flusher.
var historyTypes = []string{gateway.HistoryLive, gateway.HistoryVod}

// Options control runtime initialization behavior.
type Options struct {
	// SkipDatabase leaves the archive unset. VOD totals then report pending deltas only
	// and teardown snapshots are not persisted.
	SkipDatabase bool
}

// Runtime holds the connected services and the components built on them.
type Runtime struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Store  store.CounterStore

	Flags    *featureflags.Manager
	Ledger   *engagement.Ledger
	Peaks    *engagement.PeakTracker
	Tracker  *presence.Tracker
	Notifier *notifications.Notifier
	Hub      *notifications.LiveHub
	Archive  *repository.Archive
	Gateway  *gateway.Gateway
	Flusher  *rollup.Flusher
}

// InitRuntime connects the counter store and database named by cfg and wires the components.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	var (
		rdb *redis.Client
		s   store.CounterStore
	)
	switch cfg.StoreBackend {
	case "memory":
		middleware.Logger.Warn("Using in-process counter store; counts are not shared between instances")
		s = store.NewMemoryStore()
	default:
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rdb = client
		s = store.NewRedisStore(client)
	}

	var db *gorm.DB
	if !opts.SkipDatabase {
		conn, err := database.Connect(cfg)
		if err != nil {
			if rdb != nil {
				_ = rdb.Close()
			}
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		db = conn
	}

	rt, err := Build(cfg, s, db)
	if err != nil {
		return nil, err
	}
	rt.Redis = rdb
	return rt, nil
}

// Build wires the components over an already connected store and optional database.
func Build(cfg *config.Config, s store.CounterStore, db *gorm.DB) (*Runtime, error) {
	if s == nil {
		return nil, errors.New("counter store is required")
	}

	policy, err := presence.PolicyFromNames(cfg.ExcludedRoleNames())
	if err != nil {
		return nil, fmt.Errorf("VIEWER_EXCLUDED_ROLES: %w", err)
	}

	rt := &Runtime{
		Config: cfg,
		DB:     db,
		Store:  s,
		Flags:  featureflags.NewManager(cfg.FeatureFlags),
	}
	rt.Ledger = engagement.NewLedger(engagement.LedgerConfig{
		Store:     s,
		LiveTTL:   cfg.LiveKeyTTL(),
		ReportTTL: cfg.ReportTTL(),
	})
	rt.Peaks = engagement.NewPeakTracker(s, nil)
	rt.Notifier = notifications.NewNotifier(s)
	rt.Hub = notifications.NewLiveHub()
	rt.Tracker = presence.NewTracker(presence.Config{
		Store:     s,
		Policy:    policy,
		Publisher: rt.Notifier,
		Peaks:     rt.Peaks,
		LiveTTL:   cfg.LiveKeyTTL(),
	})

	gwCfg := gateway.Config{
		Store:     s,
		Tracker:   rt.Tracker,
		Ledger:    rt.Ledger,
		Peaks:     rt.Peaks,
		Publisher: rt.Notifier,
		Flags:     rt.Flags,
	}
	flusherCfg := rollup.Config{
		Store:        s,
		Source:       rt.Ledger,
		LockTTL:      cfg.RollupLockTTL(),
		HistoryTypes: historyTypes,
		HistoryBatch: cfg.ViewHistoryBatch,
	}
	if db != nil {
		rt.Archive = repository.NewArchive(db)
		gwCfg.Archive = rt.Archive
		flusherCfg.Sink = rt.Archive
	}
	rt.Gateway = gateway.New(gwCfg)
	if flusherCfg.Sink != nil {
		rt.Flusher = rollup.NewFlusher(flusherCfg)
	}

	middleware.Logger.Info("Runtime wired",
		slog.String("store", storeName(s)),
		slog.Bool("database", db != nil),
		slog.Any("excluded_roles", cfg.ExcludedRoleNames()))
	return rt, nil
}

// Close releases the database and Redis connections.
func (r *Runtime) Close() error {
	var errs []error
	if err := database.Close(r.DB); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func storeName(s store.CounterStore) string {
	switch s.(type) {
	case *store.RedisStore:
		return "redis"
	case *store.MemoryStore:
		return "memory"
	default:
		return fmt.Sprintf("%T", s)
	}
}
