package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/audit"
	"github.com/example/facility-scheduler/internal/config"
	"github.com/example/facility-scheduler/internal/logging"
	"github.com/example/facility-scheduler/internal/metrics"
	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/persistence/memory"
	"github.com/example/facility-scheduler/internal/persistence/sqlite"
	"github.com/example/facility-scheduler/internal/taskref"
)

// backend exposes one storage driver through the repository interfaces.
type backend struct {
	sites      persistence.SiteRepository
	workItems  persistence.WorkItemRepository
	executions persistence.ExecutionRepository
	audit      persistence.AuditRepository

	sqlite *sqlite.Storage
	ping   func(context.Context) error
	close  func() error
}

func (b *backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// openBackend opens the configured storage. SQLite databases are migrated
// before use.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.New()
		return &backend{
			sites:      store,
			workItems:  store,
			executions: store,
			audit:      store,
			ping:       store.Ping,
			close:      store.Close,
		}, nil
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &backend{
			sites:      store.Sites,
			workItems:  store.WorkItems,
			executions: store.Executions,
			audit:      store.Audit,
			sqlite:     store,
			ping:       store.Ping,
			close:      store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage)
	}
}

// runtime is the wired engine shared by the server and the CLI commands.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *backend
	metrics  *metrics.Metrics
	redis    *redis.Client
	recorder *audit.Recorder
	service  *application.SchedulerService
}

func newRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, store: store, metrics: metrics.New()}

	codec, err := taskref.NewCodec([]byte(cfg.TaskRefKey))
	if err != nil {
		_ = store.close()
		return nil, err
	}

	sinks := []audit.Sink{audit.RepositorySink(store.audit)}
	if cfg.RedisAddr != "" {
		rt.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, audit stream entries may be lost", "addr", cfg.RedisAddr, "error", err)
		}
		sinks = append(sinks, audit.NewStreamSink(rt.redis, cfg.AuditStream, cfg.AuditStreamMaxLen))
	}
	rt.recorder = audit.NewRecorder(logger, audit.Options{
		Buffer: cfg.AuditBuffer,
		OnDrop: rt.metrics.AuditEntryDropped,
	}, sinks...)

	rt.service, err = application.NewSchedulerService(application.Dependencies{
		Sites:      store.sites,
		WorkItems:  store.workItems,
		Executions: store.executions,
		Audit:      rt.recorder,
		Checklists: checklistLogger{logger: logger},
		Observer:   rt.metrics,
		Codec:      codec,
		Logger:     logger,
	}, cfg.ApplicationOptions())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// Close drains the audit recorder and releases connections.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.recorder != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
		if err := rt.recorder.Close(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain audit recorder: %w", err))
		}
		cancel()
		if dropped := rt.recorder.Dropped(); dropped > 0 {
			rt.logger.Warn("audit entries dropped", "count", dropped)
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := rt.store.close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// open builds a runtime for a subcommand. Server logs follow the configured
// format; CLI commands log text to stderr.
func (c *cli) open(ctx context.Context, w io.Writer, server bool) (*runtime, error) {
	format := "text"
	if server {
		format = c.cfg.LogFormat
	}
	logger := logging.New(w, format, c.cfg.LogLevel)
	return newRuntime(ctx, c.cfg, logger)
}

// checklistLogger reports completed checklists in the service log.
type checklistLogger struct {
	logger *slog.Logger
}

func (l checklistLogger) MarkChecklistComplete(ctx context.Context, completion application.ChecklistCompletion) error {
	logging.FromContextOr(ctx, l.logger).Info("checklist completed",
		"checklist_id", completion.ChecklistID,
		"site_id", completion.SiteID,
		"scheduled_date", completion.ScheduledDate,
		"completed_by", completion.CompletedBy,
		"completed_at", completion.CompletedAt.Format(time.RFC3339),
	)
	return nil
}
