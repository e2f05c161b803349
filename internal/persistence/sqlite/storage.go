package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/example/facility-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	pool *ConnectionPool

	Sites      *SiteRepository
	WorkItems  *WorkItemRepository
	Executions *ExecutionRepository
	Audit      *AuditRepository
}

// Open connects to the database described by config.
func Open(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:       pool,
		Sites:      NewSiteRepository(pool),
		WorkItems:  NewWorkItemRepository(pool),
		Executions: NewExecutionRepository(pool),
		Audit:      NewAuditRepository(pool),
	}, nil
}

// Migrate applies pending schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	manager := s.migrationManager(logger)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *Storage) MigrationStatus(ctx context.Context, logger *slog.Logger) (*migration.MigrationStatus, error) {
	return s.migrationManager(logger).GetMigrationStatus(ctx)
}

func (s *Storage) migrationManager(logger *slog.Logger) migration.MigrationManager {
	return migration.NewMigrationManager(
		migration.NewDirScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
