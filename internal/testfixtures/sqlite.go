package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/persistence/memory"
	"github.com/example/facility-scheduler/internal/persistence/sqlite"
)

// Harness exposes one storage backend through the repository interfaces.
type Harness struct {
	Name       string
	Sites      persistence.SiteRepository
	WorkItems  persistence.WorkItemRepository
	Executions persistence.ExecutionRepository
	Audit      persistence.AuditRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *Harness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a Harness over a temporary, migrated SQLite file.
// The harness is closed automatically when the test ends.
func NewSQLiteHarness(tb testing.TB) *Harness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "scheduler.db")

	storage, err := sqlite.Open(ctx, sqlite.DefaultConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(ctx, DiscardLogger()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &Harness{
		Name:       "sqlite",
		Sites:      storage.Sites,
		WorkItems:  storage.WorkItems,
		Executions: storage.Executions,
		Audit:      storage.Audit,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness constructs a Harness over the in-memory store.
func NewMemoryHarness(tb testing.TB) *Harness {
	tb.Helper()

	storage := memory.New()
	return &Harness{
		Name:       "memory",
		Sites:      storage,
		WorkItems:  storage,
		Executions: storage,
		Audit:      storage,
	}
}

// Harnesses returns one harness per storage backend.
func Harnesses(tb testing.TB) []*Harness {
	tb.Helper()
	return []*Harness{NewMemoryHarness(tb), NewSQLiteHarness(tb)}
}

// DiscardLogger returns a logger that drops all records.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
