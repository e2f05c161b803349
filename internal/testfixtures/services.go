package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/taskref"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// SchedulerServiceDeps captures dependencies for constructing a scheduler
// service. Storage defaults to a fresh in-memory harness and zero Options to
// application.DefaultOptions.
type SchedulerServiceDeps struct {
	Storage    *Harness
	Audit      application.AuditRecorder
	Checklists application.ChecklistCompleter
	Observer   application.Observer
	Codec      *taskref.Codec
	Options    application.Options
	Logger     *slog.Logger
}

// NewSchedulerService builds a scheduler service using the supplied
// dependencies combined with the factory defaults.
func (f *ServiceFactory) NewSchedulerService(tb testing.TB, deps SchedulerServiceDeps) *application.SchedulerService {
	tb.Helper()

	storage := deps.Storage
	if storage == nil {
		storage = NewMemoryHarness(tb)
	}
	logger := deps.Logger
	if logger == nil {
		logger = DiscardLogger()
	}
	opts := deps.Options
	if opts == (application.Options{}) {
		opts = application.DefaultOptions()
	}
	svc, err := application.NewSchedulerService(application.Dependencies{
		Sites:       storage.Sites,
		WorkItems:   storage.WorkItems,
		Executions:  storage.Executions,
		Audit:       deps.Audit,
		Checklists:  deps.Checklists,
		Observer:    deps.Observer,
		Codec:       deps.Codec,
		Logger:      logger,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
	}, opts)
	if err != nil {
		tb.Fatalf("failed to build scheduler service: %v", err)
	}
	return svc
}

// AuditLog captures audit entries synchronously.
type AuditLog struct {
	mu      sync.Mutex
	entries []persistence.AuditEntry
}

// Record implements application.AuditRecorder.
func (a *AuditLog) Record(_ context.Context, entry persistence.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (a *AuditLog) Entries() []persistence.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]persistence.AuditEntry(nil), a.entries...)
}

// ChecklistLog captures checklist completions and can be told to fail.
type ChecklistLog struct {
	mu          sync.Mutex
	completions []application.ChecklistCompletion
	Err         error
}

// MarkChecklistComplete implements application.ChecklistCompleter.
func (c *ChecklistLog) MarkChecklistComplete(_ context.Context, completion application.ChecklistCompletion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, completion)
	return c.Err
}

// Completions returns a copy of the recorded completions.
func (c *ChecklistLog) Completions() []application.ChecklistCompletion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]application.ChecklistCompletion(nil), c.completions...)
}
