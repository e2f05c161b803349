package application_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/taskref"
	"github.com/example/facility-scheduler/internal/testfixtures"
)

type testEnv struct {
	ctx        context.Context
	clock      *testfixtures.Clock
	storage    *testfixtures.Harness
	audit      *testfixtures.AuditLog
	checklists *testfixtures.ChecklistLog
	codec      *taskref.Codec
	svc        *application.SchedulerService
}

func newTestEnv(t *testing.T, now time.Time, storage *testfixtures.Harness) *testEnv {
	t.Helper()

	if storage == nil {
		storage = testfixtures.NewMemoryHarness(t)
	}
	codec, err := taskref.NewCodec([]byte("test-key"))
	require.NoError(t, err)

	env := &testEnv{
		ctx:        context.Background(),
		clock:      testfixtures.NewClock(now),
		storage:    storage,
		audit:      &testfixtures.AuditLog{},
		checklists: &testfixtures.ChecklistLog{},
		codec:      codec,
	}
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(env.clock))
	env.svc = factory.NewSchedulerService(t, testfixtures.SchedulerServiceDeps{
		Storage:    storage,
		Audit:      env.audit,
		Checklists: env.checklists,
		Codec:      codec,
	})
	return env
}

func (e *testEnv) addSite(t *testing.T, opts ...testfixtures.SiteOption) persistence.Site {
	t.Helper()
	site := testfixtures.NewSiteFixture(opts...).Persistence()
	require.NoError(t, e.storage.Sites.UpsertSite(e.ctx, site))
	return site
}

func (e *testEnv) addItem(t *testing.T, siteID string, opts ...testfixtures.WorkItemOption) persistence.RecurringWorkItem {
	t.Helper()
	item := testfixtures.NewWorkItemFixture(siteID, opts...).Persistence()
	require.NoError(t, e.storage.WorkItems.UpsertWorkItem(e.ctx, item))
	return item
}

func (e *testEnv) addExecution(t *testing.T, item persistence.RecurringWorkItem, date string, opts ...testfixtures.ExecutionOption) persistence.ExecutionRecord {
	t.Helper()
	record := testfixtures.NewExecutionFixture(item.ID, item.SiteID, date, opts...).Persistence()
	require.NoError(t, e.storage.Executions.CreateExecutionIfAbsent(e.ctx, record))
	return record
}

func (e *testEnv) ref(t *testing.T, item persistence.RecurringWorkItem, date string) string {
	t.Helper()
	d, err := recurrence.ParseDate(date)
	require.NoError(t, err)
	return e.codec.Encode(taskref.Slot{WorkItemID: item.ID, SiteID: item.SiteID, Date: d})
}

func allOccurrences(view application.CalendarView) []application.Occurrence {
	var out []application.Occurrence
	out = append(out, view.Overdue...)
	out = append(out, view.Today...)
	out = append(out, view.Upcoming...)
	out = append(out, view.Completed...)
	return out
}

func scheduledDates(occs []application.Occurrence) []string {
	dates := make([]string, 0, len(occs))
	for _, occ := range occs {
		dates = append(dates, occ.ScheduledDate)
	}
	return dates
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}
