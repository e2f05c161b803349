package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/scheduler"
	"github.com/example/facility-scheduler/internal/testfixtures"
)

func TestChangeTaskStatus_ConcurrentMaterializationYieldsOneRecord(t *testing.T) {
	t.Parallel()

	for _, target := range []scheduler.Status{scheduler.StatusInProgress, scheduler.StatusCompleted} {
		for _, storage := range []*testfixtures.Harness{testfixtures.NewMemoryHarness(t), testfixtures.NewSQLiteHarness(t)} {
			target, storage := target, storage
			t.Run(string(target)+"/"+storage.Name, func(t *testing.T) {
				env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), storage)
				site := env.addSite(t)
				item := env.addItem(t, site.ID, testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0)))
				ref := env.ref(t, item, "2024-03-04")

				const workers = 16
				results := make([]application.Occurrence, workers)
				errs := make([]error, workers)
				var wg sync.WaitGroup
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						results[i], errs[i] = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
							TaskRef: ref,
							Status:  target,
							Actor:   fmt.Sprintf("tech-%d", i),
						})
					}(i)
				}
				wg.Wait()

				records, err := storage.Executions.ListExecutions(env.ctx, persistence.ExecutionFilter{WorkItemIDs: []string{item.ID}})
				require.NoError(t, err)
				require.Len(t, records, 1)
				stored := records[0]
				assert.Equal(t, string(target), stored.Status)
				assert.Len(t, env.audit.Entries(), 1)

				for i := range errs {
					require.NoError(t, errs[i])
					occ := results[i]
					assert.Equal(t, stored.ID, occ.ExecutionID)
					assert.Equal(t, target, occ.Status)
					if target.IsTerminal() {
						require.NotNil(t, stored.ExecutedAt)
						require.NotNil(t, occ.ExecutedAt, "caller %d", i)
						assert.True(t, stored.ExecutedAt.Equal(*occ.ExecutedAt), "caller %d", i)
						assert.Equal(t, stored.ExecutedBy, occ.ExecutedBy, "caller %d", i)
					}
				}
			})
		}
	}
}

func TestChangeTaskStatus_PhotoPolicy(t *testing.T) {
	t.Parallel()

	now := utc(2024, time.March, 4, 10, 0)
	env := newTestEnv(t, now, nil)
	site := env.addSite(t, testfixtures.WithSitePhotoPolicy())
	item := env.addItem(t, site.ID, testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0)))
	ref := env.ref(t, item, "2024-03-04")

	_, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: ref, Status: scheduler.StatusCompleted, Actor: "tech-1"})
	var evidenceErr *application.MissingCompletionEvidenceError
	require.ErrorAs(t, err, &evidenceErr)
	assert.Equal(t, []string{"photo"}, evidenceErr.Missing)

	_, err = env.storage.Executions.FindExecution(env.ctx, item.ID, site.ID, "2024-03-04")
	assert.ErrorIs(t, err, persistence.ErrNotFound, "a rejected change must not materialize the slot")

	occ, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
		TaskRef: ref,
		Status:  scheduler.StatusCompleted,
		Photos:  []string{"photos/boiler.jpg"},
		Comment: "pressure normal",
		Actor:   "tech-1",
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusCompleted, occ.Status)
	require.NotNil(t, occ.ExecutedAt)
	assert.True(t, now.Equal(*occ.ExecutedAt))
	assert.Equal(t, "tech-1", occ.ExecutedBy)
	assert.Equal(t, []string{"photos/boiler.jpg"}, occ.PhotoRefs)
	assert.Equal(t, "pressure normal", occ.Comment)

	entries := env.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "AVAILABLE", entries[0].FromStatus)
	assert.Equal(t, "COMPLETED", entries[0].ToStatus)
	assert.Equal(t, occ.ExecutionID, entries[0].ExecutionID)
}

func TestChangeTaskStatus_EvidenceRules(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), nil)
	plain := env.addSite(t)
	strict := env.addSite(t, testfixtures.WithSiteCommentPolicy())
	created := testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0))
	plainItem := env.addItem(t, plain.ID, created)
	strictItem := env.addItem(t, strict.ID, created)

	_, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
		TaskRef: env.ref(t, plainItem, "2024-03-04"), Status: scheduler.StatusClosedWithPhoto, Actor: "tech-1",
	})
	var evidenceErr *application.MissingCompletionEvidenceError
	require.ErrorAs(t, err, &evidenceErr)
	assert.Equal(t, []string{"photo"}, evidenceErr.Missing)

	_, err = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
		TaskRef: env.ref(t, plainItem, "2024-03-04"), Status: scheduler.StatusCompleted, Actor: "tech-1",
	})
	require.NoError(t, err, "plain completion needs no evidence without a policy")

	_, err = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
		TaskRef: env.ref(t, strictItem, "2024-03-04"), Status: scheduler.StatusCompleted, Actor: "tech-1",
	})
	require.ErrorAs(t, err, &evidenceErr)
	assert.Equal(t, []string{"comment"}, evidenceErr.Missing)

	failed, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{
		TaskRef: env.ref(t, strictItem, "2024-03-04"), Status: scheduler.StatusFailed, Reason: "no access", Actor: "tech-1",
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusFailed, failed.Status)
	assert.Equal(t, "no access", failed.FailureReason)
}

func TestChangeTaskStatus_DurableLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), nil)
	site := env.addSite(t)
	item := env.addItem(t, site.ID, testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0)))
	record := env.addExecution(t, item, "2024-03-04")

	params := application.ChangeStatusParams{TaskRef: record.ID, Status: scheduler.StatusCompleted, Actor: "tech-1"}
	done, err := env.svc.ChangeTaskStatus(env.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusCompleted, done.Status)
	assert.Equal(t, int64(2), done.Version)
	assert.Equal(t, env.ref(t, item, "2024-03-04"), done.Ref)

	env.clock.Advance(time.Hour)
	repeat, err := env.svc.ChangeTaskStatus(env.ctx, params)
	require.NoError(t, err)
	assert.Equal(t, done.Version, repeat.Version, "repeating a terminal status is a no-op")
	assert.Equal(t, done.ExecutedAt, repeat.ExecutedAt)
	assert.Len(t, env.audit.Entries(), 1)

	reopened, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: record.ID, Status: scheduler.StatusInProgress, Actor: "lead-1"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusInProgress, reopened.Status)
	assert.Nil(t, reopened.ExecutedAt)
	assert.Empty(t, reopened.ExecutedBy)
	assert.Equal(t, "lead-1", reopened.TakenBy)

	failed, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: record.ID, Status: scheduler.StatusFailed, Actor: "lead-1"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusFailed, failed.Status)

	_, err = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: record.ID, Status: scheduler.StatusCompleted, Actor: "lead-1"})
	assert.ErrorIs(t, err, application.ErrInvalidTransition)

	// the virtual reference of a materialized slot resolves to the same record
	viaSlot, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: done.Ref, Status: scheduler.StatusInProgress, Actor: "lead-1"})
	require.NoError(t, err)
	assert.Equal(t, record.ID, viaSlot.ExecutionID)

	audit := env.audit.Entries()
	require.Len(t, audit, 4)
	assert.Equal(t, "FAILED", audit[3].FromStatus)
	assert.Equal(t, "IN_PROGRESS", audit[3].ToStatus)
}

func TestChangeTaskStatus_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), nil)
	site := env.addSite(t)
	other := env.addSite(t)
	created := testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0))
	item := env.addItem(t, site.ID, created)
	inactive := env.addItem(t, site.ID, created, testfixtures.Inactive())

	foreign := item
	foreign.SiteID = other.ID
	ghost := item
	ghost.ID = "wi-ghost"

	cases := []struct {
		name   string
		params application.ChangeStatusParams
		want   error
	}{
		{name: "garbage reference", params: application.ChangeStatusParams{TaskRef: "task-42", Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrInvalidTaskReference},
		{name: "missing execution", params: application.ChangeStatusParams{TaskRef: testfixtures.DeterministicID("nowhere", 1), Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrNotFound},
		{name: "inactive item", params: application.ChangeStatusParams{TaskRef: env.ref(t, inactive, "2024-03-04"), Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrUnknownWorkItem},
		{name: "deleted item", params: application.ChangeStatusParams{TaskRef: env.ref(t, ghost, "2024-03-04"), Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrUnknownWorkItem},
		{name: "foreign site", params: application.ChangeStatusParams{TaskRef: env.ref(t, foreign, "2024-03-04"), Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrInvalidTaskReference},
		{name: "before creation", params: application.ChangeStatusParams{TaskRef: env.ref(t, item, "2024-02-28"), Status: scheduler.StatusInProgress, Actor: "a"}, want: application.ErrInvalidTaskReference},
		{name: "new is not requestable", params: application.ChangeStatusParams{TaskRef: env.ref(t, item, "2024-03-04"), Status: scheduler.StatusNew, Actor: "a"}, want: application.ErrInvalidTransition},
	}
	for _, tc := range cases {
		_, err := env.svc.ChangeTaskStatus(env.ctx, tc.params)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}

	for name, params := range map[string]application.ChangeStatusParams{
		"missing actor":  {TaskRef: env.ref(t, item, "2024-03-04"), Status: scheduler.StatusInProgress},
		"unknown status": {TaskRef: env.ref(t, item, "2024-03-04"), Status: "DONE", Actor: "a"},
	} {
		_, err := env.svc.ChangeTaskStatus(env.ctx, params)
		var vErr *application.ValidationError
		assert.True(t, errors.As(err, &vErr), name)
	}

	records, err := env.storage.Executions.ListExecutions(env.ctx, persistence.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

type staleExecutions struct {
	persistence.ExecutionRepository
	remaining atomic.Int32
}

func (s *staleExecutions) UpdateExecution(ctx context.Context, record persistence.ExecutionRecord) (persistence.ExecutionRecord, error) {
	if s.remaining.Add(-1) >= 0 {
		return persistence.ExecutionRecord{}, persistence.ErrStaleVersion
	}
	return s.ExecutionRepository.UpdateExecution(ctx, record)
}

func TestChangeTaskStatus_StaleVersionRetry(t *testing.T) {
	t.Parallel()

	base := testfixtures.NewMemoryHarness(t)
	flaky := &staleExecutions{ExecutionRepository: base.Executions}
	storage := &testfixtures.Harness{Name: "flaky", Sites: base.Sites, WorkItems: base.WorkItems, Executions: flaky, Audit: base.Audit}

	env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), storage)
	site := env.addSite(t)
	item := env.addItem(t, site.ID, testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0)))
	first := env.addExecution(t, item, "2024-03-04")
	second := env.addExecution(t, item, "2024-03-05")

	flaky.remaining.Store(1)
	occ, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: first.ID, Status: scheduler.StatusInProgress, Actor: "tech-1"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusInProgress, occ.Status)

	flaky.remaining.Store(5)
	_, err = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: second.ID, Status: scheduler.StatusInProgress, Actor: "tech-1"})
	assert.ErrorIs(t, err, application.ErrConflict)
}

func TestChangeTaskStatus_ChecklistCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, utc(2024, time.March, 4, 10, 0), nil)
	site := env.addSite(t)
	created := testfixtures.WithWorkItemCreatedAt(utc(2024, time.March, 1, 8, 0))
	first := env.addItem(t, site.ID, created, testfixtures.WithChecklist("opening"))
	second := env.addItem(t, site.ID, created, testfixtures.WithChecklist("opening"))
	env.addItem(t, site.ID, created, testfixtures.WithChecklist("closing"))

	_, err := env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: env.ref(t, first, "2024-03-04"), Status: scheduler.StatusCompleted, Actor: "tech-1"})
	require.NoError(t, err)
	assert.Empty(t, env.checklists.Completions())

	_, err = env.svc.ChangeTaskStatus(env.ctx, application.ChangeStatusParams{TaskRef: env.ref(t, second, "2024-03-04"), Status: scheduler.StatusFailed, Actor: "tech-2"})
	require.NoError(t, err)

	completions := env.checklists.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, "opening", completions[0].ChecklistID)
	assert.Equal(t, site.ID, completions[0].SiteID)
	assert.Equal(t, "2024-03-04", completions[0].ScheduledDate)
	assert.Equal(t, "tech-2", completions[0].CompletedBy)
}
