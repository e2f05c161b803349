package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/scheduler"
	"github.com/example/facility-scheduler/internal/taskref"
)

// maxUpdateAttempts bounds optimistic update retries on a stale version.
const maxUpdateAttempts = 2

// ChangeTaskStatus applies a status change to the task named by
// params.TaskRef. A virtual reference is materialized into a durable record
// first; concurrent materializations of the same slot converge on a single
// record.
func (s *SchedulerService) ChangeTaskStatus(ctx context.Context, params ChangeStatusParams) (Occurrence, error) {
	if s == nil {
		return Occurrence{}, fmt.Errorf("SchedulerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, serviceName, "ChangeTaskStatus",
		"task_ref", params.TaskRef, "status", params.Status, "actor", params.Actor)

	vErr := &ValidationError{}
	if strings.TrimSpace(params.Actor) == "" {
		vErr.add("actor", "actor is required")
	}
	if status, err := scheduler.ParseStatus(string(params.Status)); err != nil {
		vErr.add("status", "unknown status")
	} else {
		params.Status = status
	}
	if vErr.HasErrors() {
		return Occurrence{}, vErr
	}

	ref, err := s.codec.Parse(params.TaskRef)
	if err != nil {
		logger.Warn("rejected task reference", "error", err)
		return Occurrence{}, fmt.Errorf("%w: %v", ErrInvalidTaskReference, err)
	}

	var occ Occurrence
	if ref.IsVirtual() {
		occ, err = s.materialize(ctx, ref.Slot, params, logger)
	} else {
		occ, err = s.updateExecution(ctx, ref.ExecutionID, params, logger)
	}
	if err != nil {
		logger.Warn("status change failed", "error_kind", ErrorKind(err), "error", err)
		return Occurrence{}, err
	}
	return occ, nil
}

// materialize turns a virtual slot into a durable record carrying the
// requested status. When another writer created the slot first, the change
// is applied to that record instead.
func (s *SchedulerService) materialize(ctx context.Context, slot taskref.Slot, params ChangeStatusParams, logger *slog.Logger) (Occurrence, error) {
	item, err := s.workItems.GetWorkItem(ctx, slot.WorkItemID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Occurrence{}, fmt.Errorf("%w: %s", ErrUnknownWorkItem, slot.WorkItemID)
		}
		return Occurrence{}, err
	}
	if !item.IsActive {
		return Occurrence{}, fmt.Errorf("%w: %s is inactive", ErrUnknownWorkItem, item.ID)
	}
	if item.SiteID != slot.SiteID {
		return Occurrence{}, fmt.Errorf("%w: work item %s does not belong to site %s", ErrInvalidTaskReference, item.ID, slot.SiteID)
	}

	site, err := s.loadSite(ctx, slot.SiteID, logger)
	if err != nil {
		return Occurrence{}, err
	}
	if slot.Date.Before(recurrence.DateOf(item.CreatedAt, site.location())) {
		return Occurrence{}, fmt.Errorf("%w: %s precedes the work item", ErrInvalidTaskReference, slot.Date)
	}

	existing, err := s.executions.FindExecution(ctx, slot.WorkItemID, slot.SiteID, slot.Date.String())
	switch {
	case err == nil:
		return s.updateExecution(ctx, existing.ID, params, logger)
	case !errors.Is(err, persistence.ErrNotFound):
		return Occurrence{}, err
	}

	plan := s.planFor(item, logger)
	now := s.now()
	proj := s.projector.At(plan.def, slot.Date, site.calendar)
	record := persistence.ExecutionRecord{
		ID:            s.idGenerator(),
		WorkItemID:    item.ID,
		SiteID:        slot.SiteID,
		ScheduledDate: slot.Date.String(),
		ScheduledFor:  proj.ScheduledFor,
		DueAt:         proj.DueAt,
		Status:        string(scheduler.VirtualStatus(proj.ScheduledFor, now)),
		Source:        persistence.SourceMaterialized,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	from := scheduler.Status(record.Status)

	record, changed, err := s.advance(record, site, params)
	if err != nil {
		return Occurrence{}, err
	}

	if err := s.executions.CreateExecutionIfAbsent(ctx, record); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			return Occurrence{}, err
		}
		s.observer.MaterializationRace()
		logger.Info("slot materialized concurrently, applying change to existing record", "scheduled_date", record.ScheduledDate)
		existing, err := s.executions.FindExecution(ctx, slot.WorkItemID, slot.SiteID, slot.Date.String())
		if err != nil {
			return Occurrence{}, err
		}
		return s.updateExecution(ctx, existing.ID, params, logger)
	}

	s.observer.ExecutionCreated(persistence.SourceMaterialized)
	logger.Info("occurrence materialized", "execution_id", record.ID, "scheduled_date", record.ScheduledDate)
	if changed {
		s.afterChange(ctx, from, record, item, params, logger)
	}
	return s.durableOccurrence(record, plan, now), nil
}

// updateExecution applies the change to a durable record, re-reading it once
// when a concurrent writer bumped the version.
func (s *SchedulerService) updateExecution(ctx context.Context, id string, params ChangeStatusParams, logger *slog.Logger) (Occurrence, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, err := s.executions.GetExecution(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return Occurrence{}, fmt.Errorf("%w: execution %s", ErrNotFound, id)
			}
			return Occurrence{}, err
		}

		item, err := s.workItems.GetWorkItem(ctx, record.WorkItemID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return Occurrence{}, fmt.Errorf("%w: %s", ErrUnknownWorkItem, record.WorkItemID)
			}
			return Occurrence{}, err
		}
		site, err := s.loadSite(ctx, record.SiteID, logger)
		if err != nil {
			return Occurrence{}, err
		}
		plan := s.planFor(item, logger)

		from := scheduler.Status(record.Status)
		next, changed, err := s.advance(record, site, params)
		if err != nil {
			return Occurrence{}, err
		}
		if !changed {
			return s.durableOccurrence(record, plan, s.now()), nil
		}

		saved, err := s.executions.UpdateExecution(ctx, next)
		if errors.Is(err, persistence.ErrStaleVersion) {
			logger.Info("execution changed concurrently, retrying", "execution_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return Occurrence{}, err
		}
		s.afterChange(ctx, from, saved, item, params, logger)
		return s.durableOccurrence(saved, plan, s.now()), nil
	}
	return Occurrence{}, fmt.Errorf("%w: execution %s", ErrConflict, id)
}

// advance runs the status machine over record. changed is false for an
// idempotent repeat of the current status.
func (s *SchedulerService) advance(record persistence.ExecutionRecord, site siteContext, params ChangeStatusParams) (persistence.ExecutionRecord, bool, error) {
	lc := scheduler.Lifecycle{
		Status:        scheduler.Status(record.Status),
		TakenAt:       record.TakenAt,
		TakenBy:       record.TakenBy,
		ExecutedAt:    record.ExecutedAt,
		ExecutedBy:    record.ExecutedBy,
		Comment:       record.Comment,
		Photos:        record.PhotoRefs,
		FailureReason: record.FailureReason,
	}
	evidence := scheduler.Evidence{Comment: params.Comment, Photos: params.Photos, Reason: params.Reason}

	now := s.now()
	next, changed, err := scheduler.Transition(lc, params.Status, evidence, site.policy, params.Actor, now)
	if err != nil {
		var missing *scheduler.MissingEvidenceError
		if errors.As(err, &missing) {
			return record, false, &MissingCompletionEvidenceError{Status: string(missing.Status), Missing: missing.Missing}
		}
		if errors.Is(err, scheduler.ErrInvalidTransition) || errors.Is(err, scheduler.ErrUnknownStatus) {
			return record, false, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return record, false, err
	}
	if !changed {
		return record, false, nil
	}

	record.Status = string(next.Status)
	record.TakenAt = next.TakenAt
	record.TakenBy = next.TakenBy
	record.ExecutedAt = next.ExecutedAt
	record.ExecutedBy = next.ExecutedBy
	record.Comment = next.Comment
	record.PhotoRefs = next.Photos
	record.FailureReason = next.FailureReason
	record.UpdatedAt = now
	return record, true, nil
}

func (s *SchedulerService) afterChange(ctx context.Context, from scheduler.Status, record persistence.ExecutionRecord, item persistence.RecurringWorkItem, params ChangeStatusParams, logger *slog.Logger) {
	to := scheduler.Status(record.Status)
	s.observer.StatusChanged(from, to)
	logger.Info("task status changed", "execution_id", record.ID, "from", from, "to", to)

	if s.audit != nil {
		s.audit.Record(ctx, persistence.AuditEntry{
			ID:          s.idGenerator(),
			ExecutionID: record.ID,
			WorkItemID:  record.WorkItemID,
			SiteID:      record.SiteID,
			Actor:       params.Actor,
			FromStatus:  string(from),
			ToStatus:    string(to),
			Comment:     strings.TrimSpace(params.Comment),
			OccurredAt:  record.UpdatedAt,
		})
	}

	if to.IsTerminal() && item.ChecklistID != nil && s.checklists != nil {
		s.completeChecklist(ctx, *item.ChecklistID, record, logger)
	}
}

// completeChecklist notifies the checklist collaborator when every active
// item of the checklist has a terminal record on the same site and date.
// Failures are logged and never affect the status change.
func (s *SchedulerService) completeChecklist(ctx context.Context, checklistID string, record persistence.ExecutionRecord, logger *slog.Logger) {
	logger = logger.With("checklist_id", checklistID, "scheduled_date", record.ScheduledDate)

	siblings, err := s.workItems.ListWorkItems(ctx, persistence.WorkItemFilter{SiteID: record.SiteID})
	if err != nil {
		logger.Warn("failed to list checklist items", "error", err)
		return
	}
	for _, sibling := range siblings {
		if sibling.ID == record.WorkItemID || sibling.ChecklistID == nil || *sibling.ChecklistID != checklistID {
			continue
		}
		other, err := s.executions.FindExecution(ctx, sibling.ID, record.SiteID, record.ScheduledDate)
		if errors.Is(err, persistence.ErrNotFound) {
			return
		}
		if err != nil {
			logger.Warn("failed to load checklist sibling", "work_item_id", sibling.ID, "error", err)
			return
		}
		if !scheduler.Status(other.Status).IsTerminal() {
			return
		}
	}

	completion := ChecklistCompletion{
		ChecklistID:   checklistID,
		SiteID:        record.SiteID,
		ScheduledDate: record.ScheduledDate,
		CompletedAt:   record.UpdatedAt,
		CompletedBy:   record.ExecutedBy,
	}
	if err := s.checklists.MarkChecklistComplete(ctx, completion); err != nil {
		logger.Warn("failed to mark checklist complete", "error", err)
		return
	}
	logger.Info("checklist complete")
}
