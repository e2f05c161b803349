package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/scheduler"
)

// ImportHistory stores historical executions through the same slot-unique
// insert used by materialization. Records whose slot is already taken are
// skipped; malformed records are rejected individually. Only storage
// failures abort the import.
func (s *SchedulerService) ImportHistory(ctx context.Context, records []ImportRecord) (ImportSummary, error) {
	if s == nil {
		return ImportSummary{}, fmt.Errorf("SchedulerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, serviceName, "ImportHistory", "records", len(records))

	var summary ImportSummary
	reject := func(index int, reason string) {
		summary.Rejected = append(summary.Rejected, ImportRejection{Index: index, Reason: reason})
	}

	plans := make(map[string]itemPlan)
	sites := make(map[string]siteContext)

	for i, in := range records {
		if strings.TrimSpace(in.WorkItemID) == "" {
			reject(i, "work item id is required")
			continue
		}
		if in.ExecutedAt.IsZero() {
			reject(i, "executed at is required")
			continue
		}
		status := in.Status
		if status == "" {
			status = scheduler.StatusCompleted
		}
		status, err := scheduler.ParseStatus(string(status))
		if err != nil || !status.IsTerminal() {
			reject(i, "status must be COMPLETED, CLOSED_WITH_PHOTO or FAILED")
			continue
		}

		plan, ok := plans[in.WorkItemID]
		if !ok {
			item, err := s.workItems.GetWorkItem(ctx, in.WorkItemID)
			if errors.Is(err, persistence.ErrNotFound) {
				reject(i, "unknown work item")
				continue
			}
			if err != nil {
				return summary, err
			}
			plan = s.planFor(item, logger)
			plans[in.WorkItemID] = plan
		}

		site, ok := sites[plan.item.SiteID]
		if !ok {
			site, err = s.loadSite(ctx, plan.item.SiteID, logger)
			if errors.Is(err, ErrNotFound) {
				logger.Warn("work item site not found", "work_item_id", plan.item.ID, "site_id", plan.item.SiteID)
				reject(i, "unknown site")
				continue
			}
			if err != nil {
				return summary, err
			}
			sites[plan.item.SiteID] = site
		}

		if err := scheduler.CheckEvidence(status, scheduler.Evidence{Comment: in.Comment, Photos: in.Photos}, scheduler.Policy{}); err != nil {
			reject(i, err.Error())
			continue
		}

		date := recurrence.DateOf(in.ExecutedAt, site.location())
		if in.ScheduledDate != "" {
			date, err = recurrence.ParseDate(in.ScheduledDate)
			if err != nil {
				reject(i, "scheduled date must be YYYY-MM-DD")
				continue
			}
		}

		now := s.now()
		executedAt := in.ExecutedAt
		proj := s.projector.At(plan.def, date, site.calendar)
		record := persistence.ExecutionRecord{
			ID:            s.idGenerator(),
			WorkItemID:    plan.item.ID,
			SiteID:        plan.item.SiteID,
			ScheduledDate: date.String(),
			ScheduledFor:  proj.ScheduledFor,
			DueAt:         proj.DueAt,
			Status:        string(status),
			ExecutedAt:    &executedAt,
			ExecutedBy:    in.ExecutedBy,
			Comment:       strings.TrimSpace(in.Comment),
			PhotoRefs:     in.Photos,
			Source:        persistence.SourceImport,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if status == scheduler.StatusFailed {
			record.FailureReason = "imported"
		}

		err = s.executions.CreateExecutionIfAbsent(ctx, record)
		switch {
		case err == nil:
			summary.Imported++
			s.observer.ExecutionCreated(persistence.SourceImport)
		case errors.Is(err, persistence.ErrDuplicate):
			summary.Skipped++
		case errors.Is(err, persistence.ErrForeignKeyViolation), errors.Is(err, persistence.ErrConstraintViolation):
			reject(i, "record violates storage constraints")
		default:
			logger.Error("history import aborted", "index", i, "error", err)
			return summary, err
		}
	}

	logger.Info("history imported",
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"rejected", len(summary.Rejected),
	)
	return summary, nil
}

// ReparseFrequencies re-parses the frequency of every work item in scope,
// refreshes cached intervals that are missing or stale and reports
// frequencies that fell back to the default.
func (s *SchedulerService) ReparseFrequencies(ctx context.Context, opts ReparseOptions) (ReparseReport, error) {
	if s == nil {
		return ReparseReport{}, fmt.Errorf("SchedulerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, serviceName, "ReparseFrequencies", "site_id", opts.SiteID, "dry_run", opts.DryRun)

	items, err := s.workItems.ListWorkItems(ctx, persistence.WorkItemFilter{SiteID: opts.SiteID, IncludeInactive: true})
	if err != nil {
		logger.Error("failed to list work items", "error", err)
		return ReparseReport{}, err
	}

	var report ReparseReport
	for _, item := range items {
		parsed := s.parser.Parse(item.FrequencySpec)
		days := parsed.Interval.Days()
		entry := ReparseEntry{
			WorkItemID:    item.ID,
			Title:         item.Title,
			FrequencySpec: item.FrequencySpec,
			Interval:      parsed.Interval.String(),
			IntervalDays:  days,
			Rule:          parsed.Rule,
			Class:         parsed.Class(),
			OnDemand:      parsed.OnDemand,
			Unparsed:      parsed.Unparsed,
			CachedDays:    item.CanonicalIntervalDays,
		}
		if parsed.Unparsed {
			report.Unparsed++
			logger.Warn("frequency needs manual correction", "work_item_id", item.ID, "frequency", item.FrequencySpec)
		}
		if item.CanonicalIntervalDays == nil || !parsed.Interval.MatchesCache(*item.CanonicalIntervalDays) {
			entry.Refreshed = true
			report.Refreshed++
			if !opts.DryRun {
				if err := s.workItems.UpdateCanonicalInterval(ctx, item.ID, &days, s.now()); err != nil {
					logger.Error("failed to refresh cached interval", "work_item_id", item.ID, "error", err)
					return ReparseReport{}, err
				}
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].WorkItemID < report.Entries[j].WorkItemID
	})
	logger.Info("frequencies reparsed",
		"work_items", len(report.Entries),
		"refreshed", report.Refreshed,
		"unparsed", report.Unparsed,
	)
	return report, nil
}
