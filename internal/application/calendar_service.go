package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/scheduler"
)

const (
	defaultLookBack  = 7 * 24 * time.Hour
	defaultLookAhead = 30 * 24 * time.Hour
)

type bucket int

const (
	bucketOverdue bucket = iota
	bucketToday
	bucketUpcoming
	bucketCompleted
)

type classified struct {
	occ    Occurrence
	bucket bucket
}

// ProjectCalendar enumerates the active recurring work items in scope,
// projects their occurrences over the query window, merges them with the
// durable records of the same slots and buckets the result.
//
// The result depends only on stored data and the current time.
func (s *SchedulerService) ProjectCalendar(ctx context.Context, query CalendarQuery) (CalendarView, error) {
	if s == nil {
		return CalendarView{}, fmt.Errorf("SchedulerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, serviceName, "ProjectCalendar",
		"site_id", query.SiteID, "assignee_id", query.AssigneeID)
	started := time.Now()
	now := s.now()

	window, statuses, err := s.validateCalendarQuery(query, now)
	if err != nil {
		return CalendarView{}, err
	}

	items, err := s.workItems.ListWorkItems(ctx, persistence.WorkItemFilter{SiteID: query.SiteID, AssigneeID: query.AssigneeID})
	if err != nil {
		logger.Error("failed to list work items", "error", err)
		return CalendarView{}, err
	}

	sites := make(map[string]siteContext)
	plans := make([]itemPlan, 0, len(items))
	for _, item := range items {
		if !item.IsActive || !item.AutoGenerate {
			continue
		}
		plan := s.planFor(item, logger)
		if plan.parsed.OnDemand {
			continue
		}
		if _, ok := sites[item.SiteID]; !ok {
			site, err := s.loadSite(ctx, item.SiteID, logger)
			if errors.Is(err, ErrNotFound) {
				logger.Warn("work item references missing site", "work_item_id", item.ID, "site_id", item.SiteID)
				continue
			}
			if err != nil {
				logger.Error("failed to load site", "site_id", item.SiteID, "error", err)
				return CalendarView{}, err
			}
			sites[item.SiteID] = site
		}
		plans = append(plans, plan)
	}

	results := make([][]classified, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ProjectionConcurrency)
	for i := range plans {
		i := i
		g.Go(func() error {
			out, err := s.projectItem(gctx, plans[i], sites[plans[i].item.SiteID], window, now)
			if err != nil {
				return fmt.Errorf("project work item %s: %w", plans[i].item.ID, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("calendar projection failed", "error", err)
		return CalendarView{}, err
	}

	view := CalendarView{From: window.From, To: window.To, GeneratedAt: now}
	for _, group := range results {
		for _, c := range group {
			if statuses != nil {
				if _, ok := statuses[c.occ.Status]; !ok {
					continue
				}
			}
			switch c.bucket {
			case bucketOverdue:
				view.Overdue = append(view.Overdue, c.occ)
			case bucketToday:
				view.Today = append(view.Today, c.occ)
			case bucketUpcoming:
				view.Upcoming = append(view.Upcoming, c.occ)
			case bucketCompleted:
				view.Completed = append(view.Completed, c.occ)
			}
			switch c.occ.FrequencyClass {
			case recurrence.ClassWeekly:
				view.Weekly = append(view.Weekly, c.occ)
			case recurrence.ClassMonthly:
				view.Monthly = append(view.Monthly, c.occ)
			}
		}
	}
	sortByScheduled(view.Overdue)
	sortByScheduled(view.Today)
	sortByScheduled(view.Upcoming)
	sortByScheduled(view.Weekly)
	sortByScheduled(view.Monthly)
	sortByExecutedDesc(view.Completed)

	s.observer.CalendarProjected(len(plans), view.Total(), time.Since(started))
	logger.Debug("calendar projected",
		"work_items", len(plans),
		"overdue", len(view.Overdue),
		"today", len(view.Today),
		"upcoming", len(view.Upcoming),
		"completed", len(view.Completed),
	)
	return view, nil
}

func (s *SchedulerService) validateCalendarQuery(query CalendarQuery, now time.Time) (recurrence.Window, map[scheduler.Status]struct{}, error) {
	vErr := &ValidationError{}

	from, to := query.From, query.To
	if from.IsZero() {
		from = now.Add(-defaultLookBack)
	}
	if to.IsZero() {
		to = from.Add(defaultLookBack + defaultLookAhead)
	}
	switch {
	case to.Before(from):
		vErr.add("to", "must not be before from")
	case to.Sub(from) > s.opts.MaxWindow:
		vErr.add("to", fmt.Sprintf("window must not exceed %d days", int(s.opts.MaxWindow.Hours()/24)))
	}

	var statuses map[scheduler.Status]struct{}
	if len(query.Statuses) > 0 {
		statuses = make(map[scheduler.Status]struct{}, len(query.Statuses))
		for _, raw := range query.Statuses {
			status, err := scheduler.ParseStatus(string(raw))
			if err != nil {
				vErr.add("status", fmt.Sprintf("unknown status %q", raw))
				continue
			}
			statuses[status] = struct{}{}
		}
	}

	if vErr.HasErrors() {
		return recurrence.Window{}, nil, vErr
	}
	return recurrence.Window{From: from, To: to}, statuses, nil
}

// projectItem merges the projected slots of one work item with its durable
// records. A slot is covered only by a record scheduled on it; the date a
// record was executed on never hides another slot.
func (s *SchedulerService) projectItem(ctx context.Context, plan itemPlan, site siteContext, window recurrence.Window, now time.Time) ([]classified, error) {
	loc := site.location()

	var last *time.Time
	latest, err := s.executions.FindLatestExecution(ctx, plan.item.ID)
	switch {
	case err == nil:
		last = latest.ExecutedAt
	case errors.Is(err, persistence.ErrNotFound):
	default:
		return nil, fmt.Errorf("latest execution: %w", err)
	}

	records, err := s.executions.ListExecutions(ctx, persistence.ExecutionFilter{
		WorkItemIDs:   []string{plan.item.ID},
		SiteID:        plan.item.SiteID,
		ScheduledFrom: recurrence.DateOf(window.From, loc).String(),
		ScheduledTo:   recurrence.DateOf(window.To, loc).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	today := recurrence.DateOf(now, loc)
	covered := make(map[string]struct{}, len(records))
	out := make([]classified, 0, len(records))
	for _, rec := range records {
		covered[rec.ScheduledDate] = struct{}{}
		occ := s.durableOccurrence(rec, plan, now)
		out = append(out, classified{occ: occ, bucket: classify(occ, today, loc)})
	}

	projections := s.projector.Series(plan.def, last, site.calendar, window, recurrence.SeriesOptions{
		BackfillLimit: s.opts.BackfillLimit,
		ForwardLimit:  s.opts.ForwardLimit,
	})
	for _, proj := range projections {
		if _, ok := covered[proj.Date.String()]; ok {
			continue
		}
		occ := s.virtualOccurrence(proj, plan, now)
		out = append(out, classified{occ: occ, bucket: classify(occ, today, loc)})
	}
	return out, nil
}

func classify(occ Occurrence, today recurrence.Date, loc *time.Location) bucket {
	switch {
	case occ.ExecutedAt != nil || occ.Status.IsTerminal():
		return bucketCompleted
	case occ.Status == scheduler.StatusOverdue:
		return bucketOverdue
	case recurrence.DateOf(occ.ScheduledFor, loc).After(today):
		return bucketUpcoming
	default:
		return bucketToday
	}
}

func sortByScheduled(occs []Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		if occs[i].ScheduledFor.Equal(occs[j].ScheduledFor) {
			return occs[i].Ref < occs[j].Ref
		}
		return occs[i].ScheduledFor.Before(occs[j].ScheduledFor)
	})
}

func sortByExecutedDesc(occs []Occurrence) {
	executed := func(o Occurrence) time.Time {
		if o.ExecutedAt != nil {
			return *o.ExecutedAt
		}
		return o.ScheduledFor
	}
	sort.SliceStable(occs, func(i, j int) bool {
		ti, tj := executed(occs[i]), executed(occs[j])
		if ti.Equal(tj) {
			return occs[i].Ref < occs[j].Ref
		}
		return ti.After(tj)
	})
}
