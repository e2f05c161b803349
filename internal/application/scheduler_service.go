package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/scheduler"
	"github.com/example/facility-scheduler/internal/taskref"
)

const serviceName = "scheduler"

// SiteDirectory resolves site calendars and completion policies.
type SiteDirectory interface {
	GetSite(ctx context.Context, id string) (persistence.Site, error)
}

// WorkItemCatalog exposes recurring work item definitions.
type WorkItemCatalog interface {
	GetWorkItem(ctx context.Context, id string) (persistence.RecurringWorkItem, error)
	ListWorkItems(ctx context.Context, filter persistence.WorkItemFilter) ([]persistence.RecurringWorkItem, error)
	UpdateCanonicalInterval(ctx context.Context, id string, days *float64, updatedAt time.Time) error
}

// AuditRecorder receives one entry per status change. Record must not block
// the caller; delivery is best effort.
type AuditRecorder interface {
	Record(ctx context.Context, entry persistence.AuditEntry)
}

// ChecklistCompleter is notified once every item of a checklist reached a
// terminal status for the same site and date.
type ChecklistCompleter interface {
	MarkChecklistComplete(ctx context.Context, completion ChecklistCompletion) error
}

// Observer receives engine measurements.
type Observer interface {
	CalendarProjected(workItems, occurrences int, elapsed time.Duration)
	ExecutionCreated(source string)
	MaterializationRace()
	StatusChanged(from, to scheduler.Status)
	FrequencyUnparsed()
	FrequencyDrift()
}

type nopObserver struct{}

func (nopObserver) CalendarProjected(int, int, time.Duration)        {}
func (nopObserver) ExecutionCreated(string)                          {}
func (nopObserver) MaterializationRace()                             {}
func (nopObserver) StatusChanged(scheduler.Status, scheduler.Status) {}
func (nopObserver) FrequencyUnparsed()                               {}
func (nopObserver) FrequencyDrift()                                  {}

// Options tunes projection and materialization.
type Options struct {
	// BackfillLimit caps how many missed intervals are reported per item.
	// Zero disables backfill; negative values select the default.
	BackfillLimit int
	// ForwardLimit caps how many future intervals are expanded per item.
	ForwardLimit int
	// ProjectionConcurrency bounds how many work items are projected at once.
	ProjectionConcurrency int
	// DefaultMaxDelay applies to work items without their own grace period.
	DefaultMaxDelay time.Duration
	// MaxWindow rejects calendar queries spanning more than this.
	MaxWindow time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		BackfillLimit:         recurrence.DefaultSeriesOptions.BackfillLimit,
		ForwardLimit:          recurrence.DefaultSeriesOptions.ForwardLimit,
		ProjectionConcurrency: 8,
		DefaultMaxDelay:       recurrence.DefaultMaxDelay,
		MaxWindow:             366 * 24 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BackfillLimit < 0 {
		o.BackfillLimit = def.BackfillLimit
	}
	if o.ForwardLimit <= 0 {
		o.ForwardLimit = def.ForwardLimit
	}
	if o.ProjectionConcurrency <= 0 {
		o.ProjectionConcurrency = def.ProjectionConcurrency
	}
	if o.DefaultMaxDelay <= 0 {
		o.DefaultMaxDelay = def.DefaultMaxDelay
	}
	if o.MaxWindow <= 0 {
		o.MaxWindow = def.MaxWindow
	}
	return o
}

// Dependencies wires the collaborators of SchedulerService. Sites, WorkItems
// and Executions are required.
type Dependencies struct {
	Sites      SiteDirectory
	WorkItems  WorkItemCatalog
	Executions persistence.ExecutionRepository
	Audit      AuditRecorder
	Checklists ChecklistCompleter
	Observer   Observer
	Codec      *taskref.Codec
	Parser     *recurrence.Parser
	Logger     *slog.Logger

	IDGenerator func() string
	Now         func() time.Time
}

// SchedulerService projects task calendars and materializes occurrences on
// first interaction.
type SchedulerService struct {
	sites       SiteDirectory
	workItems   WorkItemCatalog
	executions  persistence.ExecutionRepository
	audit       AuditRecorder
	checklists  ChecklistCompleter
	observer    Observer
	codec       *taskref.Codec
	parser      *recurrence.Parser
	projector   *recurrence.Projector
	logger      *slog.Logger
	opts        Options
	idGenerator func() string
	now         func() time.Time
}

// NewSchedulerService wires dependencies for scheduling operations.
func NewSchedulerService(deps Dependencies, opts Options) (*SchedulerService, error) {
	if deps.Sites == nil || deps.WorkItems == nil || deps.Executions == nil {
		return nil, errors.New("application: sites, work items and executions are required")
	}
	opts = opts.withDefaults()

	svc := &SchedulerService{
		sites:       deps.Sites,
		workItems:   deps.WorkItems,
		executions:  deps.Executions,
		audit:       deps.Audit,
		checklists:  deps.Checklists,
		observer:    deps.Observer,
		codec:       deps.Codec,
		parser:      deps.Parser,
		projector:   recurrence.NewProjector(opts.DefaultMaxDelay),
		logger:      defaultLogger(deps.Logger),
		opts:        opts,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
	}
	if svc.observer == nil {
		svc.observer = nopObserver{}
	}
	if svc.codec == nil {
		codec, err := taskref.NewCodec(nil)
		if err != nil {
			return nil, err
		}
		svc.codec = codec
	}
	if svc.parser == nil {
		svc.parser = recurrence.NewParser()
	}
	if svc.idGenerator == nil {
		svc.idGenerator = uuid.NewString
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// siteContext is a site resolved into its calendar and evidence policy.
type siteContext struct {
	site     persistence.Site
	calendar recurrence.Calendar
	policy   scheduler.Policy
}

func (c siteContext) location() *time.Location {
	if c.calendar.Location == nil {
		return time.UTC
	}
	return c.calendar.Location
}

func (s *SchedulerService) loadSite(ctx context.Context, id string, logger *slog.Logger) (siteContext, error) {
	site, err := s.sites.GetSite(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return siteContext{}, fmt.Errorf("%w: site %s", ErrNotFound, id)
		}
		return siteContext{}, err
	}
	loc, err := time.LoadLocation(site.Timezone)
	if err != nil {
		logger.Warn("unknown site timezone, using UTC", "site_id", site.ID, "timezone", site.Timezone, "error", err)
		loc = time.UTC
	}
	return siteContext{
		site:     site,
		calendar: recurrence.Calendar{WorkingDays: site.WorkingDays, Location: loc},
		policy:   scheduler.Policy{RequirePhoto: site.RequirePhoto, RequireComment: site.RequireComment},
	}, nil
}

// itemPlan is a work item with its parsed recurrence.
type itemPlan struct {
	item   persistence.RecurringWorkItem
	parsed recurrence.ParseResult
	def    recurrence.Definition
}

// planFor parses the item's frequency. The parser is authoritative; a cached
// interval that disagrees is reported as drift and otherwise ignored.
func (s *SchedulerService) planFor(item persistence.RecurringWorkItem, logger *slog.Logger) itemPlan {
	parsed := s.parser.Parse(item.FrequencySpec)
	if parsed.Unparsed {
		s.observer.FrequencyUnparsed()
		logger.Warn("unparseable frequency, assuming daily", "work_item_id", item.ID, "frequency", item.FrequencySpec)
	}
	if cached := item.CanonicalIntervalDays; cached != nil && !parsed.Interval.MatchesCache(*cached) {
		s.observer.FrequencyDrift()
		logger.Warn("cached interval disagrees with frequency",
			"work_item_id", item.ID, "cached_days", *cached, "parsed_days", parsed.Interval.Days())
	}

	preferred := recurrence.DefaultPreferredTime
	if item.PreferredTime != "" {
		tod, err := recurrence.ParseTimeOfDay(item.PreferredTime)
		if err != nil {
			logger.Warn("invalid preferred time, using default", "work_item_id", item.ID, "preferred_time", item.PreferredTime)
		} else {
			preferred = tod
		}
	}

	return itemPlan{
		item:   item,
		parsed: parsed,
		def: recurrence.Definition{
			Interval:      parsed.Interval,
			PreferredTime: preferred,
			MaxDelay:      item.MaxDelay,
			CreatedAt:     item.CreatedAt,
		},
	}
}

// durableOccurrence keeps the slot reference as Ref so an occurrence is
// addressed the same way before and after materialization.
func (s *SchedulerService) durableOccurrence(rec persistence.ExecutionRecord, plan itemPlan, now time.Time) Occurrence {
	occ := s.baseOccurrence(plan)
	occ.Ref = rec.ID
	if date, err := recurrence.ParseDate(rec.ScheduledDate); err == nil {
		occ.Ref = s.codec.Encode(taskref.Slot{WorkItemID: rec.WorkItemID, SiteID: rec.SiteID, Date: date})
	}
	occ.ExecutionID = rec.ID
	occ.SiteID = rec.SiteID
	occ.ScheduledDate = rec.ScheduledDate
	occ.ScheduledFor = rec.ScheduledFor
	occ.DueAt = rec.DueAt
	occ.Status = scheduler.Derive(scheduler.Status(rec.Status), rec.ExecutedAt, rec.DueAt, now)
	occ.TakenAt = rec.TakenAt
	occ.TakenBy = rec.TakenBy
	occ.ExecutedAt = rec.ExecutedAt
	occ.ExecutedBy = rec.ExecutedBy
	occ.Comment = rec.Comment
	occ.PhotoRefs = rec.PhotoRefs
	occ.FailureReason = rec.FailureReason
	occ.Source = rec.Source
	occ.Version = rec.Version
	return occ
}

func (s *SchedulerService) virtualOccurrence(proj recurrence.Projection, plan itemPlan, now time.Time) Occurrence {
	occ := s.baseOccurrence(plan)
	occ.Ref = s.codec.Encode(taskref.Slot{WorkItemID: plan.item.ID, SiteID: plan.item.SiteID, Date: proj.Date})
	occ.Virtual = true
	occ.ScheduledDate = proj.Date.String()
	occ.ScheduledFor = proj.ScheduledFor
	occ.DueAt = proj.DueAt
	occ.Status = scheduler.Derive(scheduler.VirtualStatus(proj.ScheduledFor, now), nil, proj.DueAt, now)
	return occ
}

func (s *SchedulerService) baseOccurrence(plan itemPlan) Occurrence {
	occ := Occurrence{
		WorkItemID:        plan.item.ID,
		SiteID:            plan.item.SiteID,
		Title:             plan.item.Title,
		WorkType:          plan.item.WorkType,
		FrequencyClass:    plan.parsed.Class(),
		UnparsedFrequency: plan.parsed.Unparsed,
	}
	if plan.item.ChecklistID != nil {
		occ.ChecklistID = *plan.item.ChecklistID
	}
	if plan.item.AssigneeID != nil {
		occ.AssigneeID = *plan.item.AssigneeID
	}
	return occ
}
