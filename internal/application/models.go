package application

import (
	"time"

	"github.com/example/facility-scheduler/internal/recurrence"
	"github.com/example/facility-scheduler/internal/scheduler"
)

// Occurrence is one task instance as presented to callers. Virtual
// occurrences exist only as projections; durable ones are backed by an
// execution record.
type Occurrence struct {
	// Ref is the encoded slot. It stays the same once the occurrence is
	// materialized; ExecutionID is set from then on.
	Ref           string
	Virtual       bool
	ExecutionID   string
	WorkItemID    string
	SiteID        string
	ChecklistID   string
	AssigneeID    string
	Title         string
	WorkType      string
	ScheduledDate string
	ScheduledFor  time.Time
	DueAt         time.Time
	Status        scheduler.Status
	TakenAt       *time.Time
	TakenBy       string
	ExecutedAt    *time.Time
	ExecutedBy    string
	Comment       string
	PhotoRefs     []string
	FailureReason string
	Source        string
	Version       int64
	// FrequencyClass groups the occurrence for weekly and monthly summaries.
	FrequencyClass    recurrence.Class
	UnparsedFrequency bool
}

// CalendarQuery scopes a calendar projection. Empty SiteID and AssigneeID
// select every site.
type CalendarQuery struct {
	SiteID     string
	AssigneeID string
	From       time.Time
	To         time.Time
	// Statuses keeps only occurrences whose derived status is listed.
	Statuses []scheduler.Status
}

// CalendarView is the bucketed result of a calendar projection.
type CalendarView struct {
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Overdue     []Occurrence
	Today       []Occurrence
	Upcoming    []Occurrence
	Completed   []Occurrence
	Weekly      []Occurrence
	Monthly     []Occurrence
}

// Total returns the number of distinct occurrences in the status buckets.
func (v CalendarView) Total() int {
	return len(v.Overdue) + len(v.Today) + len(v.Upcoming) + len(v.Completed)
}

// ChangeStatusParams wraps a status change request.
type ChangeStatusParams struct {
	// TaskRef is an execution id or an encoded virtual slot.
	TaskRef string
	Status  scheduler.Status
	Comment string
	Photos  []string
	Reason  string
	Actor   string
}

// ChecklistCompletion identifies a checklist whose items on one date at one
// site all reached a terminal status.
type ChecklistCompletion struct {
	ChecklistID   string
	SiteID        string
	ScheduledDate string
	CompletedAt   time.Time
	CompletedBy   string
}

// ImportRecord describes a historical execution to backfill.
type ImportRecord struct {
	WorkItemID string
	// ScheduledDate defaults to the civil date of ExecutedAt in the site timezone.
	ScheduledDate string
	ExecutedAt    time.Time
	ExecutedBy    string
	// Status defaults to COMPLETED and must be terminal.
	Status  scheduler.Status
	Comment string
	Photos  []string
}

// ImportRejection explains why one import record was not stored.
type ImportRejection struct {
	Index  int
	Reason string
}

// ImportSummary reports the outcome of a history import.
type ImportSummary struct {
	Imported int
	Skipped  int
	Rejected []ImportRejection
}

// ReparseOptions scopes a frequency audit.
type ReparseOptions struct {
	SiteID string
	// DryRun reports drift without refreshing the cached intervals.
	DryRun bool
}

// ReparseEntry is the audit result for one work item.
type ReparseEntry struct {
	WorkItemID    string
	Title         string
	FrequencySpec string
	Interval      string
	IntervalDays  float64
	Rule          string
	Class         recurrence.Class
	OnDemand      bool
	Unparsed      bool
	CachedDays    *float64
	// Refreshed is set when the cached interval was missing or stale.
	Refreshed bool
}

// ReparseReport summarizes a frequency audit.
type ReparseReport struct {
	Entries   []ReparseEntry
	Refreshed int
	Unparsed  int
}
