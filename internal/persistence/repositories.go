package persistence

import (
	"context"
	"time"
)

// SiteRepository stores sites and their calendars.
type SiteRepository interface {
	UpsertSite(ctx context.Context, site Site) error
	GetSite(ctx context.Context, id string) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
}

// WorkItemFilter narrows work item queries. Empty fields match everything.
type WorkItemFilter struct {
	SiteID     string
	AssigneeID string
	// IncludeInactive also returns inactive items.
	IncludeInactive bool
}

// WorkItemRepository stores recurring work item definitions.
type WorkItemRepository interface {
	UpsertWorkItem(ctx context.Context, item RecurringWorkItem) error
	GetWorkItem(ctx context.Context, id string) (RecurringWorkItem, error)
	ListWorkItems(ctx context.Context, filter WorkItemFilter) ([]RecurringWorkItem, error)
	UpdateCanonicalInterval(ctx context.Context, id string, days *float64, updatedAt time.Time) error
}

// ExecutionFilter narrows execution queries. ScheduledFrom and ScheduledTo
// are inclusive civil dates.
type ExecutionFilter struct {
	WorkItemIDs   []string
	SiteID        string
	ScheduledFrom string
	ScheduledTo   string
}

// ExecutionRepository stores execution records. Records are unique per
// (work item, site, scheduled date).
type ExecutionRepository interface {
	// CreateExecutionIfAbsent inserts record or returns ErrDuplicate when the
	// slot already has one.
	CreateExecutionIfAbsent(ctx context.Context, record ExecutionRecord) error
	// UpdateExecution writes record when its Version matches the stored one and
	// bumps the stored version. Returns ErrStaleVersion otherwise.
	UpdateExecution(ctx context.Context, record ExecutionRecord) (ExecutionRecord, error)
	GetExecution(ctx context.Context, id string) (ExecutionRecord, error)
	FindExecution(ctx context.Context, workItemID, siteID, scheduledDate string) (ExecutionRecord, error)
	// FindLatestExecution returns the record with the latest ExecutedAt.
	FindLatestExecution(ctx context.Context, workItemID string) (ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error)
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, executionID string) ([]AuditEntry, error)
}
