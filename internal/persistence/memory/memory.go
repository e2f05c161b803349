// Package memory provides an in-memory implementation of the persistence
// repositories for tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/facility-scheduler/internal/persistence"
)

type slotKey struct {
	workItemID    string
	siteID        string
	scheduledDate string
}

// Storage keeps all records in maps guarded by one mutex. The slot index
// enforces the same uniqueness as the SQLite schema.
type Storage struct {
	mu         sync.RWMutex
	sites      map[string]persistence.Site
	workItems  map[string]persistence.RecurringWorkItem
	executions map[string]persistence.ExecutionRecord
	slots      map[slotKey]string
	audit      []persistence.AuditEntry
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		sites:      make(map[string]persistence.Site),
		workItems:  make(map[string]persistence.RecurringWorkItem),
		executions: make(map[string]persistence.ExecutionRecord),
		slots:      make(map[slotKey]string),
	}
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Storage) Close() error { return nil }

// --- SiteRepository implementation ---

// UpsertSite stores a site, keeping the original CreatedAt on update.
func (s *Storage) UpsertSite(_ context.Context, site persistence.Site) error {
	if site.ID == "" || site.Name == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sites[site.ID]; ok {
		site.CreatedAt = existing.CreatedAt
	}
	if site.Timezone == "" {
		site.Timezone = "UTC"
	}
	s.sites[site.ID] = cloneSite(site)
	return nil
}

// GetSite retrieves a site by ID.
func (s *Storage) GetSite(_ context.Context, id string) (persistence.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[id]
	if !ok {
		return persistence.Site{}, persistence.ErrNotFound
	}
	return cloneSite(site), nil
}

// ListSites returns all sites ordered by name.
func (s *Storage) ListSites(context.Context) ([]persistence.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := make([]persistence.Site, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, cloneSite(site))
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Name == sites[j].Name {
			return sites[i].ID < sites[j].ID
		}
		return sites[i].Name < sites[j].Name
	})
	return sites, nil
}

// --- WorkItemRepository implementation ---

// UpsertWorkItem stores a work item definition.
func (s *Storage) UpsertWorkItem(_ context.Context, item persistence.RecurringWorkItem) error {
	if item.ID == "" || item.SiteID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[item.SiteID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if existing, ok := s.workItems[item.ID]; ok {
		item.CreatedAt = existing.CreatedAt
	}
	s.workItems[item.ID] = cloneWorkItem(item)
	return nil
}

// GetWorkItem retrieves a work item by ID.
func (s *Storage) GetWorkItem(_ context.Context, id string) (persistence.RecurringWorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.workItems[id]
	if !ok {
		return persistence.RecurringWorkItem{}, persistence.ErrNotFound
	}
	return cloneWorkItem(item), nil
}

// ListWorkItems returns work items matching filter ordered by site and title.
func (s *Storage) ListWorkItems(_ context.Context, filter persistence.WorkItemFilter) ([]persistence.RecurringWorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]persistence.RecurringWorkItem, 0, len(s.workItems))
	for _, item := range s.workItems {
		if !filter.IncludeInactive && !item.IsActive {
			continue
		}
		if filter.SiteID != "" && item.SiteID != filter.SiteID {
			continue
		}
		if filter.AssigneeID != "" && (item.AssigneeID == nil || *item.AssigneeID != filter.AssigneeID) {
			continue
		}
		items = append(items, cloneWorkItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	return items, nil
}

// UpdateCanonicalInterval refreshes the cached interval of a work item.
func (s *Storage) UpdateCanonicalInterval(_ context.Context, id string, days *float64, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.workItems[id]
	if !ok {
		return persistence.ErrNotFound
	}
	item.CanonicalIntervalDays = cloneFloat(days)
	item.UpdatedAt = updatedAt
	s.workItems[id] = item
	return nil
}

// --- ExecutionRepository implementation ---

// CreateExecutionIfAbsent inserts record unless its id or slot is taken.
func (s *Storage) CreateExecutionIfAbsent(_ context.Context, record persistence.ExecutionRecord) error {
	if record.ID == "" || record.WorkItemID == "" || record.SiteID == "" || record.ScheduledDate == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workItems[record.WorkItemID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	key := slotKeyOf(record)
	if _, taken := s.slots[key]; taken {
		return persistence.ErrDuplicate
	}
	if _, taken := s.executions[record.ID]; taken {
		return persistence.ErrDuplicate
	}
	if record.Version == 0 {
		record.Version = 1
	}
	if record.Source == "" {
		record.Source = persistence.SourceMaterialized
	}
	s.executions[record.ID] = cloneExecution(record)
	s.slots[key] = record.ID
	return nil
}

// UpdateExecution applies record when its version matches the stored one.
func (s *Storage) UpdateExecution(_ context.Context, record persistence.ExecutionRecord) (persistence.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[record.ID]
	if !ok {
		return persistence.ExecutionRecord{}, persistence.ErrNotFound
	}
	if stored.Version != record.Version {
		return persistence.ExecutionRecord{}, persistence.ErrStaleVersion
	}

	stored.Status = record.Status
	stored.TakenAt = cloneTime(record.TakenAt)
	stored.TakenBy = record.TakenBy
	stored.ExecutedAt = cloneTime(record.ExecutedAt)
	stored.ExecutedBy = record.ExecutedBy
	stored.Comment = record.Comment
	stored.PhotoRefs = append([]string(nil), record.PhotoRefs...)
	stored.FailureReason = record.FailureReason
	stored.UpdatedAt = record.UpdatedAt
	stored.Version++
	s.executions[record.ID] = stored
	return cloneExecution(stored), nil
}

// GetExecution retrieves an execution by ID.
func (s *Storage) GetExecution(_ context.Context, id string) (persistence.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.executions[id]
	if !ok {
		return persistence.ExecutionRecord{}, persistence.ErrNotFound
	}
	return cloneExecution(record), nil
}

// FindExecution retrieves the execution occupying a slot.
func (s *Storage) FindExecution(_ context.Context, workItemID, siteID, scheduledDate string) (persistence.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slots[slotKey{workItemID: workItemID, siteID: siteID, scheduledDate: scheduledDate}]
	if !ok {
		return persistence.ExecutionRecord{}, persistence.ErrNotFound
	}
	return cloneExecution(s.executions[id]), nil
}

// FindLatestExecution returns the most recently executed record of a work item.
func (s *Storage) FindLatestExecution(_ context.Context, workItemID string) (persistence.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest persistence.ExecutionRecord
		found  bool
	)
	for _, record := range s.executions {
		if record.WorkItemID != workItemID || record.ExecutedAt == nil {
			continue
		}
		if !found || record.ExecutedAt.After(*latest.ExecutedAt) ||
			(record.ExecutedAt.Equal(*latest.ExecutedAt) && record.ScheduledDate > latest.ScheduledDate) {
			latest = record
			found = true
		}
	}
	if !found {
		return persistence.ExecutionRecord{}, persistence.ErrNotFound
	}
	return cloneExecution(latest), nil
}

// ListExecutions returns executions matching filter ordered by scheduled time.
func (s *Storage) ListExecutions(_ context.Context, filter persistence.ExecutionFilter) ([]persistence.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]struct{}
	if len(filter.WorkItemIDs) > 0 {
		ids = make(map[string]struct{}, len(filter.WorkItemIDs))
		for _, id := range filter.WorkItemIDs {
			ids[id] = struct{}{}
		}
	}

	var records []persistence.ExecutionRecord
	for _, record := range s.executions {
		if ids != nil {
			if _, ok := ids[record.WorkItemID]; !ok {
				continue
			}
		}
		if filter.SiteID != "" && record.SiteID != filter.SiteID {
			continue
		}
		if filter.ScheduledFrom != "" && record.ScheduledDate < filter.ScheduledFrom {
			continue
		}
		if filter.ScheduledTo != "" && record.ScheduledDate > filter.ScheduledTo {
			continue
		}
		records = append(records, cloneExecution(record))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ScheduledFor.Equal(records[j].ScheduledFor) {
			return records[i].ID < records[j].ID
		}
		return records[i].ScheduledFor.Before(records[j].ScheduledFor)
	})
	return records, nil
}

// --- AuditRepository implementation ---

// AppendAudit stores an audit entry.
func (s *Storage) AppendAudit(_ context.Context, entry persistence.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

// ListAudit returns the audit trail of an execution, oldest first.
func (s *Storage) ListAudit(_ context.Context, executionID string) ([]persistence.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []persistence.AuditEntry
	for _, entry := range s.audit {
		if entry.ExecutionID == executionID {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	return entries, nil
}

func slotKeyOf(record persistence.ExecutionRecord) slotKey {
	return slotKey{workItemID: record.WorkItemID, siteID: record.SiteID, scheduledDate: record.ScheduledDate}
}

func cloneSite(site persistence.Site) persistence.Site {
	site.WorkingDays = append([]time.Weekday(nil), site.WorkingDays...)
	return site
}

func cloneWorkItem(item persistence.RecurringWorkItem) persistence.RecurringWorkItem {
	item.ChecklistID = cloneString(item.ChecklistID)
	item.AssigneeID = cloneString(item.AssigneeID)
	item.CanonicalIntervalDays = cloneFloat(item.CanonicalIntervalDays)
	return item
}

func cloneExecution(record persistence.ExecutionRecord) persistence.ExecutionRecord {
	record.TakenAt = cloneTime(record.TakenAt)
	record.ExecutedAt = cloneTime(record.ExecutedAt)
	record.PhotoRefs = append([]string(nil), record.PhotoRefs...)
	return record
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
