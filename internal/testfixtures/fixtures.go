package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/facility-scheduler/internal/persistence"
)

var (
	siteCounter      uint64
	workItemCounter  uint64
	executionCounter uint64
)

// referenceTime is a Monday so weekday-sensitive tests start from a known day.
var referenceTime = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Weekdays is the Monday to Friday working week.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// ----------------------------- Site fixtures -----------------------------

// SiteFixture represents a deterministic site record.
type SiteFixture struct {
	persistence.Site
}

// SiteOption configures the generated site fixture.
type SiteOption func(*SiteFixture)

// NewSiteFixture returns a deterministic site with a Monday-Friday calendar in UTC.
func NewSiteFixture(opts ...SiteOption) SiteFixture {
	idx := atomic.AddUint64(&siteCounter, 1)
	fixture := SiteFixture{Site: persistence.Site{
		ID:          fmt.Sprintf("site-%03d", idx),
		Name:        fmt.Sprintf("Site %03d", idx),
		Timezone:    "UTC",
		WorkingDays: append([]time.Weekday(nil), Weekdays...),
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSiteID overrides the site identifier.
func WithSiteID(id string) SiteOption {
	return func(f *SiteFixture) { f.ID = id }
}

// WithSiteTimezone overrides the IANA timezone.
func WithSiteTimezone(tz string) SiteOption {
	return func(f *SiteFixture) { f.Timezone = tz }
}

// WithSiteWorkingDays overrides the working calendar.
func WithSiteWorkingDays(days ...time.Weekday) SiteOption {
	return func(f *SiteFixture) { f.WorkingDays = days }
}

// WithSitePhotoPolicy requires a photo for plain completion.
func WithSitePhotoPolicy() SiteOption {
	return func(f *SiteFixture) { f.RequirePhoto = true }
}

// WithSiteCommentPolicy requires a comment for completion.
func WithSiteCommentPolicy() SiteOption {
	return func(f *SiteFixture) { f.RequireComment = true }
}

// Persistence returns the persistence model.
func (f SiteFixture) Persistence() persistence.Site {
	site := f.Site
	site.WorkingDays = append([]time.Weekday(nil), f.WorkingDays...)
	return site
}

// --------------------------- Work item fixtures ---------------------------

// WorkItemFixture represents a deterministic recurring work item.
type WorkItemFixture struct {
	persistence.RecurringWorkItem
}

// WorkItemOption configures the generated work item fixture.
type WorkItemOption func(*WorkItemFixture)

// NewWorkItemFixture returns an active daily work item at 09:00 created at
// ReferenceTime.
func NewWorkItemFixture(siteID string, opts ...WorkItemOption) WorkItemFixture {
	idx := atomic.AddUint64(&workItemCounter, 1)
	fixture := WorkItemFixture{RecurringWorkItem: persistence.RecurringWorkItem{
		ID:            fmt.Sprintf("wi-%03d", idx),
		SiteID:        siteID,
		Title:         fmt.Sprintf("Work item %03d", idx),
		WorkType:      "inspection",
		FrequencySpec: "daily",
		PreferredTime: "09:00",
		IsActive:      true,
		AutoGenerate:  true,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithWorkItemID overrides the work item identifier.
func WithWorkItemID(id string) WorkItemOption {
	return func(f *WorkItemFixture) { f.ID = id }
}

// WithWorkItemTitle overrides the title.
func WithWorkItemTitle(title string) WorkItemOption {
	return func(f *WorkItemFixture) { f.Title = title }
}

// WithFrequency overrides the free-text frequency.
func WithFrequency(spec string) WorkItemOption {
	return func(f *WorkItemFixture) { f.FrequencySpec = spec }
}

// WithCanonicalInterval sets the cached interval.
func WithCanonicalInterval(days float64) WorkItemOption {
	return func(f *WorkItemFixture) { f.CanonicalIntervalDays = &days }
}

// WithPreferredTime overrides the HH:MM preferred start.
func WithPreferredTime(hhmm string) WorkItemOption {
	return func(f *WorkItemFixture) { f.PreferredTime = hhmm }
}

// WithMaxDelay overrides the grace period.
func WithMaxDelay(d time.Duration) WorkItemOption {
	return func(f *WorkItemFixture) { f.MaxDelay = d }
}

// WithChecklist groups the item into a checklist.
func WithChecklist(id string) WorkItemOption {
	return func(f *WorkItemFixture) { f.ChecklistID = &id }
}

// WithAssignee assigns the item.
func WithAssignee(id string) WorkItemOption {
	return func(f *WorkItemFixture) { f.AssigneeID = &id }
}

// WithWorkItemCreatedAt overrides creation and update timestamps.
func WithWorkItemCreatedAt(t time.Time) WorkItemOption {
	return func(f *WorkItemFixture) {
		f.CreatedAt = t
		f.UpdatedAt = t
	}
}

// Inactive marks the item inactive.
func Inactive() WorkItemOption {
	return func(f *WorkItemFixture) { f.IsActive = false }
}

// ManualOnly disables automatic generation.
func ManualOnly() WorkItemOption {
	return func(f *WorkItemFixture) { f.AutoGenerate = false }
}

// Persistence returns the persistence model.
func (f WorkItemFixture) Persistence() persistence.RecurringWorkItem {
	return f.RecurringWorkItem
}

// --------------------------- Execution fixtures ---------------------------

// ExecutionFixture represents a deterministic execution record.
type ExecutionFixture struct {
	persistence.ExecutionRecord
}

// ExecutionOption configures the generated execution fixture.
type ExecutionOption func(*ExecutionFixture)

// NewExecutionFixture returns an AVAILABLE execution of item on date at 09:00 UTC.
func NewExecutionFixture(workItemID, siteID, date string, opts ...ExecutionOption) ExecutionFixture {
	idx := atomic.AddUint64(&executionCounter, 1)
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: invalid date %q", date))
	}
	scheduled := day.Add(9 * time.Hour)
	fixture := ExecutionFixture{ExecutionRecord: persistence.ExecutionRecord{
		ID:            DeterministicID("execution", idx),
		WorkItemID:    workItemID,
		SiteID:        siteID,
		ScheduledDate: date,
		ScheduledFor:  scheduled,
		DueAt:         scheduled.Add(24 * time.Hour),
		Status:        "AVAILABLE",
		Source:        persistence.SourceMaterialized,
		Version:       1,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithExecutionID overrides the execution identifier.
func WithExecutionID(id string) ExecutionOption {
	return func(f *ExecutionFixture) { f.ID = id }
}

// WithExecutionStatus overrides the stored status.
func WithExecutionStatus(status string) ExecutionOption {
	return func(f *ExecutionFixture) { f.Status = status }
}

// ExecutedAt marks the execution as executed at t by actor.
func ExecutedAt(t time.Time, actor string) ExecutionOption {
	return func(f *ExecutionFixture) {
		f.ExecutedAt = &t
		f.ExecutedBy = actor
	}
}

// WithPhotos sets the photo references.
func WithPhotos(refs ...string) ExecutionOption {
	return func(f *ExecutionFixture) { f.PhotoRefs = refs }
}

// WithSource overrides the record source.
func WithSource(source string) ExecutionOption {
	return func(f *ExecutionFixture) { f.Source = source }
}

// Persistence returns the persistence model.
func (f ExecutionFixture) Persistence() persistence.ExecutionRecord {
	return f.ExecutionRecord
}
