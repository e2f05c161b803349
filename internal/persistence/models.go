package persistence

import "time"

// Site is a facility with its working calendar and completion policy.
type Site struct {
	ID          string
	Name        string
	Timezone    string
	WorkingDays []time.Weekday
	// RequirePhoto makes plain COMPLETED insufficient without a photo.
	RequirePhoto   bool
	RequireComment bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecurringWorkItem is a maintenance task definition that repeats at a site.
type RecurringWorkItem struct {
	ID          string
	SiteID      string
	ChecklistID *string
	AssigneeID  *string
	Title       string
	WorkType    string
	// FrequencySpec is the free-text frequency as entered by operators.
	FrequencySpec string
	// CanonicalIntervalDays caches the parsed interval; the parser stays authoritative.
	CanonicalIntervalDays *float64
	PreferredTime         string
	MaxDelay              time.Duration
	IsActive              bool
	AutoGenerate          bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Execution sources.
const (
	SourceMaterialized = "materialized"
	SourceImport       = "import"
)

// ExecutionRecord is the durable record of one occurrence.
type ExecutionRecord struct {
	ID         string
	WorkItemID string
	SiteID     string
	// ScheduledDate is the civil date (YYYY-MM-DD) of the slot in the site timezone.
	ScheduledDate string
	ScheduledFor  time.Time
	DueAt         time.Time
	Status        string
	TakenAt       *time.Time
	TakenBy       string
	ExecutedAt    *time.Time
	ExecutedBy    string
	Comment       string
	PhotoRefs     []string
	FailureReason string
	Source        string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditEntry records a status change.
type AuditEntry struct {
	ID          string
	ExecutionID string
	WorkItemID  string
	SiteID      string
	Actor       string
	FromStatus  string
	ToStatus    string
	Comment     string
	OccurredAt  time.Time
}
