package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/facility-scheduler/internal/persistence"
)

// WorkItemRepository implements persistence.WorkItemRepository using SQLite
type WorkItemRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewWorkItemRepository creates a new SQLite work item repository
func NewWorkItemRepository(pool *ConnectionPool) *WorkItemRepository {
	return &WorkItemRepository{pool: pool, mapper: NewErrorMapper()}
}

const workItemColumns = `id, site_id, checklist_id, assignee_id, title, work_type, frequency_spec,
	canonical_interval_days, preferred_time, max_delay_minutes, is_active, auto_generate, created_at, updated_at`

// UpsertWorkItem creates or replaces a work item definition.
func (r *WorkItemRepository) UpsertWorkItem(ctx context.Context, item persistence.RecurringWorkItem) error {
	if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.SiteID) == "" {
		return persistence.ErrConstraintViolation
	}

	var canonical sql.NullFloat64
	if item.CanonicalIntervalDays != nil {
		canonical = sql.NullFloat64{Float64: *item.CanonicalIntervalDays, Valid: true}
	}

	query := `
		INSERT INTO work_items (` + workItemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			checklist_id = excluded.checklist_id,
			assignee_id = excluded.assignee_id,
			title = excluded.title,
			work_type = excluded.work_type,
			frequency_spec = excluded.frequency_spec,
			canonical_interval_days = excluded.canonical_interval_days,
			preferred_time = excluded.preferred_time,
			max_delay_minutes = excluded.max_delay_minutes,
			is_active = excluded.is_active,
			auto_generate = excluded.auto_generate,
			updated_at = excluded.updated_at
	`
	_, err := r.pool.DB().ExecContext(ctx, query,
		item.ID,
		item.SiteID,
		nullString(item.ChecklistID),
		nullString(item.AssigneeID),
		item.Title,
		item.WorkType,
		item.FrequencySpec,
		canonical,
		item.PreferredTime,
		int64(item.MaxDelay/time.Minute),
		item.IsActive,
		item.AutoGenerate,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetWorkItem retrieves a work item by ID
func (r *WorkItemRepository) GetWorkItem(ctx context.Context, id string) (persistence.RecurringWorkItem, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if err != nil {
		return persistence.RecurringWorkItem{}, r.mapper.MapError(err)
	}
	return item, nil
}

// ListWorkItems returns work items matching filter ordered by site and title
func (r *WorkItemRepository) ListWorkItems(ctx context.Context, filter persistence.WorkItemFilter) ([]persistence.RecurringWorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items`
	var (
		conditions []string
		args       []any
	)
	if !filter.IncludeInactive {
		conditions = append(conditions, "is_active = 1")
	}
	if filter.SiteID != "" {
		conditions = append(conditions, "site_id = ?")
		args = append(args, filter.SiteID)
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY site_id ASC, title ASC, id ASC"

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var items []persistence.RecurringWorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateCanonicalInterval refreshes the cached interval of a work item.
func (r *WorkItemRepository) UpdateCanonicalInterval(ctx context.Context, id string, days *float64, updatedAt time.Time) error {
	var canonical sql.NullFloat64
	if days != nil {
		canonical = sql.NullFloat64{Float64: *days, Valid: true}
	}
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE work_items SET canonical_interval_days = ?, updated_at = ? WHERE id = ?`,
		canonical, formatTime(updatedAt), id,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanWorkItem(row rowScanner) (persistence.RecurringWorkItem, error) {
	var (
		item                    persistence.RecurringWorkItem
		checklistID, assigneeID sql.NullString
		canonical               sql.NullFloat64
		maxDelayMinutes         int64
		createdAt, updatedAt    string
	)
	err := row.Scan(
		&item.ID,
		&item.SiteID,
		&checklistID,
		&assigneeID,
		&item.Title,
		&item.WorkType,
		&item.FrequencySpec,
		&canonical,
		&item.PreferredTime,
		&maxDelayMinutes,
		&item.IsActive,
		&item.AutoGenerate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.RecurringWorkItem{}, err
		}
		return persistence.RecurringWorkItem{}, fmt.Errorf("sqlite: scan work item: %w", err)
	}
	item.ChecklistID = stringPtr(checklistID)
	item.AssigneeID = stringPtr(assigneeID)
	if canonical.Valid {
		days := canonical.Float64
		item.CanonicalIntervalDays = &days
	}
	item.MaxDelay = time.Duration(maxDelayMinutes) * time.Minute
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RecurringWorkItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.RecurringWorkItem{}, err
	}
	return item, nil
}
