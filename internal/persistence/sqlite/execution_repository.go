package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/facility-scheduler/internal/persistence"
)

// ExecutionRepository implements persistence.ExecutionRepository using SQLite.
// The (work_item_id, site_id, scheduled_date) UNIQUE index arbitrates
// concurrent materialization of the same slot.
type ExecutionRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewExecutionRepository creates a new SQLite execution repository
func NewExecutionRepository(pool *ConnectionPool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool, mapper: NewErrorMapper()}
}

const executionColumns = `id, work_item_id, site_id, scheduled_date, scheduled_for, due_at, status,
	taken_at, taken_by, executed_at, executed_by, comment, photo_refs, failure_reason, source, version,
	created_at, updated_at`

// CreateExecutionIfAbsent inserts record, returning persistence.ErrDuplicate
// when the slot or id already exists.
func (r *ExecutionRepository) CreateExecutionIfAbsent(ctx context.Context, record persistence.ExecutionRecord) error {
	if record.ID == "" || record.WorkItemID == "" || record.SiteID == "" || record.ScheduledDate == "" {
		return persistence.ErrConstraintViolation
	}
	photos, err := encodePhotos(record.PhotoRefs)
	if err != nil {
		return err
	}
	if record.Version == 0 {
		record.Version = 1
	}
	if record.Source == "" {
		record.Source = persistence.SourceMaterialized
	}

	query := `INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.pool.DB().ExecContext(ctx, query,
		record.ID,
		record.WorkItemID,
		record.SiteID,
		record.ScheduledDate,
		formatTime(record.ScheduledFor),
		formatTime(record.DueAt),
		record.Status,
		formatTimePtr(record.TakenAt),
		record.TakenBy,
		formatTimePtr(record.ExecutedAt),
		record.ExecutedBy,
		record.Comment,
		photos,
		record.FailureReason,
		record.Source,
		record.Version,
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// UpdateExecution writes the mutable fields of record when the stored version
// matches record.Version and returns the record with the bumped version.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, record persistence.ExecutionRecord) (persistence.ExecutionRecord, error) {
	photos, err := encodePhotos(record.PhotoRefs)
	if err != nil {
		return persistence.ExecutionRecord{}, err
	}

	var updated persistence.ExecutionRecord
	err = r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE executions SET
				status = ?, taken_at = ?, taken_by = ?, executed_at = ?, executed_by = ?,
				comment = ?, photo_refs = ?, failure_reason = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			record.Status,
			formatTimePtr(record.TakenAt),
			record.TakenBy,
			formatTimePtr(record.ExecutedAt),
			record.ExecutedBy,
			record.Comment,
			photos,
			record.FailureReason,
			formatTime(record.UpdatedAt),
			record.ID,
			record.Version,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM executions WHERE id = ?`, record.ID).Scan(&exists); err != nil {
				return r.mapper.MapError(err)
			}
			return persistence.ErrStaleVersion
		}
		updated, err = scanExecution(tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, record.ID))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.ExecutionRecord{}, err
	}
	return updated, nil
}

// GetExecution retrieves an execution by ID
func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (persistence.ExecutionRecord, error) {
	return r.queryOne(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
}

// FindExecution retrieves the execution occupying a slot
func (r *ExecutionRepository) FindExecution(ctx context.Context, workItemID, siteID, scheduledDate string) (persistence.ExecutionRecord, error) {
	return r.queryOne(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE work_item_id = ? AND site_id = ? AND scheduled_date = ?`, workItemID, siteID, scheduledDate)
}

// FindLatestExecution returns the most recently executed record of a work item
func (r *ExecutionRepository) FindLatestExecution(ctx context.Context, workItemID string) (persistence.ExecutionRecord, error) {
	return r.queryOne(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE work_item_id = ? AND executed_at IS NOT NULL
		ORDER BY executed_at DESC, scheduled_date DESC LIMIT 1`, workItemID)
}

// ListExecutions returns executions matching filter ordered by scheduled time
func (r *ExecutionRepository) ListExecutions(ctx context.Context, filter persistence.ExecutionFilter) ([]persistence.ExecutionRecord, error) {
	query, args := buildExecutionListQuery(filter)
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var records []persistence.ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func buildExecutionListQuery(filter persistence.ExecutionFilter) (string, []any) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var (
		conditions []string
		args       []any
	)
	if len(filter.WorkItemIDs) > 0 {
		placeholders := make([]string, len(filter.WorkItemIDs))
		for i, id := range filter.WorkItemIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, fmt.Sprintf("work_item_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SiteID != "" {
		conditions = append(conditions, "site_id = ?")
		args = append(args, filter.SiteID)
	}
	if filter.ScheduledFrom != "" {
		conditions = append(conditions, "scheduled_date >= ?")
		args = append(args, filter.ScheduledFrom)
	}
	if filter.ScheduledTo != "" {
		conditions = append(conditions, "scheduled_date <= ?")
		args = append(args, filter.ScheduledTo)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scheduled_for ASC, id ASC"
	return query, args
}

func (r *ExecutionRepository) queryOne(ctx context.Context, query string, args ...any) (persistence.ExecutionRecord, error) {
	record, err := scanExecution(r.pool.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		return persistence.ExecutionRecord{}, r.mapper.MapError(err)
	}
	return record, nil
}

func scanExecution(row rowScanner) (persistence.ExecutionRecord, error) {
	var (
		record               persistence.ExecutionRecord
		scheduledFor, dueAt  string
		takenAt, executedAt  sql.NullString
		photos               string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&record.ID,
		&record.WorkItemID,
		&record.SiteID,
		&record.ScheduledDate,
		&scheduledFor,
		&dueAt,
		&record.Status,
		&takenAt,
		&record.TakenBy,
		&executedAt,
		&record.ExecutedBy,
		&record.Comment,
		&photos,
		&record.FailureReason,
		&record.Source,
		&record.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.ExecutionRecord{}, err
		}
		return persistence.ExecutionRecord{}, fmt.Errorf("sqlite: scan execution: %w", err)
	}

	if record.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if record.DueAt, err = parseTime(dueAt); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if record.TakenAt, err = parseTimePtr(takenAt); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if record.ExecutedAt, err = parseTimePtr(executedAt); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.ExecutionRecord{}, err
	}
	if photos != "" && photos != "[]" {
		if err := json.Unmarshal([]byte(photos), &record.PhotoRefs); err != nil {
			return persistence.ExecutionRecord{}, fmt.Errorf("sqlite: decode photo refs: %w", err)
		}
	}
	return record, nil
}

func encodePhotos(refs []string) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode photo refs: %w", err)
	}
	return string(data), nil
}
