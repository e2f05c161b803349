package sqlite

import (
	"context"
	"fmt"

	"github.com/example/facility-scheduler/internal/persistence"
)

// AuditRepository implements persistence.AuditRepository using SQLite
type AuditRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewAuditRepository creates a new SQLite audit repository
func NewAuditRepository(pool *ConnectionPool) *AuditRepository {
	return &AuditRepository{pool: pool, mapper: NewErrorMapper()}
}

// AppendAudit stores an audit entry
func (r *AuditRepository) AppendAudit(ctx context.Context, entry persistence.AuditEntry) error {
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO audit_log (id, execution_id, work_item_id, site_id, actor, from_status, to_status, comment, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ExecutionID,
		entry.WorkItemID,
		entry.SiteID,
		entry.Actor,
		entry.FromStatus,
		entry.ToStatus,
		entry.Comment,
		formatTime(entry.OccurredAt),
	)
	return r.mapper.MapError(err)
}

// ListAudit returns the audit trail of an execution, oldest first
func (r *AuditRepository) ListAudit(ctx context.Context, executionID string) ([]persistence.AuditEntry, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT id, execution_id, work_item_id, site_id, actor, from_status, to_status, comment, occurred_at
		FROM audit_log WHERE execution_id = ? ORDER BY occurred_at ASC, rowid ASC`, executionID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var entries []persistence.AuditEntry
	for rows.Next() {
		var (
			entry      persistence.AuditEntry
			occurredAt string
		)
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.WorkItemID, &entry.SiteID, &entry.Actor,
			&entry.FromStatus, &entry.ToStatus, &entry.Comment, &occurredAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if entry.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
