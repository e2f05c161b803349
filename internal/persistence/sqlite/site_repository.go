package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/facility-scheduler/internal/persistence"
)

// SiteRepository implements persistence.SiteRepository using SQLite
type SiteRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewSiteRepository creates a new SQLite site repository
func NewSiteRepository(pool *ConnectionPool) *SiteRepository {
	return &SiteRepository{pool: pool, mapper: NewErrorMapper()}
}

const siteColumns = `id, name, timezone, working_days, require_photo, require_comment, created_at, updated_at`

// UpsertSite creates or replaces a site, keeping the original created_at.
func (r *SiteRepository) UpsertSite(ctx context.Context, site persistence.Site) error {
	if strings.TrimSpace(site.ID) == "" || strings.TrimSpace(site.Name) == "" {
		return persistence.ErrConstraintViolation
	}
	timezone := site.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	query := `
		INSERT INTO sites (` + siteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			working_days = excluded.working_days,
			require_photo = excluded.require_photo,
			require_comment = excluded.require_comment,
			updated_at = excluded.updated_at
	`
	_, err := r.pool.DB().ExecContext(ctx, query,
		site.ID,
		site.Name,
		timezone,
		encodeWeekdays(site.WorkingDays),
		site.RequirePhoto,
		site.RequireComment,
		formatTime(site.CreatedAt),
		formatTime(site.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetSite retrieves a site by ID
func (r *SiteRepository) GetSite(ctx context.Context, id string) (persistence.Site, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if err != nil {
		return persistence.Site{}, r.mapper.MapError(err)
	}
	return site, nil
}

// ListSites returns all sites ordered by name
func (r *SiteRepository) ListSites(ctx context.Context) ([]persistence.Site, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var sites []persistence.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (persistence.Site, error) {
	var (
		site                 persistence.Site
		mask                 int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&site.ID, &site.Name, &site.Timezone, &mask, &site.RequirePhoto, &site.RequireComment, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return persistence.Site{}, err
		}
		return persistence.Site{}, fmt.Errorf("sqlite: scan site: %w", err)
	}
	site.WorkingDays = decodeWeekdays(mask)
	var err error
	if site.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Site{}, err
	}
	if site.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Site{}, err
	}
	return site, nil
}
