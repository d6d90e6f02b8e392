package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/pkg/db"
	"github.com/sparlo/tokengate/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct {
	db         *gorm.DB
	rowLocking bool
}

func New(conn *gorm.DB) perioddomain.Repository {
	return &repo{
		db:         conn,
		rowLocking: db.SupportsRowLocking(conn),
	}
}

func (r *repo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *repo) LockActive(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*perioddomain.UsagePeriod, error) {
	query := `SELECT id, tenant_id, period_start, period_end, tokens_limit, tokens_used, report_count, status, created_at, updated_at
		 FROM usage_periods
		 WHERE tenant_id = ? AND status = ?`
	if r.rowLocking {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var rows []perioddomain.UsagePeriod
	err := r.conn(tx).WithContext(ctx).
		Raw(query, tenantID, perioddomain.PeriodStatusActive).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) UpsertActive(ctx context.Context, tx *gorm.DB, period perioddomain.UsagePeriod) (perioddomain.UsagePeriod, error) {
	// The partial unique index on (tenant_id) WHERE status = 'active' is
	// the convergence point: the losing insert of a race collapses into a
	// no-op update and both callers observe the surviving row.
	var rows []perioddomain.UsagePeriod
	err := r.conn(tx).WithContext(ctx).Raw(
		`INSERT INTO usage_periods (id, tenant_id, period_start, period_end, tokens_limit, tokens_used, report_count, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
		 ON CONFLICT (tenant_id) WHERE status = 'active'
		 DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING id, tenant_id, period_start, period_end, tokens_limit, tokens_used, report_count, status, created_at, updated_at`,
		period.ID,
		period.TenantID,
		period.PeriodStart,
		period.PeriodEnd,
		period.TokensLimit,
		perioddomain.PeriodStatusActive,
		period.CreatedAt,
		period.UpdatedAt,
	).Scan(&rows).Error
	if err != nil {
		return perioddomain.UsagePeriod{}, err
	}
	if len(rows) == 0 {
		return perioddomain.UsagePeriod{}, gorm.ErrRecordNotFound
	}
	return rows[0], nil
}

func (r *repo) CompleteActive(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error) {
	result := r.conn(tx).WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND status = ?`,
		perioddomain.PeriodStatusCompleted,
		now,
		tenantID,
		perioddomain.PeriodStatusActive,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) AddUsage(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, tokens, reports int64, now time.Time) (*perioddomain.UsagePeriod, error) {
	// The increment itself is the atomic primitive. There is deliberately
	// no prior read: two concurrent calls both land in full.
	var rows []perioddomain.UsagePeriod
	err := r.conn(tx).WithContext(ctx).Raw(
		`UPDATE usage_periods
		 SET tokens_used = tokens_used + ?, report_count = report_count + ?, updated_at = ?
		 WHERE tenant_id = ? AND status = ?
		 RETURNING id, tenant_id, period_start, period_end, tokens_limit, tokens_used, report_count, status, created_at, updated_at`,
		tokens,
		reports,
		now,
		tenantID,
		perioddomain.PeriodStatusActive,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListByTenant(ctx context.Context, tenantID snowflake.ID, cursor *pagination.Cursor, limit int) ([]perioddomain.UsagePeriod, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Limit(limit)

	if cursor != nil && cursor.ID != "" {
		lastID, err := snowflake.ParseString(cursor.ID)
		if err == nil {
			query = query.Where("id < ?", lastID)
		}
	}

	var periods []perioddomain.UsagePeriod
	if err := query.Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repo) CompleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM usage_periods
			WHERE status = ? AND period_end <= ?
			LIMIT ?
		 )`,
		perioddomain.PeriodStatusCompleted,
		now,
		perioddomain.PeriodStatusActive,
		now,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
