package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	"github.com/sparlo/tokengate/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) tenantdomain.Repository {
	return &repo{db: conn}
}

func (r *repo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *repo) Get(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenantdomain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) Ensure(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (*tenantdomain.Tenant, error) {
	conn := r.conn(tx).WithContext(ctx)

	err := conn.Exec(
		`INSERT INTO tenants (id, external_ref, role, first_report_used, subscription_status, plan_price_id, created_at, updated_at)
		 VALUES (?, '', ?, ?, ?, '', ?, ?)`,
		id,
		tenantdomain.RoleMember,
		false,
		tenantdomain.SubscriptionStatusNone,
		now,
		now,
	).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	return r.Get(ctx, tx, id)
}

func (r *repo) MarkFirstReportUsed(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tenants
		 SET first_report_used = ?, updated_at = ?
		 WHERE id = ? AND first_report_used = ?`,
		true, now, id, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetSubscription(ctx context.Context, tx *gorm.DB, id snowflake.ID, update tenantdomain.SubscriptionUpdate, now time.Time) error {
	result := r.conn(tx).WithContext(ctx).Exec(
		`UPDATE tenants
		 SET subscription_status = ?, plan_price_id = ?, grace_until = ?, updated_at = ?
		 WHERE id = ?`,
		update.Status, update.PlanPriceID, update.GraceUntil, now, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return tenantdomain.ErrTenantNotFound
	}
	return nil
}
