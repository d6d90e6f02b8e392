package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SubscriptionUpdate struct {
	Status      SubscriptionStatus
	PlanPriceID string
	GraceUntil  *time.Time
}

type Repository interface {
	Get(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Tenant, error)
	// Ensure creates the tenant row with defaults if it does not exist yet
	// and returns the current row. Safe under concurrent callers.
	Ensure(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (*Tenant, error)
	// MarkFirstReportUsed consumes the one-time free report flag. Returns
	// true when this call flipped it.
	MarkFirstReportUsed(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	SetSubscription(ctx context.Context, tx *gorm.DB, id snowflake.ID, update SubscriptionUpdate, now time.Time) error
}

var ErrTenantNotFound = errors.New("tenant_not_found")
