package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sparlo/tokengate/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository is the persistence contract for usage periods. Methods accept
// an optional transaction handle so reconciliation can compose rollover
// with its dedupe insert atomically.
type Repository interface {
	// LockActive reads the tenant's active row without waiting on
	// concurrent resolvers (SKIP LOCKED on dialects that support it).
	// Returns nil when no active period exists or the row is claimed.
	LockActive(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*UsagePeriod, error)
	// UpsertActive inserts a fresh active period. When a concurrent
	// resolver already inserted one, the insert is absorbed into a no-op
	// update and the surviving row is returned.
	UpsertActive(ctx context.Context, tx *gorm.DB, period UsagePeriod) (UsagePeriod, error)
	// CompleteActive transitions the tenant's active period to completed,
	// freezing its totals. Returns the number of rows transitioned.
	CompleteActive(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) (int64, error)
	// AddUsage is the single atomic read-modify-write of the accumulator.
	// Returns nil when the tenant has no active period.
	AddUsage(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, tokens, reports int64, now time.Time) (*UsagePeriod, error)
	ListByTenant(ctx context.Context, tenantID snowflake.ID, cursor *pagination.Cursor, limit int) ([]UsagePeriod, error)
	CompleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}
