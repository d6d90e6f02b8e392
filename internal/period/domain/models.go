// Package domain contains the usage period ledger: one row per tenant per
// billing window, with the token budget and what has been consumed so far.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PeriodStatus represents the lifecycle of an accounting period.
type PeriodStatus string

const (
	PeriodStatusActive    PeriodStatus = "active"
	PeriodStatusCompleted PeriodStatus = "completed"
)

// UsagePeriod is a bounded accounting window. The interval is half-open:
// PeriodEnd is exclusive. At most one row per tenant is active at a time,
// enforced by a partial unique index on (tenant_id) where status = 'active'.
// Completed rows are immutable history and are never deleted.
type UsagePeriod struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;index:idx_usage_periods_tenant"`
	PeriodStart time.Time    `json:"period_start" gorm:"not null"`
	PeriodEnd   time.Time    `json:"period_end" gorm:"not null"`
	TokensLimit int64        `json:"tokens_limit" gorm:"not null"`
	TokensUsed  int64        `json:"tokens_used" gorm:"not null;default:0"`
	ReportCount int64        `json:"report_count" gorm:"not null;default:0"`
	Status      PeriodStatus `json:"status" gorm:"type:text;not null;default:'active'"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// Expired reports whether the period's window has passed. Expiry is handled
// lazily on the next resolve; the sweep only accelerates it.
func (p UsagePeriod) Expired(now time.Time) bool {
	return !now.Before(p.PeriodEnd)
}

// Remaining returns the unconsumed budget. Usage may overshoot the limit
// (admission is checked before the operation runs, never clamped after),
// so this can be negative.
func (p UsagePeriod) Remaining() int64 {
	return p.TokensLimit - p.TokensUsed
}

// UsedPercentage returns consumption as a percentage rounded to one decimal.
func (p UsagePeriod) UsedPercentage() float64 {
	if p.TokensLimit <= 0 {
		return 0
	}
	return roundOneDecimal(float64(p.TokensUsed) / float64(p.TokensLimit) * 100)
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
