// Package domain contains the tenant entitlement snapshot owned by the
// accounting engine: the one-time free-report flag and the subscription
// state mirrored from the billing provider.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role controls the administrative limit bypass.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Tenant is the per-account entitlement record.
type Tenant struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	ExternalRef        string             `json:"external_ref" gorm:"type:text;not null;default:''"`
	Role               Role               `json:"role" gorm:"type:text;not null;default:'member'"`
	FirstReportUsed    bool               `json:"first_report_used" gorm:"not null;default:false"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"type:text;not null;default:'none'"`
	PlanPriceID        string             `json:"plan_price_id" gorm:"type:text;not null;default:''"`
	GraceUntil         *time.Time         `json:"grace_until"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Entitled reports whether the tenant currently holds a metered entitlement.
// A canceled subscription stays entitled until its grace window ends.
func (t Tenant) Entitled(now time.Time) bool {
	switch t.SubscriptionStatus {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	case SubscriptionStatusCanceled:
		return t.GraceUntil != nil && now.Before(*t.GraceUntil)
	default:
		return false
	}
}
