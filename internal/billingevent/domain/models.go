// Package domain contains the billing lifecycle events delivered by the
// payment provider and the idempotency ledger that makes redelivery safe.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

const (
	EventTypePaymentSucceeded     = "payment_succeeded"
	EventTypeSubscriptionUpdated  = "subscription_updated"
	EventTypeSubscriptionCanceled = "subscription_canceled"
)

// ProcessedEvent is the idempotency record for one applied lifecycle
// event. Rows are written exactly once, inside the same transaction as the
// event's side effects, and never mutated.
type ProcessedEvent struct {
	EventID     string         `json:"event_id" gorm:"primaryKey;type:text"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ProcessedAt time.Time      `json:"processed_at" gorm:"not null"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }

// LifecycleEvent is the canonical event shape after transport-level
// verification and parsing. PeriodStart/PeriodEnd and PriceID are only
// meaningful for payment events.
type LifecycleEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	TenantID    string     `json:"tenant_id"`
	PriceID     string     `json:"price_id"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	GraceUntil  *time.Time `json:"grace_until"`
	RawPayload  []byte     `json:"-"`
}

type Service interface {
	// Process applies one lifecycle event exactly once. Redelivery of an
	// already-applied event returns ErrDuplicateEvent, which callers
	// acknowledge as success.
	Process(ctx context.Context, event LifecycleEvent) error
}

var (
	// ErrDuplicateEvent is a successful no-op, not a failure.
	ErrDuplicateEvent = errors.New("event_already_processed")
	ErrInvalidEvent   = errors.New("invalid_event")
)
