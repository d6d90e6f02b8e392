// Package domain defines the admission decision returned before a report
// generation is allowed to run.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonAdminBypass          Reason = "admin_bypass"
	ReasonFirstReportAvailable Reason = "first_report_available"
	ReasonSubscriptionRequired Reason = "subscription_required"
	ReasonOK                   Reason = "ok"
	ReasonLimitExceeded        Reason = "limit_exceeded"
)

// Decision is the structured answer to "may I spend ~N tokens?". It is an
// estimate, not a reservation: two concurrent checks can both be allowed
// against the same remaining budget, bounded by in-flight operations.
type Decision struct {
	Allowed     bool    `json:"allowed"`
	Reason      Reason  `json:"reason"`
	TokensUsed  int64   `json:"tokens_used"`
	TokensLimit int64   `json:"tokens_limit"` // -1 means unlimited (admin bypass)
	Remaining   int64   `json:"remaining"`
	Percentage  float64 `json:"percentage"`
}

type Service interface {
	// Check decides whether an operation of estimatedTokens may proceed.
	// Read path: it never mutates usage, and any storage failure is
	// surfaced rather than defaulting to allow or deny.
	Check(ctx context.Context, tenantID snowflake.ID, estimatedTokens int64) (Decision, error)
}

var ErrInvalidEstimate = errors.New("invalid_estimate")
