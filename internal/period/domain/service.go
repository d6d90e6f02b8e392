package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sparlo/tokengate/pkg/db/pagination"
)

// RecordUsageRequest reports the actual cost of a completed operation.
// Tokens counts against the budget either way; only billable reports
// increment the report counter (embedding lookups and other secondary
// token spend do not).
type RecordUsageRequest struct {
	TenantID        snowflake.ID `json:"tenant_id"`
	Tokens          int64        `json:"tokens"`
	BillableReport  bool         `json:"billable_report"`
	EmbeddingTokens bool         `json:"embedding_tokens"`
}

// UsageSnapshot is the post-update view of the active period.
type UsageSnapshot struct {
	TokensUsed  int64   `json:"tokens_used"`
	TokensLimit int64   `json:"tokens_limit"`
	ReportCount int64   `json:"report_count"`
	Percentage  float64 `json:"percentage"`
}

type ListPeriodsRequest struct {
	TenantID snowflake.ID
	pagination.Pagination
}

type ListPeriodsResponse struct {
	pagination.PageInfo
	Periods []UsagePeriod `json:"periods"`
}

type Service interface {
	// Resolve returns the tenant's single active period, creating one or
	// rolling over an expired one as needed. Concurrent callers converge
	// on the same row.
	Resolve(ctx context.Context, tenantID snowflake.ID, defaultLimit int64) (UsagePeriod, error)
	// RecordUsage atomically adds consumed tokens to the active period and
	// returns the updated totals.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (UsageSnapshot, error)
	List(ctx context.Context, req ListPeriodsRequest) (ListPeriodsResponse, error)
	// SweepExpired completes stale active periods in batches. Optimization
	// only; Resolve handles expiry lazily either way.
	SweepExpired(ctx context.Context, batchSize int) (int64, error)
}

// CycleBounds returns the half-open accounting window containing now.
// Self-created periods anchor to calendar months in UTC; reconciled
// periods use provider-supplied bounds instead.
func CycleBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

var (
	// ErrStorageUnavailable wraps transient store failures. Callers must
	// fail closed, never default to allowing the operation.
	ErrStorageUnavailable = errors.New("storage_unavailable")
	// ErrInvariantViolation signals data the resolver guarantees cannot
	// exist (e.g. no active period right after resolution). Alertable,
	// not retryable.
	ErrInvariantViolation = errors.New("invariant_violation")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidTokens      = errors.New("invalid_tokens")
)
