package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/sparlo/tokengate/internal/clock"
	"github.com/sparlo/tokengate/internal/config"
	obsmetrics "github.com/sparlo/tokengate/internal/observability/metrics"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	"github.com/sparlo/tokengate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       perioddomain.Repository
	Tenants    tenantdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	defaultLimit int64
	repo         perioddomain.Repository
	tenants      tenantdomain.Repository
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) perioddomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("period.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		defaultLimit: p.Cfg.DefaultTokenLimit,
		repo:         p.Repo,
		tenants:      p.Tenants,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID, defaultLimit int64) (perioddomain.UsagePeriod, error) {
	if tenantID == 0 {
		return perioddomain.UsagePeriod{}, perioddomain.ErrInvalidTenant
	}
	if defaultLimit <= 0 {
		defaultLimit = s.defaultLimit
	}

	now := s.clock.Now()

	var period perioddomain.UsagePeriod
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.LockActive(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if current != nil && !current.Expired(now) {
			period = *current
			return nil
		}
		if current != nil {
			if _, err := s.repo.CompleteActive(ctx, tx, tenantID, now); err != nil {
				return err
			}
		}

		start, end := perioddomain.CycleBounds(now)
		fresh := perioddomain.UsagePeriod{
			ID:          s.genID.Generate(),
			TenantID:    tenantID,
			PeriodStart: start,
			PeriodEnd:   end,
			TokensLimit: defaultLimit,
			Status:      perioddomain.PeriodStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		// Two attempts: the upsert can surface a stale active row when a
		// concurrent resolver aborted after we skipped its lock. Completing
		// it and re-upserting converges.
		for range 2 {
			resolved, err := s.repo.UpsertActive(ctx, tx, fresh)
			if err != nil {
				return err
			}
			if !resolved.Expired(now) {
				period = resolved
				return nil
			}
			if _, err := s.repo.CompleteActive(ctx, tx, tenantID, now); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: unable to converge on active period for tenant %d", perioddomain.ErrInvariantViolation, tenantID)
	})
	if err != nil {
		return perioddomain.UsagePeriod{}, storageErr(err)
	}

	return period, nil
}

func (s *Service) RecordUsage(ctx context.Context, req perioddomain.RecordUsageRequest) (perioddomain.UsageSnapshot, error) {
	if req.TenantID == 0 {
		return perioddomain.UsageSnapshot{}, perioddomain.ErrInvalidTenant
	}
	if req.Tokens < 0 {
		return perioddomain.UsageSnapshot{}, perioddomain.ErrInvalidTokens
	}

	if _, err := s.Resolve(ctx, req.TenantID, 0); err != nil {
		return perioddomain.UsageSnapshot{}, err
	}

	now := s.clock.Now()
	var reports int64
	if req.BillableReport {
		reports = 1
	}

	row, err := s.repo.AddUsage(ctx, nil, req.TenantID, req.Tokens, reports, now)
	if err != nil {
		return perioddomain.UsageSnapshot{}, storageErr(err)
	}
	if row == nil {
		// Resolve just guaranteed an active period; a missing row here is
		// corrupted state, not a retryable condition.
		s.log.Error("no active period after resolve",
			zap.Int64("tenant_id", int64(req.TenantID)),
		)
		return perioddomain.UsageSnapshot{}, perioddomain.ErrInvariantViolation
	}

	if req.BillableReport {
		// Usage can arrive before any admission check touched this tenant.
		// The flag update matches zero rows against a missing tenant row,
		// so the row has to exist first.
		if _, err := s.tenants.Ensure(ctx, nil, req.TenantID, now); err != nil {
			return perioddomain.UsageSnapshot{}, storageErr(err)
		}
		flipped, err := s.tenants.MarkFirstReportUsed(ctx, nil, req.TenantID, now)
		if err != nil {
			return perioddomain.UsageSnapshot{}, storageErr(err)
		}
		if flipped {
			s.log.Info("first free report consumed",
				zap.Int64("tenant_id", int64(req.TenantID)),
			)
		}
	}

	s.obsMetrics.RecordUsage(ctx, req.Tokens, req.BillableReport, req.EmbeddingTokens)

	return perioddomain.UsageSnapshot{
		TokensUsed:  row.TokensUsed,
		TokensLimit: row.TokensLimit,
		ReportCount: row.ReportCount,
		Percentage:  row.UsedPercentage(),
	}, nil
}

func (s *Service) List(ctx context.Context, req perioddomain.ListPeriodsRequest) (perioddomain.ListPeriodsResponse, error) {
	if req.TenantID == 0 {
		return perioddomain.ListPeriodsResponse{}, perioddomain.ErrInvalidTenant
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}

	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err == nil {
			cursor = decoded
		}
	}

	periods, err := s.repo.ListByTenant(ctx, req.TenantID, cursor, pageSize+1)
	if err != nil {
		return perioddomain.ListPeriodsResponse{}, storageErr(err)
	}

	resp := perioddomain.ListPeriodsResponse{}
	if len(periods) > pageSize {
		periods = periods[:pageSize]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID: periods[len(periods)-1].ID.String(),
		})
		if err == nil {
			resp.NextPageToken = token
		}
	}
	resp.Periods = periods
	return resp, nil
}

func (s *Service) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	count, err := s.repo.CompleteExpired(ctx, s.clock.Now(), batchSize)
	if err != nil {
		return 0, storageErr(err)
	}
	return count, nil
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isDomainErr(err):
		return err
	default:
		return fmt.Errorf("%w: %v", perioddomain.ErrStorageUnavailable, err)
	}
}

func isDomainErr(err error) bool {
	for _, domainErr := range []error{
		perioddomain.ErrInvalidTenant,
		perioddomain.ErrInvalidTokens,
		perioddomain.ErrInvariantViolation,
		perioddomain.ErrStorageUnavailable,
	} {
		if errors.Is(err, domainErr) {
			return true
		}
	}
	return false
}
