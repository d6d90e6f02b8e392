package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	admissiondomain "github.com/sparlo/tokengate/internal/admission/domain"
	"github.com/sparlo/tokengate/internal/clock"
	"github.com/sparlo/tokengate/internal/config"
	obsmetrics "github.com/sparlo/tokengate/internal/observability/metrics"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/internal/plancatalog"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	PeriodSvc  perioddomain.Service
	Tenants    tenantdomain.Repository
	Catalog    plancatalog.Catalog
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	defaultLimit int64
	periodSvc    perioddomain.Service
	tenants      tenantdomain.Repository
	catalog      plancatalog.Catalog
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) admissiondomain.Service {
	return &Service{
		log:          p.Log.Named("admission.service"),
		clock:        p.Clock,
		defaultLimit: p.Cfg.DefaultTokenLimit,
		periodSvc:    p.PeriodSvc,
		tenants:      p.Tenants,
		catalog:      p.Catalog,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) Check(ctx context.Context, tenantID snowflake.ID, estimatedTokens int64) (admissiondomain.Decision, error) {
	if tenantID == 0 {
		return admissiondomain.Decision{}, perioddomain.ErrInvalidTenant
	}
	if estimatedTokens < 0 {
		return admissiondomain.Decision{}, admissiondomain.ErrInvalidEstimate
	}

	tenant, err := s.tenants.Ensure(ctx, nil, tenantID, s.clock.Now())
	if err != nil {
		// Fail closed: the caller gets an error, never a default allow.
		return admissiondomain.Decision{}, storageErr(err)
	}

	if tenant.Role == tenantdomain.RoleAdmin {
		return s.finish(ctx, admissiondomain.Decision{
			Allowed:     true,
			Reason:      admissiondomain.ReasonAdminBypass,
			TokensLimit: -1,
			Remaining:   -1,
		}), nil
	}

	period, err := s.periodSvc.Resolve(ctx, tenantID, s.limitFor(tenant))
	if err != nil {
		return admissiondomain.Decision{}, err
	}

	decision := admissiondomain.Decision{
		TokensUsed:  period.TokensUsed,
		TokensLimit: period.TokensLimit,
		Remaining:   period.Remaining(),
		Percentage:  period.UsedPercentage(),
	}

	switch {
	case !tenant.FirstReportUsed:
		decision.Allowed = true
		decision.Reason = admissiondomain.ReasonFirstReportAvailable
	case !tenant.Entitled(s.clock.Now()):
		decision.Allowed = false
		decision.Reason = admissiondomain.ReasonSubscriptionRequired
	case period.Remaining() >= estimatedTokens:
		decision.Allowed = true
		decision.Reason = admissiondomain.ReasonOK
	default:
		decision.Allowed = false
		decision.Reason = admissiondomain.ReasonLimitExceeded
	}

	return s.finish(ctx, decision), nil
}

// limitFor picks the budget used if Resolve has to create a period: the
// tenant's reconciled plan when one exists, the free-tier default otherwise.
func (s *Service) limitFor(tenant *tenantdomain.Tenant) int64 {
	if tenant.PlanPriceID != "" {
		if plan, err := s.catalog.Lookup(tenant.PlanPriceID); err == nil {
			return plan.TokensLimit
		}
	}
	return s.defaultLimit
}

func (s *Service) finish(ctx context.Context, decision admissiondomain.Decision) admissiondomain.Decision {
	s.obsMetrics.RecordAdmission(ctx, string(decision.Reason), decision.Allowed)
	return decision
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", perioddomain.ErrStorageUnavailable, err)
}
