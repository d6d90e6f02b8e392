package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/sparlo/tokengate/internal/billingevent/domain"
	"github.com/sparlo/tokengate/internal/clock"
	obsmetrics "github.com/sparlo/tokengate/internal/observability/metrics"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/internal/plancatalog"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	"github.com/sparlo/tokengate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Periods    perioddomain.Repository
	Tenants    tenantdomain.Repository
	Catalog    plancatalog.Catalog
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	periods    perioddomain.Repository
	tenants    tenantdomain.Repository
	catalog    plancatalog.Catalog
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) billingeventdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billingevent.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		periods:    p.Periods,
		tenants:    p.Tenants,
		catalog:    p.Catalog,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Process(ctx context.Context, event billingeventdomain.LifecycleEvent) error {
	event.EventID = strings.TrimSpace(event.EventID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.EventID == "" || event.EventType == "" {
		return billingeventdomain.ErrInvalidEvent
	}

	tenantID, err := snowflake.ParseString(strings.TrimSpace(event.TenantID))
	if err != nil || tenantID == 0 {
		return billingeventdomain.ErrInvalidEvent
	}

	// Cheap pre-check; the authoritative dedupe is the unique insert below.
	applied, err := s.alreadyProcessed(ctx, event.EventID)
	if err != nil {
		return storageErr(err)
	}
	if applied {
		s.obsMetrics.RecordReconciliation(ctx, event.EventType, "duplicate")
		return billingeventdomain.ErrDuplicateEvent
	}

	switch event.EventType {
	case billingeventdomain.EventTypePaymentSucceeded:
		err = s.applyPayment(ctx, tenantID, event)
	case billingeventdomain.EventTypeSubscriptionUpdated:
		err = s.applySubscriptionChange(ctx, tenantID, event, tenantdomain.SubscriptionStatusActive)
	case billingeventdomain.EventTypeSubscriptionCanceled:
		err = s.applySubscriptionChange(ctx, tenantID, event, tenantdomain.SubscriptionStatusCanceled)
	default:
		return billingeventdomain.ErrInvalidEvent
	}

	switch {
	case err == nil:
		s.obsMetrics.RecordReconciliation(ctx, event.EventType, "applied")
	case errors.Is(err, billingeventdomain.ErrDuplicateEvent):
		s.obsMetrics.RecordReconciliation(ctx, event.EventType, "duplicate")
	default:
		s.obsMetrics.RecordReconciliation(ctx, event.EventType, "failed")
	}
	return err
}

// applyPayment resets the tenant's budget for the paid cycle. Completing
// the old period, inserting the new one and recording the event id commit
// as one transaction: a crash in between cannot leave the tenant without
// an active period or let a redelivery run the reset twice.
func (s *Service) applyPayment(ctx context.Context, tenantID snowflake.ID, event billingeventdomain.LifecycleEvent) error {
	plan, err := s.catalog.Lookup(event.PriceID)
	if err != nil {
		// Not recorded as processed: a corrected redelivery must succeed.
		s.log.Warn("payment event references unknown plan",
			zap.String("event_id", event.EventID),
			zap.String("price_id", event.PriceID),
		)
		return err
	}

	now := s.clock.Now()
	start, end := event.PeriodStart, event.PeriodEnd
	if start.IsZero() || end.IsZero() {
		start, end = perioddomain.CycleBounds(now)
	}
	if !end.After(start) {
		return billingeventdomain.ErrInvalidEvent
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recordProcessed(ctx, tx, event, now); err != nil {
			return err
		}
		if _, err := s.tenants.Ensure(ctx, tx, tenantID, now); err != nil {
			return err
		}
		if _, err := s.periods.CompleteActive(ctx, tx, tenantID, now); err != nil {
			return err
		}
		if _, err := s.periods.UpsertActive(ctx, tx, perioddomain.UsagePeriod{
			ID:          s.genID.Generate(),
			TenantID:    tenantID,
			PeriodStart: start,
			PeriodEnd:   end,
			TokensLimit: plan.TokensLimit,
			Status:      perioddomain.PeriodStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		return s.tenants.SetSubscription(ctx, tx, tenantID, tenantdomain.SubscriptionUpdate{
			Status:      tenantdomain.SubscriptionStatusActive,
			PlanPriceID: plan.PriceID,
		}, now)
	})
	if txErr != nil {
		if errors.Is(txErr, billingeventdomain.ErrDuplicateEvent) {
			return billingeventdomain.ErrDuplicateEvent
		}
		return storageErr(txErr)
	}

	s.log.Info("billing period reset",
		zap.String("event_id", event.EventID),
		zap.Int64("tenant_id", int64(tenantID)),
		zap.Int64("tokens_limit", plan.TokensLimit),
		zap.Time("period_start", start),
		zap.Time("period_end", end),
	)
	return nil
}

// applySubscriptionChange updates subscription state only; the budget of
// the running period is left untouched.
func (s *Service) applySubscriptionChange(ctx context.Context, tenantID snowflake.ID, event billingeventdomain.LifecycleEvent, status tenantdomain.SubscriptionStatus) error {
	now := s.clock.Now()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recordProcessed(ctx, tx, event, now); err != nil {
			return err
		}
		tenant, err := s.tenants.Ensure(ctx, tx, tenantID, now)
		if err != nil {
			return err
		}

		update := tenantdomain.SubscriptionUpdate{
			Status:      status,
			PlanPriceID: tenant.PlanPriceID,
		}
		if priceID := strings.TrimSpace(event.PriceID); priceID != "" {
			update.PlanPriceID = priceID
		}
		if status == tenantdomain.SubscriptionStatusCanceled {
			update.GraceUntil = event.GraceUntil
		}
		return s.tenants.SetSubscription(ctx, tx, tenantID, update, now)
	})
	if txErr != nil {
		if errors.Is(txErr, billingeventdomain.ErrDuplicateEvent) {
			return billingeventdomain.ErrDuplicateEvent
		}
		return storageErr(txErr)
	}

	s.log.Info("subscription status updated",
		zap.String("event_id", event.EventID),
		zap.Int64("tenant_id", int64(tenantID)),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *Service) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&billingeventdomain.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// recordProcessed claims the event id. The unique primary key is the
// concurrency control: of two racing deliveries exactly one insert wins,
// the loser rolls back its whole transaction as a duplicate.
func (s *Service) recordProcessed(ctx context.Context, tx *gorm.DB, event billingeventdomain.LifecycleEvent, now time.Time) error {
	record := billingeventdomain.ProcessedEvent{
		EventID:     event.EventID,
		EventType:   event.EventType,
		ProcessedAt: now,
	}
	if len(event.RawPayload) > 0 {
		record.Payload = datatypes.JSON(event.RawPayload)
	}

	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return billingeventdomain.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", perioddomain.ErrStorageUnavailable, err)
}
