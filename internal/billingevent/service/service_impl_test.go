package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingeventdomain "github.com/sparlo/tokengate/internal/billingevent/domain"
	"github.com/sparlo/tokengate/internal/clock"
	"github.com/sparlo/tokengate/internal/config"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	periodrepository "github.com/sparlo/tokengate/internal/period/repository"
	"github.com/sparlo/tokengate/internal/plancatalog"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	tenantrepository "github.com/sparlo/tokengate/internal/tenant/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc     billingeventdomain.Service
	periods perioddomain.Repository
	tenants tenantdomain.Repository
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
}

func setupReconciliation(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&tenantdomain.Tenant{},
		&perioddomain.UsagePeriod{},
		&billingeventdomain.ProcessedEvent{},
	))
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_usage_periods_active
		 ON usage_periods (tenant_id) WHERE status = 'active'`,
	).Error)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	periods := periodrepository.New(db)
	tenants := tenantrepository.New(db)

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Periods: periods,
		Tenants: tenants,
		Catalog: plancatalog.New(config.Config{}),
	})

	return fixture{svc: svc, periods: periods, tenants: tenants, db: db, node: node, clock: fc}
}

func (f fixture) paymentEvent(eventID string, tenantID snowflake.ID, priceID string) billingeventdomain.LifecycleEvent {
	start := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return billingeventdomain.LifecycleEvent{
		EventID:     eventID,
		EventType:   billingeventdomain.EventTypePaymentSucceeded,
		TenantID:    tenantID.String(),
		PriceID:     priceID,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
		RawPayload:  []byte(`{"id":"` + eventID + `"}`),
	}
}

func (f fixture) processedCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&billingeventdomain.ProcessedEvent{}).Count(&count).Error)
	return count
}

func TestPaymentResetsBudget(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()

	// Existing free-tier period with some consumption.
	start, end := perioddomain.CycleBounds(f.clock.Now())
	_, err := f.periods.UpsertActive(ctx, f.db, perioddomain.UsagePeriod{
		ID:          f.node.Generate(),
		TenantID:    tenantID,
		PeriodStart: start,
		PeriodEnd:   end,
		TokensLimit: 50_000,
		Status:      perioddomain.PeriodStatusActive,
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	})
	require.NoError(t, err)
	_, err = f.periods.AddUsage(ctx, nil, tenantID, 30_000, 1, f.clock.Now())
	require.NoError(t, err)

	require.NoError(t, f.svc.Process(ctx, f.paymentEvent("evt_1", tenantID, "price_pro")))

	active, err := f.periods.LockActive(ctx, nil, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, int64(3_000_000), active.TokensLimit)
	require.Equal(t, int64(0), active.TokensUsed)
	require.Equal(t, int64(0), active.ReportCount)

	tenant, err := f.tenants.Get(ctx, nil, tenantID)
	require.NoError(t, err)
	require.Equal(t, tenantdomain.SubscriptionStatusActive, tenant.SubscriptionStatus)
	require.Equal(t, "price_pro", tenant.PlanPriceID)

	var completed int64
	require.NoError(t, f.db.Model(&perioddomain.UsagePeriod{}).
		Where("tenant_id = ? AND status = ?", tenantID, perioddomain.PeriodStatusCompleted).
		Count(&completed).Error)
	require.Equal(t, int64(1), completed)
	require.Equal(t, int64(1), f.processedCount(t))
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()
	event := f.paymentEvent("evt_once", tenantID, "price_starter")

	require.NoError(t, f.svc.Process(ctx, event))

	first, err := f.periods.LockActive(ctx, nil, tenantID)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Consumption between deliveries must survive the redelivery.
	_, err = f.periods.AddUsage(ctx, nil, tenantID, 7_000, 0, f.clock.Now())
	require.NoError(t, err)

	err = f.svc.Process(ctx, event)
	require.ErrorIs(t, err, billingeventdomain.ErrDuplicateEvent)

	active, err := f.periods.LockActive(ctx, nil, tenantID)
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)
	require.Equal(t, int64(7_000), active.TokensUsed)
	require.Equal(t, int64(1), f.processedCount(t))
}

func TestConcurrentDeliveryAppliesOnce(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()
	event := f.paymentEvent("evt_race", tenantID, "price_pro")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Process(ctx, event)
		}(i)
	}
	wg.Wait()

	// Exactly one delivery wins the event-id insert; the other rolls back
	// as a duplicate.
	var applied, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, billingeventdomain.ErrDuplicateEvent):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, applied)
	require.Equal(t, 1, duplicates)
	require.Equal(t, int64(1), f.processedCount(t))

	var active int64
	require.NoError(t, f.db.Model(&perioddomain.UsagePeriod{}).
		Where("tenant_id = ? AND status = ?", tenantID, perioddomain.PeriodStatusActive).
		Count(&active).Error)
	require.Equal(t, int64(1), active)
}

func TestUnknownPlanRejectedWithoutRecording(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()

	event := f.paymentEvent("evt_unknown", tenantID, "price_nonexistent")
	err := f.svc.Process(ctx, event)
	require.ErrorIs(t, err, plancatalog.ErrUnknownPlan)
	require.Equal(t, int64(0), f.processedCount(t))

	// Corrected redelivery under the same event id still applies.
	event.PriceID = "price_starter"
	require.NoError(t, f.svc.Process(ctx, event))
	require.Equal(t, int64(1), f.processedCount(t))
}

func TestPaymentWithoutBoundsDefaultsToCalendarCycle(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()

	event := f.paymentEvent("evt_nobounds", tenantID, "price_scale")
	event.PeriodStart = time.Time{}
	event.PeriodEnd = time.Time{}

	require.NoError(t, f.svc.Process(ctx, event))

	active, err := f.periods.LockActive(ctx, nil, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)

	start, end := perioddomain.CycleBounds(f.clock.Now())
	require.WithinDuration(t, start, active.PeriodStart, 0)
	require.WithinDuration(t, end, active.PeriodEnd, 0)
	require.Equal(t, int64(10_000_000), active.TokensLimit)
}

func TestSubscriptionCanceledKeepsBudgetAndSetsGrace(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()

	require.NoError(t, f.svc.Process(ctx, f.paymentEvent("evt_pay", tenantID, "price_pro")))
	_, err := f.periods.AddUsage(ctx, nil, tenantID, 100_000, 2, f.clock.Now())
	require.NoError(t, err)

	grace := f.clock.Now().AddDate(0, 0, 14)
	require.NoError(t, f.svc.Process(ctx, billingeventdomain.LifecycleEvent{
		EventID:    "evt_cancel",
		EventType:  billingeventdomain.EventTypeSubscriptionCanceled,
		TenantID:   tenantID.String(),
		GraceUntil: &grace,
	}))

	tenant, err := f.tenants.Get(ctx, nil, tenantID)
	require.NoError(t, err)
	require.Equal(t, tenantdomain.SubscriptionStatusCanceled, tenant.SubscriptionStatus)
	require.NotNil(t, tenant.GraceUntil)
	require.Equal(t, "price_pro", tenant.PlanPriceID)

	// Cancellation never touches the running period.
	active, err := f.periods.LockActive(ctx, nil, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, int64(100_000), active.TokensUsed)
}

func TestProcessRejectsMalformedEvents(t *testing.T) {
	f := setupReconciliation(t)
	tenantID := f.node.Generate()
	ctx := context.Background()

	cases := []billingeventdomain.LifecycleEvent{
		{EventType: billingeventdomain.EventTypePaymentSucceeded, TenantID: tenantID.String()},
		{EventID: "evt_x", TenantID: tenantID.String()},
		{EventID: "evt_y", EventType: billingeventdomain.EventTypePaymentSucceeded, TenantID: "not-a-snowflake"},
		{EventID: "evt_z", EventType: "billing.unknown", TenantID: tenantID.String()},
	}
	for _, event := range cases {
		require.ErrorIs(t, f.svc.Process(ctx, event), billingeventdomain.ErrInvalidEvent)
	}
	require.Equal(t, int64(0), f.processedCount(t))

	// Inverted bounds on an otherwise valid payment event.
	event := f.paymentEvent("evt_inverted", tenantID, "price_starter")
	event.PeriodEnd = event.PeriodStart.Add(-time.Hour)
	require.ErrorIs(t, f.svc.Process(ctx, event), billingeventdomain.ErrInvalidEvent)
	require.Equal(t, int64(0), f.processedCount(t))
}
