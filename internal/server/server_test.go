package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	admissiondomain "github.com/sparlo/tokengate/internal/admission/domain"
	billingeventdomain "github.com/sparlo/tokengate/internal/billingevent/domain"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"github.com/sparlo/tokengate/internal/plancatalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type admissionStub struct {
	decision admissiondomain.Decision
	err      error
}

func (s *admissionStub) Check(context.Context, snowflake.ID, int64) (admissiondomain.Decision, error) {
	return s.decision, s.err
}

type periodStub struct {
	snapshot perioddomain.UsageSnapshot
	err      error
}

func (s *periodStub) Resolve(context.Context, snowflake.ID, int64) (perioddomain.UsagePeriod, error) {
	return perioddomain.UsagePeriod{}, s.err
}

func (s *periodStub) RecordUsage(context.Context, perioddomain.RecordUsageRequest) (perioddomain.UsageSnapshot, error) {
	return s.snapshot, s.err
}

func (s *periodStub) List(context.Context, perioddomain.ListPeriodsRequest) (perioddomain.ListPeriodsResponse, error) {
	return perioddomain.ListPeriodsResponse{}, s.err
}

func (s *periodStub) SweepExpired(context.Context, int) (int64, error) {
	return 0, s.err
}

type eventStub struct {
	err error
}

func (s *eventStub) Process(context.Context, billingeventdomain.LifecycleEvent) error {
	return s.err
}

func newTestServer(t *testing.T, admission admissiondomain.Service, periods perioddomain.Service, events billingeventdomain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := NewEngine(zap.NewNop())
	srv := &Server{
		engine:       engine,
		admissionSvc: admission,
		periodSvc:    periods,
		eventSvc:     events,
	}
	srv.RegisterRoutes()
	return engine
}

func doJSON(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCheckAdmissionReturnsDecision(t *testing.T) {
	engine := newTestServer(t, &admissionStub{decision: admissiondomain.Decision{
		Allowed:     true,
		Reason:      admissiondomain.ReasonOK,
		TokensUsed:  100,
		TokensLimit: 1_000_000,
		Remaining:   999_900,
	}}, &periodStub{}, &eventStub{})

	rec := doJSON(engine, http.MethodPost, "/v1/admission/check",
		`{"tenant_id":"1234567890","estimated_tokens":5000}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"allowed":true`)
	assert.Contains(t, rec.Body.String(), `"reason":"ok"`)
}

func TestCheckAdmissionRejectsMalformedTenant(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{}, &eventStub{})

	rec := doJSON(engine, http.MethodPost, "/v1/admission/check",
		`{"tenant_id":"not-an-id","estimated_tokens":5000}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordUsageMapsStorageUnavailable(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{
		err: fmt.Errorf("%w: connection refused", perioddomain.ErrStorageUnavailable),
	}, &eventStub{})

	rec := doJSON(engine, http.MethodPost, "/v1/usage",
		`{"tenant_id":"1234567890","tokens":100}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage_unavailable")
}

func TestWebhookDuplicateAcknowledgedAsSuccess(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{},
		&eventStub{err: billingeventdomain.ErrDuplicateEvent})

	rec := doJSON(engine, http.MethodPost, "/v1/webhooks/billing",
		`{"event_id":"evt_1","event_type":"payment_succeeded","tenant_id":"1234567890","price_id":"price_pro"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestWebhookUnknownPlanReturns422(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{},
		&eventStub{err: plancatalog.ErrUnknownPlan})

	rec := doJSON(engine, http.MethodPost, "/v1/webhooks/billing",
		`{"event_id":"evt_1","event_type":"payment_succeeded","tenant_id":"1234567890","price_id":"price_bogus"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_plan")
}

func TestWebhookMalformedEventReturns400(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{},
		&eventStub{err: billingeventdomain.ErrInvalidEvent})

	rec := doJSON(engine, http.MethodPost, "/v1/webhooks/billing",
		`{"event_id":"","event_type":"payment_succeeded"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	engine := newTestServer(t, &admissionStub{}, &periodStub{}, &eventStub{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-abc-123")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-Id"))
}
