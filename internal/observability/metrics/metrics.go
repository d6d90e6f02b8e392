package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments. All record methods are
// safe on a nil receiver so optional wiring stays unconditional at call
// sites.
type Metrics struct {
	admissionDecisions   metric.Int64Counter
	tokensRecorded       metric.Int64Counter
	reportsRecorded      metric.Int64Counter
	reconciliationEvents metric.Int64Counter
	sweepCompleted       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tokengate"
	}
	meter := provider.Meter(name)

	admission, err := meter.Int64Counter("tokengate.admission.decisions",
		metric.WithDescription("Admission decisions by reason"),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("tokengate.usage.tokens",
		metric.WithDescription("Tokens recorded against usage periods"),
	)
	if err != nil {
		return nil, err
	}
	reports, err := meter.Int64Counter("tokengate.usage.reports",
		metric.WithDescription("Billable reports recorded"),
	)
	if err != nil {
		return nil, err
	}
	reconciliation, err := meter.Int64Counter("tokengate.reconciliation.events",
		metric.WithDescription("Billing lifecycle events by type and outcome"),
	)
	if err != nil {
		return nil, err
	}
	sweep, err := meter.Int64Counter("tokengate.sweep.completed_periods",
		metric.WithDescription("Expired periods completed by the sweep"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		admissionDecisions:   admission,
		tokensRecorded:       tokens,
		reportsRecorded:      reports,
		reconciliationEvents: reconciliation,
		sweepCompleted:       sweep,
	}, nil
}

func (m *Metrics) RecordAdmission(ctx context.Context, reason string, allowed bool) {
	if m == nil || m.admissionDecisions == nil {
		return
	}
	m.admissionDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("allowed", allowed),
	))
}

func (m *Metrics) RecordUsage(ctx context.Context, tokens int64, billableReport, embeddingTokens bool) {
	if m == nil {
		return
	}
	if m.tokensRecorded != nil {
		m.tokensRecorded.Add(ctx, tokens, metric.WithAttributes(
			attribute.Bool("embedding", embeddingTokens),
		))
	}
	if billableReport && m.reportsRecorded != nil {
		m.reportsRecorded.Add(ctx, 1)
	}
}

func (m *Metrics) RecordReconciliation(ctx context.Context, eventType, outcome string) {
	if m == nil || m.reconciliationEvents == nil {
		return
	}
	m.reconciliationEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordSweep(ctx context.Context, completed int64) {
	if m == nil || m.sweepCompleted == nil {
		return
	}
	m.sweepCompleted.Add(ctx, completed)
}
