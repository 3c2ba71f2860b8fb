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
	Environment      string
}

// Metrics exposes pipeline-level instruments.
type Metrics struct {
	eventsReceived  metric.Int64Counter
	eventOutcomes   metric.Int64Counter
	providerLookups metric.Int64Counter
	deliveries      metric.Int64Counter
	staleReaped     metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "leadhook"
	}
	meter := provider.Meter(name)

	eventsReceived, err := meter.Int64Counter("leadhook.events.received")
	if err != nil {
		return nil, err
	}
	eventOutcomes, err := meter.Int64Counter("leadhook.events.outcome")
	if err != nil {
		return nil, err
	}
	providerLookups, err := meter.Int64Counter("leadhook.enrichment.provider_lookups")
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("leadhook.crm.deliveries")
	if err != nil {
		return nil, err
	}
	staleReaped, err := meter.Int64Counter("leadhook.reaper.requeued")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsReceived:  eventsReceived,
		eventOutcomes:   eventOutcomes,
		providerLookups: providerLookups,
		deliveries:      deliveries,
		staleReaped:     staleReaped,
	}, nil
}

// RecordEventReceived counts one inbound webhook event.
func (m *Metrics) RecordEventReceived(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordEventOutcome counts one terminal pipeline outcome.
func (m *Metrics) RecordEventOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.eventOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordProviderLookup counts one enrichment provider call.
func (m *Metrics) RecordProviderLookup(ctx context.Context, provider string, success bool) {
	if m == nil {
		return
	}
	m.providerLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordDelivery counts one outbound CRM delivery attempt.
func (m *Metrics) RecordDelivery(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordStaleReaped counts ledger rows requeued by the reaper.
func (m *Metrics) RecordStaleReaped(ctx context.Context, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.staleReaped.Add(ctx, count)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp metrics protocol %q", protocol)
	}
}
