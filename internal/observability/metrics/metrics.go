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

// Metrics exposes domain-level OTel instruments.
type Metrics struct {
	profileTransitions metric.Int64Counter
	profileAnnotations metric.Int64Counter
	reportDeletes      metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "destiny"
	}
	meter := provider.Meter(name)

	profileTransitions, err := meter.Int64Counter("destiny_profile_transitions_total")
	if err != nil {
		return nil, err
	}
	profileAnnotations, err := meter.Int64Counter("destiny_profile_annotations_total")
	if err != nil {
		return nil, err
	}
	reportDeletes, err := meter.Int64Counter("destiny_report_deletes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		profileTransitions: profileTransitions,
		profileAnnotations: profileAnnotations,
		reportDeletes:      reportDeletes,
	}, nil
}

// RecordProfileTransition counts lock state transitions.
func (m *Metrics) RecordProfileTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.profileTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProfileAnnotation counts appended rectification notes.
func (m *Metrics) RecordProfileAnnotation(ctx context.Context) {
	if m == nil {
		return
	}
	m.profileAnnotations.Add(ctx, 1)
}

// RecordReportDelete counts administrative report deletions.
func (m *Metrics) RecordReportDelete(ctx context.Context, system string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("system", strings.TrimSpace(system)))
	m.reportDeletes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// user_id is deliberately absent: it is unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"system": {},
	"from":   {},
	"to":     {},
	"reason": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
