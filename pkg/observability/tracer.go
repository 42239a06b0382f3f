package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/scriptrate/ragcore/pkg/config"
)

// Span names emitted by the retrieval core.
const (
	SpanIndexBatch = "ragcore.index_batch"
	SpanSearch     = "ragcore.search"
	SpanEmbed      = "ragcore.embed"
)

// Span attribute keys.
const (
	AttrCollection = "ragcore.collection"
	AttrStrategy   = "ragcore.strategy"
	AttrTopK       = "ragcore.top_k"
	AttrBatchSize  = "ragcore.batch_size"
	AttrProviderID = "ragcore.provider_id"
	AttrCacheHit   = "ragcore.cache_hit"
	AttrDegraded   = "ragcore.degraded"
)

// Tracer wraps the OpenTelemetry tracer for the retrieval core.
// A nil Tracer is valid and produces no-op spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a Tracer from configuration.
// Returns (nil, nil) when tracing is disabled.
func NewTracer(ctx context.Context, cfg *config.TracingConfig) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

func createExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp-grpc":
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartSearch begins a span for a retrieval query.
func (t *Tracer) StartSearch(ctx context.Context, collection, strategy string, topK int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanSearch,
		trace.WithAttributes(
			attribute.String(AttrCollection, collection),
			attribute.String(AttrStrategy, strategy),
			attribute.Int(AttrTopK, topK),
		),
	)
}

// StartIndexBatch begins a span for a batch indexing operation.
func (t *Tracer) StartIndexBatch(ctx context.Context, collection string, batchSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIndexBatch,
		trace.WithAttributes(
			attribute.String(AttrCollection, collection),
			attribute.Int(AttrBatchSize, batchSize),
		),
	)
}

// StartEmbed begins a span for an embedding chain call.
func (t *Tracer) StartEmbed(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanEmbed,
		trace.WithAttributes(attribute.Int(AttrBatchSize, batchSize)),
	)
}

// EndEmbed records the serving provider and ends the span.
func EndEmbed(span trace.Span, providerID string, fromCache bool) {
	span.SetAttributes(
		attribute.String(AttrProviderID, providerID),
		attribute.Bool(AttrCacheHit, fromCache),
	)
	span.End()
}

// EndSearch records response flags and ends the span.
func EndSearch(span trace.Span, cacheHit, degraded bool) {
	span.SetAttributes(
		attribute.Bool(AttrCacheHit, cacheHit),
		attribute.Bool(AttrDegraded, degraded),
	)
	span.End()
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
