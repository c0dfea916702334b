package assembly

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/ctxpack/internal/assembly"

// Build outcomes recorded on assembly.build.total.
const (
	outcomeReady     = "ready"
	outcomeFallback  = "fallback"
	outcomeInvalid   = "invalid"
	outcomeBackend   = "backend_error"
	outcomeTimeout   = "timeout"
	outcomeDiscarded = "discarded"
)

type instruments struct {
	buildTotal    metric.Int64Counter
	buildDuration metric.Float64Histogram
	buildTokens   metric.Int64Histogram
	contentFetch  metric.Int64Counter
	initialized   bool
}

func newInstruments(meter metric.Meter, logger *zap.Logger) *instruments {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	m := &instruments{}
	var err error

	m.buildTotal, err = meter.Int64Counter(
		"assembly.build.total",
		metric.WithDescription("Context builds labeled by outcome"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		logger.Warn("failed to create build counter", zap.Error(err))
		return m
	}

	m.buildDuration, err = meter.Float64Histogram(
		"assembly.build.duration.seconds",
		metric.WithDescription("Wall-clock duration of context builds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create build duration histogram", zap.Error(err))
		return m
	}

	m.buildTokens, err = meter.Int64Histogram(
		"assembly.build.tokens",
		metric.WithDescription("Token count of built contexts"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(1000, 8000, 32000, 128000, 200000, 500000, 1000000),
	)
	if err != nil {
		logger.Warn("failed to create build tokens histogram", zap.Error(err))
		return m
	}

	m.contentFetch, err = meter.Int64Counter(
		"assembly.content.fetch.total",
		metric.WithDescription("Context page fetches labeled by cache result"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		logger.Warn("failed to create content fetch counter", zap.Error(err))
		return m
	}

	m.initialized = true
	return m
}

func (m *instruments) recordBuild(ctx context.Context, outcome string, d time.Duration, tokens int) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.buildTotal.Add(ctx, 1, attrs)
	m.buildDuration.Record(ctx, d.Seconds(), attrs)
	if tokens > 0 {
		m.buildTokens.Record(ctx, int64(tokens))
	}
}

func (m *instruments) recordFetch(ctx context.Context, cached bool) {
	if m == nil || !m.initialized {
		return
	}
	m.contentFetch.Add(ctx, 1, metric.WithAttributes(attribute.Bool("cached", cached)))
}

func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
