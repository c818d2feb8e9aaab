package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// Default tracer name for lattice runtimes.
const defaultTracerName = "lattice"

// TraceConfig configures the OpenTelemetry tracer.
type TraceConfig struct {
	// TracerName is the name of the tracer (default: "lattice").
	TracerName string

	// TracerProvider supplies the tracer. If nil, the global
	// OpenTelemetry tracer provider is used; configure it in main()
	// before creating runtimes:
	//
	//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	//	otel.SetTracerProvider(tp)
	TracerProvider trace.TracerProvider

	// Filter determines which nodes to trace. Return true to trace the
	// node's activity, false to skip. If nil, everything is traced.
	Filter func(reactive.NodeInfo) bool

	// Attributes are added to every span.
	Attributes []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// TraceOption configures the OpenTelemetry tracer.
type TraceOption func(*TraceConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TraceOption {
	return func(c *TraceConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets an explicit tracer provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) TraceOption {
	return func(c *TraceConfig) {
		c.TracerProvider = tp
	}
}

// WithTraceFilter sets a filter for which nodes get spans.
func WithTraceFilter(filter func(reactive.NodeInfo) bool) TraceOption {
	return func(c *TraceConfig) {
		c.Filter = filter
	}
}

// WithTraceAttributes adds attributes to every span.
func WithTraceAttributes(attrs ...attribute.KeyValue) TraceOption {
	return func(c *TraceConfig) {
		c.Attributes = attrs
	}
}

// Tracer emits a span for every memo recomputation and effect run, and
// an error span for every storm. Hooks fire after the work finished,
// so spans are reconstructed from the reported duration: the start
// timestamp is backdated and the end timestamp is the hook time.
//
// The spans are roots: hook callbacks carry no request context to
// parent them under.
type Tracer struct {
	config TraceConfig
}

// NewTracer creates a tracer from the global or configured provider.
func NewTracer(opts ...TraceOption) *Tracer {
	config := TraceConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}
	return &Tracer{config: config}
}

// Hooks returns the hook set feeding this tracer.
func (t *Tracer) Hooks() reactive.Hooks {
	return reactive.Hooks{
		OnMemoRecompute: func(info reactive.NodeInfo, d time.Duration) {
			t.emit("lattice.recompute", info, d, nil)
		},
		OnEffectRun: func(info reactive.NodeInfo, d time.Duration) {
			t.emit("lattice.effect", info, d, nil)
		},
		OnStorm: func(info reactive.NodeInfo, runs int) {
			t.emit("lattice.storm", info, 0, func(span trace.Span) {
				span.SetAttributes(attribute.Int("lattice.storm.runs", runs))
				span.SetStatus(codes.Error, fmt.Sprintf("effect cascade exceeded budget after %d runs", runs))
			})
		},
	}
}

func (t *Tracer) emit(name string, info reactive.NodeInfo, d time.Duration, decorate func(trace.Span)) {
	if t.config.Filter != nil && !t.config.Filter(info) {
		return
	}

	end := time.Now()
	attrs := append([]attribute.KeyValue{
		attribute.Int64("lattice.node.id", int64(info.Handle)),
		attribute.String("lattice.node.kind", info.Kind.String()),
	}, t.config.Attributes...)
	if info.Name != "" {
		attrs = append(attrs, attribute.String("lattice.node.name", info.Name))
	}

	_, span := t.config.tracer.Start(
		context.Background(),
		name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(end.Add(-d)),
	)
	if decorate != nil {
		decorate(span)
	}
	span.End(trace.WithTimestamp(end))
}
