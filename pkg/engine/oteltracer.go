package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/flow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "daedalus/engine"

// OTelTracer implements Tracer on OpenTelemetry: a parent span per flow run
// and a child span per node execution attempt, while accumulating a local
// metrics summary. Use internal/tracing to install an OTLP exporter, or
// rely on the global provider already configured by the host application.
type OTelTracer struct {
	tracer trace.Tracer

	mu      sync.Mutex
	metrics *Metrics
}

// NewOTelTracer creates a tracer backed by the global OpenTelemetry
// provider.
func NewOTelTracer() *OTelTracer {
	return &OTelTracer{
		tracer:  otel.Tracer(tracerName),
		metrics: &Metrics{},
	}
}

type otelSpan struct {
	span    trace.Span
	owner   *OTelTracer
	node    string
	kind    string
	retry   int
	started time.Time
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// StartFlowTrace opens the parent span and resets the metrics summary.
func (t *OTelTracer) StartFlowTrace(ctx context.Context, flowName string) context.Context {
	t.mu.Lock()
	t.metrics = &Metrics{FlowName: flowName, StartedAt: time.Now()}
	t.mu.Unlock()

	ctx, _ = t.tracer.Start(ctx, "flow."+flowName,
		trace.WithAttributes(attribute.String("flow.name", flowName)))
	return ctx
}

// EndFlowTrace closes the parent span and finalizes the summary.
func (t *OTelTracer) EndFlowTrace(ctx context.Context, status Status, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(status))
	}
	span.End()

	t.mu.Lock()
	t.metrics.Status = status
	t.metrics.Duration = time.Since(t.metrics.StartedAt)
	t.mu.Unlock()
}

// StartNodeSpan opens a span for one node execution attempt.
func (t *OTelTracer) StartNodeSpan(ctx context.Context, nodeName, nodeKind string, retry int) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "node."+nodeName,
		trace.WithAttributes(
			attribute.String("node.name", nodeName),
			attribute.String("node.kind", nodeKind),
			attribute.Int("node.retry", retry)))
	return ctx, &otelSpan{
		span:    span,
		owner:   t,
		node:    nodeName,
		kind:    nodeKind,
		retry:   retry,
		started: time.Now(),
	}
}

// EndNodeSpan closes the attempt span and records it in the summary.
func (t *OTelTracer) EndNodeSpan(s Span, action flow.Action, err error) {
	os, ok := s.(*otelSpan)
	if !ok {
		return
	}
	summary := SpanSummary{
		Node:     os.node,
		Kind:     os.kind,
		Action:   action,
		Retry:    os.retry,
		Duration: time.Since(os.started),
	}
	if err != nil {
		summary.Error = err.Error()
		os.span.RecordError(err)
		os.span.SetStatus(codes.Error, err.Error())
	} else {
		os.span.SetAttributes(attribute.String("node.action", string(action)))
		os.span.SetStatus(codes.Ok, "")
	}
	os.span.End()

	t.mu.Lock()
	t.metrics.Nodes++
	if os.retry > 0 {
		t.metrics.Retries++
	}
	t.metrics.Spans = append(t.metrics.Spans, summary)
	t.mu.Unlock()
}

// Metrics returns a copy of the summary accumulated since the last
// StartFlowTrace.
func (t *OTelTracer) Metrics() *Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := *t.metrics
	out.Spans = append([]SpanSummary(nil), t.metrics.Spans...)
	return &out
}
