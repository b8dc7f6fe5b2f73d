package engine

import (
	"context"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Status is the terminal state of a traced flow run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Span is an opaque handle for one node execution attempt. Attribute values
// are observability side effects and never influence routing.
type Span interface {
	SetAttribute(key string, value any)
}

// Tracer is the observability collaborator consumed by the engine: one
// trace per flow run, one span per node execution attempt, plus a metrics
// summary. Implementations must tolerate concurrent span reporting.
type Tracer interface {
	StartFlowTrace(ctx context.Context, flowName string) context.Context
	EndFlowTrace(ctx context.Context, status Status, err error)
	StartNodeSpan(ctx context.Context, nodeName, nodeKind string, retry int) (context.Context, Span)
	EndNodeSpan(span Span, action flow.Action, err error)

	// Metrics returns the summary accumulated since the last
	// StartFlowTrace.
	Metrics() *Metrics
}

// SpanSummary records one node execution attempt for the metrics summary.
type SpanSummary struct {
	Node     string
	Kind     string
	Action   flow.Action
	Retry    int
	Duration time.Duration
	Error    string
}

// Metrics summarizes one traced flow run.
type Metrics struct {
	FlowName  string
	Status    Status
	StartedAt time.Time
	Duration  time.Duration
	Nodes     int
	Retries   int
	Spans     []SpanSummary
}

// NopTracer discards everything. It is the default when no tracer is
// injected.
type NopTracer struct{}

type nopSpan struct{}

func (nopSpan) SetAttribute(string, any) {}

// StartFlowTrace returns the context unchanged.
func (NopTracer) StartFlowTrace(ctx context.Context, _ string) context.Context { return ctx }

// EndFlowTrace does nothing.
func (NopTracer) EndFlowTrace(context.Context, Status, error) {}

// StartNodeSpan returns the context unchanged and a no-op span.
func (NopTracer) StartNodeSpan(ctx context.Context, _, _ string, _ int) (context.Context, Span) {
	return ctx, nopSpan{}
}

// EndNodeSpan does nothing.
func (NopTracer) EndNodeSpan(Span, flow.Action, error) {}

// Metrics returns an empty summary.
func (NopTracer) Metrics() *Metrics { return &Metrics{} }
