// Package engine provides an alternative flow driver layering per-node
// tracing spans, exponential-backoff retry and bounded recursive re-entry
// on top of the pkg/flow orchestration contract.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/report"
	"go.uber.org/zap"
)

// ErrMaxCyclesExceeded signals a runaway recursive workflow: the flow
// requested re-entry more times than the engine's cycle budget allows. It
// is a workflow defect, distinct from ordinary node failure.
var ErrMaxCyclesExceeded = errors.New("flow exceeded maximum cycles")

// Engine drives a Flow with tracing, exponential backoff at the
// node-execution level (independent of any retry policy the node itself
// declares) and cycle-limited re-entry requested via RunContext.Recurse.
type Engine struct {
	tracer        Tracer
	logger        *zap.Logger
	maxRetries    int
	retryDelay    time.Duration
	maxCycles     int
	reporter      report.Reporter
	captureErrors bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer injects the tracing collaborator. The default discards spans.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxRetries sets how many times a failed node execution is retried
// with backoff before the failure becomes fatal.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial backoff delay; it doubles after each
// failed attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// WithMaxCycles bounds recursive flow re-entry.
func WithMaxCycles(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCycles = n
		}
	}
}

// WithReporter publishes a record per node execution attempt. Reporting
// failures are logged, never fatal.
func WithReporter(r report.Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithSentryCapture forwards fatal flow errors to the configured Sentry
// hub. The hub must already be initialized by the host application.
func WithSentryCapture() Option {
	return func(e *Engine) { e.captureErrors = true }
}

// New creates an engine with defaults: no tracing, 3 retries, 1s initial
// delay, 100 cycles.
func New(opts ...Option) *Engine {
	e := &Engine{
		tracer:     NopTracer{},
		logger:     zap.NewNop(),
		maxRetries: 3,
		retryDelay: time.Second,
		maxCycles:  100,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunFlow executes the flow under the engine's policies and returns the
// terminal Action together with the run's metrics summary.
func (e *Engine) RunFlow(ctx context.Context, f *flow.Flow, shared flow.State) (flow.Action, *Metrics, error) {
	runID := uuid.NewString()
	e.logger.Info("starting flow run",
		zap.String("flow", f.Name()),
		zap.String("run_id", runID))

	ctx = e.tracer.StartFlowTrace(ctx, f.Name())

	last, err := e.runCycles(ctx, f, shared, runID)
	if err != nil {
		e.logger.Error("flow run failed",
			zap.String("flow", f.Name()),
			zap.String("run_id", runID),
			zap.Error(err))
		e.tracer.EndFlowTrace(ctx, StatusError, err)
		if e.captureErrors {
			sentry.CaptureException(err)
		}
		return last, e.tracer.Metrics(), err
	}

	e.tracer.EndFlowTrace(ctx, StatusSuccess, nil)
	metrics := e.tracer.Metrics()
	e.logger.Info("flow run completed",
		zap.String("flow", f.Name()),
		zap.String("run_id", runID),
		zap.String("action", string(last)),
		zap.Int("nodes", metrics.Nodes),
		zap.Int("retries", metrics.Retries))
	return last, metrics, nil
}

// RunNode executes a single node under the engine's policies: a trace of
// its own, a span per execution attempt and exponential backoff on
// failure. Successors are ignored; orchestration stays a Flow's job.
func (e *Engine) RunNode(ctx context.Context, n flow.Node, shared flow.State) (flow.Action, *Metrics, error) {
	runID := uuid.NewString()
	e.logger.Info("starting node run",
		zap.String("node", n.Name()),
		zap.String("run_id", runID))

	ctx = e.tracer.StartFlowTrace(ctx, n.Name())

	action, err := e.nodeExecutor(runID, 0)(ctx, n, shared, flow.NewRunContext(nil))
	if err != nil {
		e.logger.Error("node run failed",
			zap.String("node", n.Name()),
			zap.String("run_id", runID),
			zap.Error(err))
		e.tracer.EndFlowTrace(ctx, StatusError, err)
		if e.captureErrors {
			sentry.CaptureException(err)
		}
		return "", e.tracer.Metrics(), err
	}

	e.tracer.EndFlowTrace(ctx, StatusSuccess, nil)
	e.logger.Info("node run completed",
		zap.String("node", n.Name()),
		zap.String("run_id", runID),
		zap.String("action", string(action)))
	return action, e.tracer.Metrics(), nil
}

// runCycles runs the flow's full lifecycle once per cycle, re-entering
// while a recurse request is pending and the cycle budget holds.
func (e *Engine) runCycles(ctx context.Context, f *flow.Flow, shared flow.State, runID string) (flow.Action, error) {
	base := flow.NewRunContext(nil)
	var last flow.Action
	for cycle := 0; ; cycle++ {
		if cycle >= e.maxCycles {
			return last, fmt.Errorf("%w (%d)", ErrMaxCyclesExceeded, e.maxCycles)
		}
		rc := base.WithCycle(cycle)

		action, err := f.RunWith(ctx, shared, rc, e.nodeExecutor(runID, cycle))
		if err != nil {
			return last, err
		}
		last = action

		if !rc.TakeRecurse() {
			return last, nil
		}
		e.logger.Info("recurse requested, starting next cycle",
			zap.String("flow", f.Name()),
			zap.String("run_id", runID),
			zap.Int("next_cycle", cycle+1))
	}
}

// nodeExecutor builds the per-node executor injected into the flow: each
// execution attempt gets its own tracing span and record, and failures are
// retried with exponential backoff. Configuration errors are never retried.
func (e *Engine) nodeExecutor(runID string, cycle int) flow.NodeExecutor {
	return func(ctx context.Context, n flow.Node, shared flow.State, rc *flow.RunContext) (flow.Action, error) {
		attempt := 0
		op := func() (flow.Action, error) {
			retry := attempt
			attempt++

			spanCtx, span := e.tracer.StartNodeSpan(ctx, n.Name(), n.Kind(), retry)
			span.SetAttribute("run.id", runID)
			span.SetAttribute("flow.cycle", cycle)

			started := time.Now()
			action, err := n.Run(spanCtx, shared, rc)
			e.tracer.EndNodeSpan(span, action, err)
			e.report(ctx, n, rc.FlowName(), runID, cycle, retry, started, action, err)

			if err != nil {
				if flow.IsConfig(err) {
					return "", backoff.Permanent(err)
				}
				e.logger.Warn("node execution failed",
					zap.String("node", n.Name()),
					zap.Int("retry", retry),
					zap.Error(err))
				return "", err
			}
			return action, nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.retryDelay
		b.RandomizationFactor = 0
		b.Multiplier = 2

		return backoff.Retry(ctx, op,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(e.maxRetries)+1))
	}
}

func (e *Engine) report(ctx context.Context, n flow.Node, flowName, runID string, cycle, retry int, started time.Time, action flow.Action, execErr error) {
	if e.reporter == nil {
		return
	}
	rec := report.Record{
		RunID:      runID,
		Flow:       flowName,
		Cycle:      cycle,
		Node:       n.Name(),
		Kind:       n.Kind(),
		Retry:      retry,
		Action:     string(action),
		StartedAt:  started,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	}
	if err := e.reporter.Report(ctx, rec); err != nil {
		e.logger.Warn("failed to report node execution", zap.Error(err))
	}
}
