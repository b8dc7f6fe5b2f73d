package flow

import (
	"context"
	"sync"
)

// control carries the cross-cycle signals shared by every RunContext derived
// from the same run.
type control struct {
	mu      sync.Mutex
	recurse bool
}

// RunContext is the explicit per-run execution context handed to every node
// in a run. It replaces per-node parameter mutation: node definitions stay
// immutable and shareable across flows, while params, the owning flow name
// and the engine cycle number travel here.
type RunContext struct {
	params   map[string]any
	flowName string
	cycle    int
	ctl      *control
}

// NewRunContext returns a run context seeded with the given params. A nil
// map is allowed.
func NewRunContext(params map[string]any) *RunContext {
	return &RunContext{params: params, ctl: &control{}}
}

// WithCycle returns a copy of the run context positioned at the given engine
// cycle. The copy shares the recurse signal with the original.
func (rc *RunContext) WithCycle(cycle int) *RunContext {
	out := *rc
	out.cycle = cycle
	return &out
}

// forFlow derives the context a flow hands to its nodes: the flow's own
// params override inherited ones, and the flow name is recorded.
func (rc *RunContext) forFlow(name string, params map[string]any) *RunContext {
	merged := make(map[string]any, len(rc.params)+len(params))
	for k, v := range rc.params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return &RunContext{params: merged, flowName: name, cycle: rc.cycle, ctl: rc.ctl}
}

// FlowName returns the name of the flow currently orchestrating this node,
// or "" for a standalone run.
func (rc *RunContext) FlowName() string {
	return rc.flowName
}

// Cycle returns the engine cycle number, 0 outside an engine run.
func (rc *RunContext) Cycle() int {
	return rc.cycle
}

// Param returns the parameter under key, or nil.
func (rc *RunContext) Param(key string) any {
	return rc.params[key]
}

// ParamString returns the parameter under key as a string, or "".
func (rc *RunContext) ParamString(key string) string {
	if v, ok := rc.params[key].(string); ok {
		return v
	}
	return ""
}

// Params returns a copy of the parameter map.
func (rc *RunContext) Params() map[string]any {
	out := make(map[string]any, len(rc.params))
	for k, v := range rc.params {
		out[k] = v
	}
	return out
}

// Recurse requests another engine cycle once the current flow cycle
// completes. It is the typed replacement for a reserved shared-state flag
// and has no effect outside an engine run.
func (rc *RunContext) Recurse() {
	rc.ctl.mu.Lock()
	rc.ctl.recurse = true
	rc.ctl.mu.Unlock()
}

// TakeRecurse consumes a pending recurse request, returning whether one was
// set.
func (rc *RunContext) TakeRecurse() bool {
	rc.ctl.mu.Lock()
	defer rc.ctl.mu.Unlock()
	set := rc.ctl.recurse
	rc.ctl.recurse = false
	return set
}

type attemptKey struct{}

// withAttempt records the 1-based retry attempt on the context handed to an
// exec function.
func withAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext returns the 1-based attempt number of the current
// execute call, or 0 when the context did not come from a retrying execute.
func AttemptFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(attemptKey{}).(int); ok {
		return v
	}
	return 0
}
