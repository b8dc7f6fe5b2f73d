package flow

import (
	"context"

	"go.uber.org/zap"
)

// NodeExecutor runs a single node on behalf of a flow. The engine package
// injects one to add tracing and backoff around every node execution; the
// default simply calls Node.Run.
type NodeExecutor func(ctx context.Context, n Node, shared State, rc *RunContext) (Action, error)

func runNode(ctx context.Context, n Node, shared State, rc *RunContext) (Action, error) {
	return n.Run(ctx, shared, rc)
}

// Flow holds a start node and drives traversal: run the current node, read
// its Action, resolve the successor, repeat until no successor matches. A
// Flow is itself a Node, so flows nest inside other flows.
type Flow struct {
	nodeCore

	start  Node
	params map[string]any

	prep    PrepFunc
	post    PostFunc
	before  HookFunc
	after   HookFunc
	onError ErrorFunc

	itemKey     string
	maxParallel int
}

// FlowOption configures a Flow or one of its batch variants.
type FlowOption func(*Flow)

// WithStart sets the start node.
func WithStart(n Node) FlowOption { return func(f *Flow) { f.start = n } }

// WithParams sets the flow-level parameter map handed to every node in a
// run. In nested flows the inner flow's params override inherited ones.
func WithParams(params map[string]any) FlowOption {
	return func(f *Flow) { f.params = params }
}

// WithFlowPrep sets the flow's prepare phase; its result is passed to the
// flow's post phase, not to the nodes.
func WithFlowPrep(fn PrepFunc) FlowOption { return func(f *Flow) { f.prep = fn } }

// WithFlowPost sets the flow's post phase, which may transform the terminal
// Action into the flow's externally visible result. The default passes it
// through unchanged.
func WithFlowPost(fn PostFunc) FlowOption { return func(f *Flow) { f.post = fn } }

// WithFlowBefore sets the hook run before orchestration starts.
func WithFlowBefore(fn HookFunc) FlowOption { return func(f *Flow) { f.before = fn } }

// WithFlowAfter sets the hook run after the flow's post phase.
func WithFlowAfter(fn HookFunc) FlowOption { return func(f *Flow) { f.after = fn } }

// WithFlowOnError sets the flow-level error hook. The default propagates to
// the caller.
func WithFlowOnError(fn ErrorFunc) FlowOption { return func(f *Flow) { f.onError = fn } }

// WithFlowLogger sets the structured logger. The default is a no-op logger.
func WithFlowLogger(logger *zap.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithItemKey sets the shared-state key under which batch flows inject the
// current item into each branch's cloned state. Defaults to "item".
func WithItemKey(key string) FlowOption {
	return func(f *Flow) {
		if key != "" {
			f.itemKey = key
		}
	}
}

// WithFlowMaxParallel caps concurrent sub-flow runs in ParallelBatchFlow;
// 0 means unbounded.
func WithFlowMaxParallel(n int) FlowOption { return func(f *Flow) { f.maxParallel = n } }

// NewFlow builds a flow. The start node may also be assigned later via
// Start.
func NewFlow(name string, opts ...FlowOption) *Flow {
	return newFlow(name, "flow", opts)
}

func newFlow(name, kind string, opts []FlowOption) *Flow {
	f := &Flow{
		nodeCore: newNodeCore(name, kind),
		itemKey:  "item",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start assigns the start node, returning it so graph building can continue
// from it.
func (f *Flow) Start(n Node) Node {
	f.start = n
	return n
}

// StartNode returns the current start node.
func (f *Flow) StartNode() Node { return f.start }

// Params returns a copy of the flow-level parameter map.
func (f *Flow) Params() map[string]any {
	out := make(map[string]any, len(f.params))
	for k, v := range f.params {
		out[k] = v
	}
	return out
}

// Execute runs the flow top-level with a fresh run context and returns the
// terminal Action.
func (f *Flow) Execute(ctx context.Context, shared State) (Action, error) {
	return f.Run(ctx, shared, nil)
}

// Run executes the flow as a node: before, prepare, orchestration, post,
// after, with failures delivered once to the flow's OnError hook.
func (f *Flow) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	return f.RunWith(ctx, shared, rc, nil)
}

// RunWith is Run with an injected per-node executor. A nil executor runs
// nodes directly.
func (f *Flow) RunWith(ctx context.Context, shared State, rc *RunContext, exec NodeExecutor) (Action, error) {
	action, err := f.lifecycle(ctx, shared, rc, exec)
	if err == nil {
		return action, nil
	}
	f.logger.Error("flow failed", zap.String("flow", f.name), zap.Error(err))
	if f.onError != nil {
		return f.onError(ctx, err, shared)
	}
	return "", err
}

func (f *Flow) lifecycle(ctx context.Context, shared State, rc *RunContext, exec NodeExecutor) (Action, error) {
	rc = f.scope(rc)

	if f.before != nil {
		if err := f.before(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, f.name, err)
		}
	}

	var prep any
	if f.prep != nil {
		var err error
		if prep, err = f.prep(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, f.name, err)
		}
	}

	last, err := f.orchestrate(ctx, shared, rc, exec)
	if err != nil {
		return "", err
	}

	result := last
	if f.post != nil {
		if result, err = f.post(ctx, shared, prep, last, rc); err != nil {
			return "", newError(CodeLifecycle, f.name, err)
		}
	}

	if f.after != nil {
		if err := f.after(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, f.name, err)
		}
	}
	return result, nil
}

// scope derives the run context handed to this flow's nodes.
func (f *Flow) scope(rc *RunContext) *RunContext {
	if rc == nil {
		rc = NewRunContext(nil)
	}
	return rc.forFlow(f.name, f.params)
}

// orchestrate walks the graph from the start node until no successor
// matches, returning the last Action produced.
func (f *Flow) orchestrate(ctx context.Context, shared State, rc *RunContext, exec NodeExecutor) (Action, error) {
	if f.start == nil {
		return "", newError(CodeConfig, f.name, ErrNoStartNode)
	}
	if exec == nil {
		exec = runNode
	}

	var last Action
	cur := f.start
	for step := 1; cur != nil; step++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		f.logger.Debug("executing node",
			zap.String("flow", f.name),
			zap.Int("step", step),
			zap.String("node", cur.Name()))

		action, err := exec(ctx, cur, shared, rc)
		if err != nil {
			return last, err
		}
		last = action

		route := Resolve(cur, last)
		if route.Matched {
			f.logger.Debug("routing",
				zap.String("flow", f.name),
				zap.String("from", route.From),
				zap.String("action", string(route.Action)),
				zap.String("to", route.Target.Name()))
		} else if route.Dangling {
			f.logger.Warn("flow ends: action not in available set",
				zap.String("flow", f.name),
				zap.String("node", cur.Name()),
				zap.String("action", string(last)),
				zap.Strings("available", actionStrings(cur.Actions())))
		}
		cur = route.Target
	}
	return last, nil
}

func actionStrings(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
