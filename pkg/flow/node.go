package flow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lifecycle function types. Prep reads shared state and produces the input
// for execute; execute does the work and is the only retried phase; post
// reads the results and returns the routing Action.
type (
	// PrepFunc is the prepare phase.
	PrepFunc func(ctx context.Context, shared State, rc *RunContext) (any, error)

	// ExecFunc is the execute phase. It sees the prepare result, never the
	// shared state. AttemptFromContext reports the current retry attempt.
	ExecFunc func(ctx context.Context, prep any, rc *RunContext) (any, error)

	// PostFunc is the post phase. Returning the empty Action routes to
	// Default.
	PostFunc func(ctx context.Context, shared State, prep, exec any, rc *RunContext) (Action, error)

	// FallbackFunc is invoked once when every execute attempt has failed.
	// Returning a value keeps the flow alive; returning an error propagates.
	FallbackFunc func(ctx context.Context, prep any, cause error) (any, error)

	// HookFunc runs before or after the main lifecycle phases.
	HookFunc func(ctx context.Context, shared State, rc *RunContext) error

	// ErrorFunc receives every failure that escapes the lifecycle, exactly
	// once. Returning an Action recovers the run; returning an error is
	// fatal to the enclosing flow unless its own hook intervenes.
	ErrorFunc func(ctx context.Context, cause error, shared State) (Action, error)
)

// Node is a unit of work a Flow can execute: it has a name, a kind, a full
// lifecycle run, and a table of labeled successors. The set of
// implementations is closed: Task, BatchTask, ParallelBatchTask, Flow,
// BatchFlow and ParallelBatchFlow.
type Node interface {
	Name() string
	Kind() string

	// Run executes the node's full lifecycle and returns the routing Action.
	Run(ctx context.Context, shared State, rc *RunContext) (Action, error)

	// Connect registers target as the successor for action and returns the
	// target so calls can be chained. Re-registering an action overwrites
	// the previous successor and logs a warning.
	Connect(target Node, action Action) Node

	// Then registers target under the Default action.
	Then(target Node) Node

	// On starts a labeled transition: n.On("invalid").To(handler).
	On(action Action) *Transition

	// Next returns the successor registered under action.
	Next(action Action) (Node, bool)

	// Actions lists the registered successor actions in insertion order.
	Actions() []Action

	core() *nodeCore
}

// nodeCore carries the identity, successor table and logger shared by every
// node variant. The successor table belongs to the node, not to any flow, so
// a node instance can start multiple flows; mutating its edges while those
// flows run is a shared-state hazard left to the caller.
type nodeCore struct {
	name       string
	kind       string
	logger     *zap.Logger
	successors map[Action]Node
	order      []Action
}

func newNodeCore(name, kind string) nodeCore {
	if name == "" {
		name = kind + "-" + uuid.NewString()[:8]
	}
	return nodeCore{
		name:       name,
		kind:       kind,
		logger:     zap.NewNop(),
		successors: make(map[Action]Node),
	}
}

func (c *nodeCore) Name() string { return c.name }

func (c *nodeCore) Kind() string { return c.kind }

func (c *nodeCore) core() *nodeCore { return c }

func (c *nodeCore) Connect(target Node, action Action) Node {
	action = action.normalize()
	if prev, ok := c.successors[action]; ok {
		c.logger.Warn("overwriting successor",
			zap.String("node", c.name),
			zap.String("action", string(action)),
			zap.String("was", prev.Name()),
			zap.String("now", target.Name()))
	} else {
		c.order = append(c.order, action)
	}
	c.successors[action] = target
	return target
}

func (c *nodeCore) Then(target Node) Node {
	return c.Connect(target, Default)
}

func (c *nodeCore) On(action Action) *Transition {
	return &Transition{src: c, action: action}
}

func (c *nodeCore) Next(action Action) (Node, bool) {
	n, ok := c.successors[action.normalize()]
	return n, ok
}

func (c *nodeCore) Actions() []Action {
	out := make([]Action, len(c.order))
	copy(out, c.order)
	return out
}

// Transition captures a (source, action) pair so a labeled edge can be
// expressed in two steps: src.On(action).To(target).
type Transition struct {
	src    *nodeCore
	action Action
}

// To completes the transition by registering target under the captured
// action, returning the target for chaining.
func (t *Transition) To(target Node) Node {
	return t.src.Connect(target, t.action)
}

// Task is the plain retrying node variant: prepare, execute with bounded
// retry and fixed inter-attempt delay, post, bracketed by before/after hooks.
type Task struct {
	nodeCore

	prep     PrepFunc
	exec     ExecFunc
	post     PostFunc
	fallback FallbackFunc
	before   HookFunc
	after    HookFunc
	onError  ErrorFunc

	maxRetries  int
	wait        time.Duration
	maxParallel int
}

// TaskOption configures a Task or one of its batch variants.
type TaskOption func(*Task)

// WithPrep sets the prepare phase.
func WithPrep(fn PrepFunc) TaskOption { return func(t *Task) { t.prep = fn } }

// WithExec sets the execute phase. A Task without one fails with
// ErrExecNotImplemented the moment it is run.
func WithExec(fn ExecFunc) TaskOption { return func(t *Task) { t.exec = fn } }

// WithPost sets the post phase.
func WithPost(fn PostFunc) TaskOption { return func(t *Task) { t.post = fn } }

// WithFallback sets the hook invoked after the final failed execute attempt.
func WithFallback(fn FallbackFunc) TaskOption { return func(t *Task) { t.fallback = fn } }

// WithBefore sets the hook that runs before the prepare phase.
func WithBefore(fn HookFunc) TaskOption { return func(t *Task) { t.before = fn } }

// WithAfter sets the hook that runs after the post phase.
func WithAfter(fn HookFunc) TaskOption { return func(t *Task) { t.after = fn } }

// WithOnError sets the node-level error hook. The default propagates.
func WithOnError(fn ErrorFunc) TaskOption { return func(t *Task) { t.onError = fn } }

// WithRetry bounds the execute phase to maxRetries attempts (minimum 1, so
// 1 means no retry) with a fixed wait between failed attempts.
func WithRetry(maxRetries int, wait time.Duration) TaskOption {
	return func(t *Task) {
		if maxRetries < 1 {
			maxRetries = 1
		}
		t.maxRetries = maxRetries
		t.wait = wait
	}
}

// WithMaxParallel caps concurrent item execution. Only the parallel batch
// variants consult it; 0 means unbounded.
func WithMaxParallel(n int) TaskOption { return func(t *Task) { t.maxParallel = n } }

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) TaskOption {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTask builds a plain retrying node. An empty name is replaced with a
// generated one.
func NewTask(name string, opts ...TaskOption) *Task {
	return newTask(name, "task", opts)
}

func newTask(name, kind string, opts []TaskOption) *Task {
	t := &Task{
		nodeCore:   newNodeCore(name, kind),
		maxRetries: 1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run executes the full lifecycle: before, prepare, execute with retry,
// post, after. Every failure that escapes is delivered exactly once to the
// OnError hook, whose default is to propagate.
func (t *Task) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	return t.runWith(ctx, shared, rc, t.execWithRetry)
}

// Execute runs the task standalone with a fresh run context. Successors are
// ignored; orchestration is a Flow's job.
func (t *Task) Execute(ctx context.Context, shared State) (Action, error) {
	if len(t.successors) > 0 {
		t.logger.Warn("task has successors that will not run; use a Flow to orchestrate",
			zap.String("node", t.name))
	}
	return t.Run(ctx, shared, NewRunContext(nil))
}

// runWith is the lifecycle shared by Task and its batch variants; execPhase
// is the variant-specific execute strategy.
func (t *Task) runWith(ctx context.Context, shared State, rc *RunContext, execPhase func(context.Context, any, *RunContext) (any, error)) (Action, error) {
	if t.exec == nil {
		return "", newError(CodeConfig, t.name, ErrExecNotImplemented)
	}
	if rc == nil {
		rc = NewRunContext(nil)
	}

	action, err := t.lifecycle(ctx, shared, rc, execPhase)
	if err == nil {
		return action, nil
	}
	t.logger.Error("node failed", zap.String("node", t.name), zap.Error(err))
	if t.onError != nil {
		return t.onError(ctx, err, shared)
	}
	return "", err
}

func (t *Task) lifecycle(ctx context.Context, shared State, rc *RunContext, execPhase func(context.Context, any, *RunContext) (any, error)) (Action, error) {
	if t.before != nil {
		if err := t.before(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, t.name, err)
		}
	}

	var prep any
	if t.prep != nil {
		var err error
		if prep, err = t.prep(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, t.name, err)
		}
	}

	exec, err := execPhase(ctx, prep, rc)
	if err != nil {
		return "", newError(CodeExec, t.name, err)
	}

	action := Default
	if t.post != nil {
		if action, err = t.post(ctx, shared, prep, exec, rc); err != nil {
			return "", newError(CodeLifecycle, t.name, err)
		}
		action = action.normalize()
	}

	if t.after != nil {
		if err := t.after(ctx, shared, rc); err != nil {
			return "", newError(CodeLifecycle, t.name, err)
		}
	}
	return action, nil
}

// execWithRetry attempts the execute phase up to maxRetries times with the
// configured wait between failed attempts. On final failure the fallback
// hook decides whether the failure propagates.
func (t *Task) execWithRetry(ctx context.Context, prep any, rc *RunContext) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		result, err := t.exec(withAttempt(ctx, attempt), prep, rc)
		if err == nil {
			return result, nil
		}
		lastErr = err
		t.logger.Warn("exec attempt failed",
			zap.String("node", t.name),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", t.maxRetries),
			zap.Error(err))
		if attempt == t.maxRetries {
			break
		}
		if err := sleep(ctx, t.wait); err != nil {
			// Cancellation is not exhaustion; skip the fallback.
			return nil, err
		}
	}
	if t.fallback != nil {
		return t.fallback(ctx, prep, lastErr)
	}
	return nil, lastErr
}

// sleep blocks for the retry delay, honoring context cancellation. A zero
// delay only checks for cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
