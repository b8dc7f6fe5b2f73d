package flow

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"go.uber.org/zap"
)

// BatchOutcome aggregates the terminal Actions of a batch flow's sub-flow
// runs, in input order. It is returned alongside the shared state rather
// than smuggled into it under a reserved key.
type BatchOutcome struct {
	Actions []Action
}

// batchItems resolves the item collection for a batch flow run: the flow's
// prepare phase when set, otherwise the "items" key of the shared state.
func (f *Flow) batchItems(ctx context.Context, shared State, rc *RunContext) (any, []any, error) {
	if f.prep != nil {
		prep, err := f.prep(ctx, shared, rc)
		if err != nil {
			return nil, nil, newError(CodeLifecycle, f.name, err)
		}
		items, err := itemsFromPrep(prep)
		if err != nil {
			return nil, nil, newError(CodeLifecycle, f.name, err)
		}
		return prep, items, nil
	}
	items := shared.GetSlice("items")
	return items, items, nil
}

// branchState builds the isolated shared-state view for one item: a shallow
// clone of the outer state with the item injected under the flow's item key.
// Top-level keys cannot race between branches; nested values stay aliased.
func (f *Flow) branchState(shared State, item any) State {
	view := shared.Clone()
	view[f.itemKey] = item
	return view
}

// BatchFlow runs its entire sub-flow once per item, sequentially, each run
// against an isolated branch state. Terminal Actions are aggregated into a
// BatchOutcome handed to the flow's post phase.
type BatchFlow struct {
	Flow
}

// NewBatchFlow builds a sequential batch flow.
func NewBatchFlow(name string, opts ...FlowOption) *BatchFlow {
	return &BatchFlow{Flow: *newFlow(name, "batch-flow", opts)}
}

// Run executes the batch flow as a node.
func (f *BatchFlow) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	action, _, err := f.runBatch(ctx, shared, rc)
	return action, err
}

// ExecuteBatch runs the batch flow top-level and returns the aggregated
// outcome directly.
func (f *BatchFlow) ExecuteBatch(ctx context.Context, shared State) (*BatchOutcome, error) {
	_, outcome, err := f.runBatch(ctx, shared, nil)
	return outcome, err
}

func (f *BatchFlow) runBatch(ctx context.Context, shared State, rc *RunContext) (Action, *BatchOutcome, error) {
	action, outcome, err := f.batchLifecycle(ctx, shared, rc, f.runItems)
	if err == nil {
		return action, outcome, nil
	}
	f.logger.Error("batch flow failed", zap.String("flow", f.name), zap.Error(err))
	if f.onError != nil {
		a, herr := f.onError(ctx, err, shared)
		return a, outcome, herr
	}
	return "", outcome, err
}

func (f *BatchFlow) runItems(ctx context.Context, items []any, shared State, rc *RunContext) ([]Action, error) {
	actions := make([]Action, 0, len(items))
	for _, item := range items {
		action, err := f.orchestrate(ctx, f.branchState(shared, item), rc, nil)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// ParallelBatchFlow runs its sub-flow once per item as concurrent branches,
// joined with input-order aggregation. A failing branch does not cancel its
// siblings; the first failure in input order is reported.
type ParallelBatchFlow struct {
	Flow
}

// NewParallelBatchFlow builds a concurrent batch flow. WithFlowMaxParallel
// caps the fan-out.
func NewParallelBatchFlow(name string, opts ...FlowOption) *ParallelBatchFlow {
	return &ParallelBatchFlow{Flow: *newFlow(name, "parallel-batch-flow", opts)}
}

// Run executes the batch flow as a node.
func (f *ParallelBatchFlow) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	action, _, err := f.runBatch(ctx, shared, rc)
	return action, err
}

// ExecuteBatch runs the batch flow top-level and returns the aggregated
// outcome directly.
func (f *ParallelBatchFlow) ExecuteBatch(ctx context.Context, shared State) (*BatchOutcome, error) {
	_, outcome, err := f.runBatch(ctx, shared, nil)
	return outcome, err
}

func (f *ParallelBatchFlow) runBatch(ctx context.Context, shared State, rc *RunContext) (Action, *BatchOutcome, error) {
	action, outcome, err := f.batchLifecycle(ctx, shared, rc, f.runItems)
	if err == nil {
		return action, outcome, nil
	}
	f.logger.Error("batch flow failed", zap.String("flow", f.name), zap.Error(err))
	if f.onError != nil {
		a, herr := f.onError(ctx, err, shared)
		return a, outcome, herr
	}
	return "", outcome, err
}

func (f *ParallelBatchFlow) runItems(ctx context.Context, items []any, shared State, rc *RunContext) ([]Action, error) {
	actions := make([]Action, len(items))
	errs := make([]error, len(items))

	var limiter *concurrency.Limiter
	if f.maxParallel > 0 {
		limiter = concurrency.NewLimiter(f.maxParallel)
	}

	done := make(chan int, len(items))
	for i, item := range items {
		go func() {
			defer func() { done <- i }()
			if limiter != nil {
				if err := limiter.Acquire(ctx); err != nil {
					errs[i] = err
					return
				}
				defer limiter.Release()
			}
			actions[i], errs[i] = f.orchestrate(ctx, f.branchState(shared, item), rc, nil)
		}()
	}
	for range items {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return actions, nil
}

// batchLifecycle is the lifecycle shared by both batch flow variants;
// runItems is the variant-specific dispatch strategy.
func (f *Flow) batchLifecycle(ctx context.Context, shared State, rc *RunContext, runItems func(context.Context, []any, State, *RunContext) ([]Action, error)) (Action, *BatchOutcome, error) {
	if f.start == nil {
		return "", nil, newError(CodeConfig, f.name, ErrNoStartNode)
	}
	rc = f.scope(rc)

	if f.before != nil {
		if err := f.before(ctx, shared, rc); err != nil {
			return "", nil, newError(CodeLifecycle, f.name, err)
		}
	}

	prep, items, err := f.batchItems(ctx, shared, rc)
	if err != nil {
		return "", nil, err
	}

	actions, err := runItems(ctx, items, shared, rc)
	if err != nil {
		return "", nil, err
	}
	outcome := &BatchOutcome{Actions: actions}

	action := Default
	if f.post != nil {
		if action, err = f.post(ctx, shared, prep, outcome, rc); err != nil {
			return "", outcome, newError(CodeLifecycle, f.name, err)
		}
		action = action.normalize()
	}

	if f.after != nil {
		if err := f.after(ctx, shared, rc); err != nil {
			return "", outcome, newError(CodeLifecycle, f.name, err)
		}
	}
	return action, outcome, nil
}
