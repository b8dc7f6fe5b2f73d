package flow

import (
	"context"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// itemsFromPrep coerces a prepare result into the batch item collection. A
// nil result is an empty batch; any slice or array is accepted.
func itemsFromPrep(prep any) ([]any, error) {
	switch v := prep.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	}
	rv := reflect.ValueOf(prep)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, ErrBatchInput
}

// BatchTask applies the retrying execute phase to each item of the
// collection produced by prepare, in order. The post phase receives the
// ordered result slice. An empty collection yields an empty result slice
// with zero execute invocations.
type BatchTask struct {
	Task
}

// NewBatchTask builds a sequential batch node. The execute function runs
// once per item with the item as its prep argument.
func NewBatchTask(name string, opts ...TaskOption) *BatchTask {
	return &BatchTask{Task: *newTask(name, "batch", opts)}
}

// Run executes the batch lifecycle.
func (t *BatchTask) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	return t.runWith(ctx, shared, rc, t.execSequential)
}

// Execute runs the batch node standalone, ignoring successors.
func (t *BatchTask) Execute(ctx context.Context, shared State) (Action, error) {
	if len(t.successors) > 0 {
		t.logger.Warn("task has successors that will not run; use a Flow to orchestrate",
			zap.String("node", t.name))
	}
	return t.Run(ctx, shared, NewRunContext(nil))
}

func (t *BatchTask) execSequential(ctx context.Context, prep any, rc *RunContext) (any, error) {
	items, err := itemsFromPrep(prep)
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(items))
	for _, item := range items {
		result, err := t.execWithRetry(ctx, item, rc)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ParallelBatchTask dispatches every item as an independent concurrent
// execution and joins them. Results keep input order regardless of
// completion order, and one item's failure does not cancel its siblings.
type ParallelBatchTask struct {
	Task
}

// NewParallelBatchTask builds a concurrent batch node. WithMaxParallel caps
// the fan-out.
func NewParallelBatchTask(name string, opts ...TaskOption) *ParallelBatchTask {
	return &ParallelBatchTask{Task: *newTask(name, "parallel-batch", opts)}
}

// Run executes the batch lifecycle with concurrent fan-out.
func (t *ParallelBatchTask) Run(ctx context.Context, shared State, rc *RunContext) (Action, error) {
	return t.runWith(ctx, shared, rc, t.execParallel)
}

// Execute runs the batch node standalone, ignoring successors.
func (t *ParallelBatchTask) Execute(ctx context.Context, shared State) (Action, error) {
	if len(t.successors) > 0 {
		t.logger.Warn("task has successors that will not run; use a Flow to orchestrate",
			zap.String("node", t.name))
	}
	return t.Run(ctx, shared, NewRunContext(nil))
}

func (t *ParallelBatchTask) execParallel(ctx context.Context, prep any, rc *RunContext) (any, error) {
	items, err := itemsFromPrep(prep)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []any{}, nil
	}

	results := make([]any, len(items))
	errs := make([]error, len(items))

	// A plain errgroup carries no shared cancellation, so a failing item
	// never tears down its siblings.
	var g errgroup.Group
	if t.maxParallel > 0 {
		g.SetLimit(t.maxParallel)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i], errs[i] = t.execWithRetry(ctx, item, rc)
			return errs[i]
		})
	}
	_ = g.Wait()

	// Report the first failure in input order for determinism.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
