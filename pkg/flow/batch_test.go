package flow_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/flow"
)

func TestBatchTaskProcessesItemsInOrder(t *testing.T) {
	task := flow.NewBatchTask("doubler",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{1, 2, 3, 4}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			return item.(int) * 2, nil
		}),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			shared["results"] = exec
			return flow.Default, nil
		}),
	)

	shared := flow.NewState()
	_, err := task.Execute(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 6, 8}, shared["results"])
}

func TestBatchTaskEmptyCollection(t *testing.T) {
	var execCalls int
	task := flow.NewBatchTask("empty",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return nil, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			execCalls++
			return item, nil
		}),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			shared["results"] = exec
			return "empty-done", nil
		}),
	)

	shared := flow.NewState()
	action, err := task.Execute(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, flow.Action("empty-done"), action)
	assert.Zero(t, execCalls)
	assert.Empty(t, shared["results"])
}

func TestBatchTaskRejectsNonCollection(t *testing.T) {
	task := flow.NewBatchTask("bad-prep",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return "not a slice", nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			return item, nil
		}),
	)

	_, err := task.Execute(context.Background(), flow.NewState())
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrBatchInput)
}

func TestBatchTaskPerItemRetry(t *testing.T) {
	failures := map[int]int{2: 2} // item 2 fails twice before succeeding
	task := flow.NewBatchTask("flaky-items",
		flow.WithRetry(3, 0),
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{1, 2, 3}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			n := item.(int)
			if failures[n] > 0 {
				failures[n]--
				return nil, errors.New("transient")
			}
			return n * 10, nil
		}),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			shared["results"] = exec
			return flow.Default, nil
		}),
	)

	shared := flow.NewState()
	_, err := task.Execute(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, []any{10, 20, 30}, shared["results"])
}

func TestBatchTaskStopsAtFirstExhaustedItem(t *testing.T) {
	var processed []int
	task := flow.NewBatchTask("halting",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{1, 2, 3}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			n := item.(int)
			if n == 2 {
				return nil, errors.New("item 2 fails")
			}
			processed = append(processed, n)
			return n, nil
		}),
	)

	_, err := task.Execute(context.Background(), flow.NewState())
	require.Error(t, err)
	assert.Equal(t, []int{1}, processed, "items after the failure must not run")
}

func TestParallelBatchTaskKeepsInputOrder(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	task := flow.NewParallelBatchTask("shuffled",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return items, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			return fmt.Sprintf("item-%d", item.(int)), nil
		}),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			shared["results"] = exec
			return flow.Default, nil
		}),
	)

	shared := flow.NewState()
	_, err := task.Execute(context.Background(), shared)
	require.NoError(t, err)

	results := shared["results"].([]any)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r, "results must keep input order regardless of completion order")
	}
}

func TestParallelBatchTaskFailureDoesNotCancelSiblings(t *testing.T) {
	var completed atomic.Int32
	task := flow.NewParallelBatchTask("independent",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{0, 1, 2, 3, 4}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			if item.(int) == 0 {
				return nil, errors.New("first item fails fast")
			}
			time.Sleep(5 * time.Millisecond)
			completed.Add(1)
			return item, nil
		}),
	)

	_, err := task.Execute(context.Background(), flow.NewState())
	require.Error(t, err)
	assert.Equal(t, int32(4), completed.Load(), "a failing item must not tear down its siblings")
}

func TestParallelBatchTaskReportsFirstErrorInInputOrder(t *testing.T) {
	errA := errors.New("error from item 1")
	errB := errors.New("error from item 3")

	task := flow.NewParallelBatchTask("deterministic-error",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{0, 1, 2, 3}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			switch item.(int) {
			case 1:
				// Finish last so completion order differs from input order.
				time.Sleep(20 * time.Millisecond)
				return nil, errA
			case 3:
				return nil, errB
			}
			return item, nil
		}),
	)

	_, err := task.Execute(context.Background(), flow.NewState())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA, "the first failure in input order wins")
}

func TestParallelBatchTaskMaxParallel(t *testing.T) {
	var active, peak atomic.Int32

	task := flow.NewParallelBatchTask("bounded",
		flow.WithMaxParallel(2),
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []int{1, 2, 3, 4, 5, 6}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return item, nil
		}),
	)

	_, err := task.Execute(context.Background(), flow.NewState())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParallelBatchTaskEmptyCollection(t *testing.T) {
	task := flow.NewParallelBatchTask("empty",
		flow.WithPrep(func(ctx context.Context, shared flow.State, rc *flow.RunContext) (any, error) {
			return []any{}, nil
		}),
		flow.WithExec(func(ctx context.Context, item any, rc *flow.RunContext) (any, error) {
			return item, nil
		}),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			shared["results"] = exec
			return flow.Default, nil
		}),
	)

	shared := flow.NewState()
	_, err := task.Execute(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, []any{}, shared["results"])
}
