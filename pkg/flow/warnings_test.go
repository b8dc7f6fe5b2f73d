package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	return zap.New(core), logs
}

func TestDuplicateSuccessorLogsWarning(t *testing.T) {
	logger, logs := observedLogger(t)
	exec := func(ctx context.Context, prep any, rc *flow.RunContext) (any, error) { return nil, nil }

	a := flow.NewTask("a", flow.WithExec(exec), flow.WithLogger(logger))
	a.Then(flow.NewTask("first", flow.WithExec(exec)))
	a.Then(flow.NewTask("second", flow.WithExec(exec)))

	entries := logs.FilterMessage("overwriting successor").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "first", fields["was"])
	assert.Equal(t, "second", fields["now"])
}

func TestDanglingActionLogsWarning(t *testing.T) {
	logger, logs := observedLogger(t)
	exec := func(ctx context.Context, prep any, rc *flow.RunContext) (any, error) { return nil, nil }

	a := flow.NewTask("a",
		flow.WithExec(exec),
		flow.WithPost(func(ctx context.Context, shared flow.State, prep, exec any, rc *flow.RunContext) (flow.Action, error) {
			return "surprise", nil
		}),
	)
	a.On("expected").To(flow.NewTask("b", flow.WithExec(exec)))

	f := flow.NewFlow("dangling", flow.WithStart(a), flow.WithFlowLogger(logger))
	_, err := f.Execute(context.Background(), flow.NewState())
	require.NoError(t, err)

	entries := logs.FilterMessage("flow ends: action not in available set").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "surprise", fields["action"])
}

func TestCleanTerminationLogsNoWarning(t *testing.T) {
	logger, logs := observedLogger(t)
	exec := func(ctx context.Context, prep any, rc *flow.RunContext) (any, error) { return nil, nil }

	a := flow.NewTask("a", flow.WithExec(exec))
	f := flow.NewFlow("clean", flow.WithStart(a), flow.WithFlowLogger(logger))

	_, err := f.Execute(context.Background(), flow.NewState())
	require.NoError(t, err)
	assert.Zero(t, logs.Len(), "terminating on an empty successor table is not a warning")
}

func TestStandaloneExecuteWithSuccessorsWarns(t *testing.T) {
	logger, logs := observedLogger(t)
	exec := func(ctx context.Context, prep any, rc *flow.RunContext) (any, error) { return nil, nil }

	a := flow.NewTask("a", flow.WithExec(exec), flow.WithLogger(logger))
	a.Then(flow.NewTask("ignored", flow.WithExec(exec)))

	_, err := a.Execute(context.Background(), flow.NewState())
	require.NoError(t, err)

	entries := logs.FilterMessage("task has successors that will not run; use a Flow to orchestrate").All()
	assert.Len(t, entries, 1)
}
