// Package script builds workflow tasks whose execute phase runs a
// JavaScript program in a sandboxed goja runtime. The prepared value is
// exposed to the script as `input` and the run parameters as `params`;
// the script's final expression value becomes the execution result.
package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// NewTask compiles source once and returns a task that executes it with a
// fresh sandboxed runtime per attempt. Additional task options (retry
// policy, hooks, post) are applied on top of the script execute phase.
func NewTask(name, source string, opts ...flow.TaskOption) (*flow.Task, error) {
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	exec := func(ctx context.Context, prep any, rc *flow.RunContext) (any, error) {
		return run(ctx, program, prep, rc.Params())
	}

	opts = append([]flow.TaskOption{flow.WithExec(exec)}, opts...)
	return flow.NewTask(name, opts...), nil
}

// run executes a compiled program on a new runtime, interrupting it when
// the context is cancelled or times out.
func run(ctx context.Context, program *goja.Program, input any, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during script execution: %v", r)
		}
	}()

	vm := goja.New()
	if err := applySandbox(vm); err != nil {
		return nil, err
	}

	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}
	if err := vm.Set("params", params); err != nil {
		return nil, fmt.Errorf("failed to set params: %w", err)
	}

	done := make(chan struct{})
	var interrupted bool
	var mu sync.Mutex

	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			interrupted = true
			mu.Unlock()
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	defer close(done)

	value, err := vm.RunProgram(program)
	if err != nil {
		mu.Lock()
		wasInterrupted := interrupted
		mu.Unlock()
		if wasInterrupted {
			return nil, fmt.Errorf("script interrupted: %w", ctx.Err())
		}
		if exc, ok := err.(*goja.Exception); ok {
			return nil, fmt.Errorf("script exception: %s", exc.Value().String())
		}
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	return value.Export(), nil
}

// applySandbox removes Node.js style globals so scripts stay pure
// computation over the injected input and params.
func applySandbox(vm *goja.Runtime) error {
	dangerousGlobals := []string{
		"require",
		"module",
		"exports",
		"process",
		"global",
		"__dirname",
		"__filename",
		"Buffer",
		"setImmediate",
		"clearImmediate",
	}

	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// Compile validates source without executing it.
func Compile(name, source string) error {
	_, err := goja.Compile(name, source, true)
	return err
}
