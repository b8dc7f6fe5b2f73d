package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrExecNotImplemented indicates that a Task was built without an
	// execute function. This is a configuration error: it is reported
	// immediately and is never retried or handed to the fallback hook.
	ErrExecNotImplemented = errors.New("exec is not implemented")

	// ErrNoStartNode indicates that a Flow was run without a start node.
	ErrNoStartNode = errors.New("flow has no start node")

	// ErrBatchInput indicates that a batch prepare phase yielded a value
	// that is not a collection.
	ErrBatchInput = errors.New("batch prepare must yield a slice")
)

// Error codes classifying where in the lifecycle a failure occurred.
const (
	CodeConfig    = "config"
	CodeLifecycle = "lifecycle"
	CodeExec      = "exec"
)

// Error is a structured orchestration error carrying a machine-readable
// code and the name of the node that produced it.
type Error struct {
	Code string
	Node string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] node %s: %v", e.Code, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, node string, err error) *Error {
	return &Error{Code: code, Node: node, Err: err}
}

// IsConfig reports whether err is a configuration error, such as a Task
// built without an execute function.
func IsConfig(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == CodeConfig
}
