// Package report delivers per-node execution records to external
// consumers. Reporters are observability collaborators: they consume
// records and never feed anything back into orchestration.
package report

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Record captures one node execution attempt inside an engine run.
type Record struct {
	RunID      string    `json:"run_id"`
	Flow       string    `json:"flow"`
	Cycle      int       `json:"cycle"`
	Node       string    `json:"node"`
	Kind       string    `json:"kind"`
	Retry      int       `json:"retry"`
	Action     string    `json:"action,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Reporter publishes execution records.
type Reporter interface {
	Report(ctx context.Context, rec Record) error
	Close() error
}

// LogReporter writes records to a zap logger. It is the zero-dependency
// reporter used in development.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter backed by the given logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report logs the record at info level.
func (r *LogReporter) Report(_ context.Context, rec Record) error {
	r.logger.Info("node execution",
		zap.String("run_id", rec.RunID),
		zap.String("flow", rec.Flow),
		zap.Int("cycle", rec.Cycle),
		zap.String("node", rec.Node),
		zap.String("kind", rec.Kind),
		zap.Int("retry", rec.Retry),
		zap.String("action", rec.Action),
		zap.String("error", rec.Error),
		zap.Int64("duration_ms", rec.DurationMS))
	return nil
}

// Close is a no-op.
func (r *LogReporter) Close() error { return nil }
