package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
	"go.uber.org/zap"
)

// Config holds the NATS reporter connection settings.
type Config struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string

	// Name identifies this client on the server.
	Name string

	// Subject is where execution records are published.
	Subject string

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects caps reconnection attempts; -1 means unlimited.
	MaxReconnects int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "daedalus-reporter",
		Subject:        "daedalus.executions",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
	}
}

// NATSReporter publishes execution records as JSON to a JetStream subject.
type NATSReporter struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *zap.Logger
}

// NewNATSReporter connects to NATS and returns a reporter publishing to the
// configured subject.
func NewNATSReporter(ctx context.Context, cfg Config, logger *zap.Logger) (*NATSReporter, error) {
	if cfg.Subject == "" {
		return nil, errors.New("report: subject cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := natsconn.Connect(ctx, &natsconn.ConnectionConfig{
		URL:           cfg.URL,
		Name:          cfg.Name,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
		Timeout:       cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("report: JetStream context unavailable: %w", err)
	}

	logger.Info("execution reporter connected",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject))

	return &NATSReporter{conn: conn, js: js, subject: cfg.Subject, logger: logger}, nil
}

// Report publishes the record. Publish failures are returned to the caller;
// the engine logs and continues, since reporting never gates orchestration.
func (r *NATSReporter) Report(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("report: failed to encode record: %w", err)
	}
	if _, err := r.js.Publish(r.subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("report: failed to publish record: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (r *NATSReporter) Close() error {
	if err := natsconn.Close(r.conn); err != nil {
		r.logger.Warn("error draining NATS connection", zap.Error(err))
		return err
	}
	return nil
}
