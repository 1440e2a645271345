package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Sink hands tickets to the external ticketing collaborator. Submit is
// fire-and-forget with acknowledgment: no response payload beyond
// success or failure.
type Sink interface {
	Submit(ctx context.Context, ticket Ticket) error
}

// NATSConfig holds escalation sink settings.
type NATSConfig struct {
	// Subject tickets are published to. Default: "navigatord.escalations"
	Subject string

	// FlushTimeout bounds the wait for broker acknowledgment.
	// Default: 5s
	FlushTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *NATSConfig) ApplyDefaults() {
	if c.Subject == "" {
		c.Subject = "navigatord.escalations"
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

// NATSSink publishes tickets to a NATS subject and flushes for
// acknowledgment.
type NATSSink struct {
	config NATSConfig
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSSink creates a sink over an established NATS connection.
func NewNATSSink(config NATSConfig, conn *nats.Conn, logger *zap.Logger) (*NATSSink, error) {
	config.ApplyDefaults()
	if conn == nil {
		return nil, fmt.Errorf("%w: nats connection is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{config: config, conn: conn, logger: logger}, nil
}

// Submit publishes the ticket and waits for the broker to acknowledge.
func (s *NATSSink) Submit(ctx context.Context, ticket Ticket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}

	if err := s.conn.Publish(s.config.Subject, data); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrSinkUnavailable, err)
	}
	if err := s.conn.FlushTimeout(s.config.FlushTimeout); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrSinkUnavailable, err)
	}

	s.logger.Info("escalation ticket submitted",
		zap.String("conversation_id", ticket.ConversationID),
		zap.String("reason", string(ticket.Reason)),
		zap.String("priority", string(ticket.Priority)),
	)
	return nil
}

// RetryConfig holds hand-off retry parameters.
type RetryConfig struct {
	// MaxAttempts including the first. Default: 3
	MaxAttempts int

	// BaseBackoff doubled each retry. Default: 250ms
	BaseBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
}

// RetrySink retries ticket hand-off a bounded number of times. Exhaustion
// is logged as a fatal operational event; the user-facing answer still
// completes with a degraded-support notice.
type RetrySink struct {
	config RetryConfig
	inner  Sink
	logger *zap.Logger
}

// NewRetrySink wraps a sink with bounded retries.
func NewRetrySink(config RetryConfig, inner Sink, logger *zap.Logger) *RetrySink {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrySink{config: config, inner: inner, logger: logger}
}

func (s *RetrySink) Submit(ctx context.Context, ticket Ticket) error {
	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := s.config.BaseBackoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := s.inner.Submit(ctx, ticket); err != nil {
			lastErr = err
			s.logger.Warn("ticket hand-off failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return nil
	}

	err := fmt.Errorf("%w: hand-off exhausted %d attempts: %v", ErrSinkUnavailable, s.config.MaxAttempts, lastErr)
	s.logger.Error("escalation ticket lost",
		zap.String("conversation_id", ticket.ConversationID),
		zap.String("reason", string(ticket.Reason)),
		zap.Error(err),
	)
	return err
}

// LogSink records tickets in the log. Used when no ticketing broker is
// configured so escalations remain visible to operators.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that writes tickets to the log.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Submit(_ context.Context, ticket Ticket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	s.logger.Warn("escalation ticket",
		zap.String("conversation_id", ticket.ConversationID),
		zap.String("reason", string(ticket.Reason)),
		zap.String("priority", string(ticket.Priority)),
		zap.ByteString("ticket", payload),
	)
	return nil
}

var (
	_ Sink = (*NATSSink)(nil)
	_ Sink = (*RetrySink)(nil)
	_ Sink = (*LogSink)(nil)
)
