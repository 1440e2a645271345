package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ResilientConfig holds retry parameters for the resilient decorator.
type ResilientConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseBackoff is the initial backoff, doubled on each retry.
	// Default: 250ms
	BaseBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *ResilientConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
}

// ResilientStore wraps a Store with bounded retries.
//
// Caller errors (validation, model mismatch) surface immediately; anything
// else is treated as transient. Exhaustion surfaces ErrIndexUnavailable so
// retrieval can degrade to "no context available".
type ResilientStore struct {
	inner  Store
	config ResilientConfig
	logger *zap.Logger
}

// NewResilientStore wraps the given store with retry behavior.
func NewResilientStore(inner Store, config ResilientConfig, logger *zap.Logger) *ResilientStore {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientStore{inner: inner, config: config, logger: logger}
}

// Upsert inserts or replaces entries with retries.
func (s *ResilientStore) Upsert(ctx context.Context, entries []Entry) error {
	return s.retry(ctx, "upsert", func() error {
		return s.inner.Upsert(ctx, entries)
	})
}

// Delete removes entries with retries.
func (s *ResilientStore) Delete(ctx context.Context, ids []string) error {
	return s.retry(ctx, "delete", func() error {
		return s.inner.Delete(ctx, ids)
	})
}

// Search queries the index with retries.
func (s *ResilientStore) Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error) {
	var results []SearchResult
	err := s.retry(ctx, "search", func() error {
		var inner error
		results, inner = s.inner.Search(ctx, vector, modelVersion, k, filters)
		return inner
	})
	return results, err
}

// Count returns the entry count with retries.
func (s *ResilientStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.retry(ctx, "count", func() error {
		var inner error
		count, inner = s.inner.Count(ctx)
		return inner
	})
	return count, err
}

// Close closes the wrapped store.
func (s *ResilientStore) Close() error {
	return s.inner.Close()
}

// isCallerError reports errors retrying cannot fix.
func isCallerError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrEmptyEntries) ||
		errors.Is(err, ErrModelVersionMismatch) ||
		errors.Is(err, ErrDimensionMismatch)
}

func (s *ResilientStore) retry(ctx context.Context, op string, fn func() error) error {
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

		err := fn()
		if err == nil {
			return nil
		}
		if isCallerError(err) || errors.Is(err, context.Canceled) {
			return err
		}

		lastErr = err
		s.logger.Warn("vector store operation failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %s exhausted %d attempts: %v", ErrIndexUnavailable, op, s.config.MaxAttempts, lastErr)
}

// Ensure ResilientStore implements Store.
var _ Store = (*ResilientStore)(nil)
