// Package retry re-runs failed operations with exponential backoff. It is
// the inner layer of the reliability stack: a circuit breaker decides
// whether a service may be called at all, the retry handler decides how
// hard to try once it may.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/praxislaw/lib-reliability/reliability/backoff"
	"github.com/praxislaw/lib-reliability/reliability/log"
)

// ErrInvalidConfig indicates that a retry configuration failed validation.
var ErrInvalidConfig = errors.New("retry: invalid configuration")

// Operation is the unit of work a handler retries. It must be safe to call
// more than once.
type Operation func(ctx context.Context) (any, error)

// Config controls retry behavior.
type Config struct {
	// MaxRetries is the number of re-attempts after the initial call, so a
	// handler makes at most 1+MaxRetries calls.
	MaxRetries int
	// InitialDelay is the pause before the first re-attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing delay. Zero means uncapped.
	MaxDelay time.Duration
	// BackoffMultiplier scales the delay between consecutive attempts.
	// Values below 1 are treated as 1 (constant delay).
	BackoffMultiplier float64
	// ShouldRetry classifies errors as retryable. Nil retries every error.
	ShouldRetry func(error) bool
}

// Validate checks the configuration, wrapping ErrInvalidConfig on failure.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, c.MaxRetries)
	}

	if c.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay must not be negative, got %s", ErrInvalidConfig, c.InitialDelay)
	}

	if c.MaxDelay < 0 {
		return fmt.Errorf("%w: max delay must not be negative, got %s", ErrInvalidConfig, c.MaxDelay)
	}

	if c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: max delay %s is below initial delay %s", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	}

	return nil
}

// DefaultConfig retries three times starting at 100ms, doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// AIProviderConfig suits slow AI completions: fewer, more patient attempts.
func AIProviderConfig() Config {
	return Config{
		MaxRetries:        2,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 3.0,
	}
}

// Handler retries operations according to its configuration.
type Handler struct {
	config Config
	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithSleep overrides the delay function, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// New creates a retry handler.
func New(config Config, logger log.Logger, opts ...Option) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		config: config,
		logger: log.OrNop(logger),
		sleep:  backoff.SleepContext,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Config returns the handler's configuration.
func (h *Handler) Config() Config {
	return h.config
}

// Execute runs the operation, retrying failures with exponential backoff.
//
// The first success wins and its result is returned immediately. An error
// the ShouldRetry classifier rejects is returned at once without further
// attempts. When every attempt fails, the error of the final attempt is
// returned unchanged. Context cancellation between attempts aborts the
// remaining ones and returns the context's error.
func (h *Handler) Execute(ctx context.Context, name string, op Operation) (any, error) {
	var lastErr error

	attempts := 1 + h.config.MaxRetries

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := h.delayFor(attempt - 1)

			h.logger.Log(ctx, log.LevelInfo, "retrying operation",
				log.String("operation", name),
				log.Int("attempt", attempt+1),
				log.Int("max_attempts", attempts),
				log.Any("delay", delay),
				log.Err(lastErr))

			if err := h.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		value, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				h.logger.Log(ctx, log.LevelInfo, "operation succeeded after retry",
					log.String("operation", name),
					log.Int("attempt", attempt+1))
			}

			return value, nil
		}

		lastErr = err

		if h.config.ShouldRetry != nil && !h.config.ShouldRetry(err) {
			h.logger.Log(ctx, log.LevelWarn, "error is not retryable, giving up",
				log.String("operation", name),
				log.Err(err))

			return nil, err
		}
	}

	h.logger.Log(ctx, log.LevelError, "all retry attempts exhausted",
		log.String("operation", name),
		log.Int("attempts", attempts),
		log.Err(lastErr))

	return nil, lastErr
}

// delayFor computes the capped exponential delay before re-attempt n
// (zero-based).
func (h *Handler) delayFor(n int) time.Duration {
	return backoff.Cap(backoff.Delay(h.config.InitialDelay, h.config.BackoffMultiplier, n), h.config.MaxDelay)
}
