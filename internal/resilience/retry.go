// Package resilience wraps agent invocations with retry, circuit breaking
// and optional rate limiting.
package resilience

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/logging"
)

// RetryConfig configures the backoff loop around agent invocations.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, first call included.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 4 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Retry runs op with exponential backoff. Only errors classified transient
// by the agent package are retried; validation, isolation, permanent and
// circuit-open errors return immediately.
func Retry(ctx context.Context, cfg RetryConfig, clock Clock, log *logging.Logger, op func(ctx context.Context) error) error {
	cfg.ApplyDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logging.NewNop()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "operation recovered after retries", zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		if !agent.IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log.Warn(ctx, "retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		retriesTotal.Inc()

		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("operation canceled: %w", cerr)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-clock.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
