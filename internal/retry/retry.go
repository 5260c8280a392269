// Package retry implements exponential-backoff retry, used by the
// remediation controller to retry failed Provider.Apply calls.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config controls retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// RemediationConfig is the backoff discipline spec.md §5 mandates for
// remediation application: up to 3 attempts, 4s initial delay, 10s cap,
// multiplier 1 (constant 4s between attempts once the first retry fires).
func RemediationConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 4 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   1,
		Jitter:       false,
	}
}

// Attempt records one try made by Do, for callers that need to report how
// many attempts a remediation took.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Do runs fn up to cfg.MaxAttempts times, sleeping with exponential backoff
// between attempts. onAttempt, if non-nil, is called after every attempt
// (including the last) so callers can log/metric each try.
func Do(ctx context.Context, cfg *Config, fn func() error, onAttempt func(Attempt)) error {
	if cfg == nil {
		cfg = RemediationConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if onAttempt != nil {
			onAttempt(Attempt{Number: attempt, Err: err})
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait += time.Duration(rand.Float64() * float64(delay) * 0.3)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
