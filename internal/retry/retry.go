// Package retry re-runs transient-failure-prone operations with exponential
// backoff and jitter. Which failures count as transient is the caller's
// decision, supplied as a classifier on the policy.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes how an operation is retried. The zero value is unusable;
// start from DefaultPolicy and override fields as needed.
type Policy struct {
	// BaseDelay is the wait after the first failure
	BaseDelay time.Duration

	// Multiplier grows the delay after each subsequent failure
	Multiplier float64

	// MaxAttempts bounds the total number of tries, first attempt included
	MaxAttempts int

	// MaxJitter is the upper bound of the random addition to each delay,
	// spreading out clients that fail in lockstep
	MaxJitter time.Duration

	// Retryable reports whether the failure is worth another attempt.
	// A nil classifier retries nothing.
	Retryable func(error) bool
}

// Config holds the tunable retry settings read from the config file
type Config struct {
	BaseDelay   time.Duration `toml:"base_delay"`
	Multiplier  float64       `toml:"multiplier"`
	MaxAttempts int           `toml:"max_attempts"`
	MaxJitter   time.Duration `toml:"max_jitter"`
}

// DefaultConfig returns the standard backoff schedule: 1s, 2s, 4s, 8s
// between five attempts, each delay stretched by up to a second of jitter.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
		MaxJitter:   time.Second,
	}
}

// Validate checks the schedule is well formed
func (c Config) Validate() error {
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: base_delay must be positive, got %v", c.BaseDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be at least 1, got %v", c.Multiplier)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxJitter < 0 {
		return fmt.Errorf("retry: max_jitter must not be negative, got %v", c.MaxJitter)
	}
	return nil
}

// NewPolicy builds a Policy from config plus the caller's failure classifier
func NewPolicy(cfg Config, retryable func(error) bool) Policy {
	return Policy{
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.Multiplier,
		MaxAttempts: cfg.MaxAttempts,
		MaxJitter:   cfg.MaxJitter,
		Retryable:   retryable,
	}
}

// ExhaustedError reports that every attempt failed with a retryable error.
// It unwraps to the last attempt's error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, fails non-retryably, the attempt budget is
// spent, or the context is done. A non-retryable failure is returned as-is
// on whatever attempt it occurs; an exhausted budget wraps the final error
// in an ExhaustedError.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		wait := delay
		if p.MaxJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.MaxJitter)))
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}

// sleepCtx sleeps for d unless the context is done first
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
