// Package ratelimit throttles Gmail API calls per operation category.
// Search-style calls and attachment downloads draw from independent buckets,
// so heavy downloading never starves message listing.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Category selects which bucket an operation draws from
type Category string

const (
	// Search covers message list and metadata calls
	Search Category = "search"
	// Download covers attachment body retrieval
	Download Category = "download"
)

// Config holds per-category request rates in operations per second
type Config struct {
	SearchPerSecond   float64 `toml:"search_per_second"`
	DownloadPerSecond float64 `toml:"download_per_second"`
}

// DefaultConfig returns the rates Gmail tolerates comfortably
func DefaultConfig() Config {
	return Config{
		SearchPerSecond:   5,
		DownloadPerSecond: 3,
	}
}

// Validate checks rates are positive
func (c Config) Validate() error {
	if c.SearchPerSecond <= 0 {
		return fmt.Errorf("ratelimit: search_per_second must be positive, got %v", c.SearchPerSecond)
	}
	if c.DownloadPerSecond <= 0 {
		return fmt.Errorf("ratelimit: download_per_second must be positive, got %v", c.DownloadPerSecond)
	}
	return nil
}

// Limiter spaces out API calls. Tokens refill continuously; a caller that
// waited out a quiet period proceeds immediately, a burst is smoothed to the
// configured rate. Buckets hold at most one operation's worth of headroom so
// a pass never opens with a thundering herd.
type Limiter struct {
	limiters map[Category]*rate.Limiter
}

// New builds a Limiter from the configured rates
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		limiters: map[Category]*rate.Limiter{
			Search:   rate.NewLimiter(rate.Limit(cfg.SearchPerSecond), 1),
			Download: rate.NewLimiter(rate.Limit(cfg.DownloadPerSecond), 1),
		},
	}, nil
}

// Acquire blocks until the category's bucket grants a token or the context
// is done. A context error is returned unchanged so callers can distinguish
// cancellation from API failures.
func (l *Limiter) Acquire(ctx context.Context, cat Category) error {
	lim, ok := l.limiters[cat]
	if !ok {
		return fmt.Errorf("ratelimit: unknown category %q", cat)
	}
	return lim.Wait(ctx)
}

// Reserve reports how long a caller would wait for the next token without
// consuming one. Used for log output only.
func (l *Limiter) Reserve(cat Category) time.Duration {
	lim, ok := l.limiters[cat]
	if !ok {
		return 0
	}
	r := lim.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}
