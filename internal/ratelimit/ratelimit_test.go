package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()

	lim, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	return lim
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero search rate", Config{SearchPerSecond: 0, DownloadPerSecond: 3}, true},
		{"negative download rate", Config{SearchPerSecond: 5, DownloadPerSecond: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAcquire_UnknownCategory(t *testing.T) {
	lim := newTestLimiter(t, DefaultConfig())

	if err := lim.Acquire(context.Background(), Category("bogus")); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestAcquire_EnforcesRate(t *testing.T) {
	// 10/s means 11 acquisitions need at least a second of refill
	lim := newTestLimiter(t, Config{SearchPerSecond: 10, DownloadPerSecond: 10})

	start := time.Now()
	for i := 0; i < 11; i++ {
		if err := lim.Acquire(context.Background(), Search); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 900*time.Millisecond {
		t.Errorf("11 acquisitions at 10/s took %v, expected close to 1s", elapsed)
	}
}

func TestAcquire_CeilingHoldsUnderConcurrentCallers(t *testing.T) {
	lim := newTestLimiter(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	grants := map[Category][]time.Time{}

	var wg sync.WaitGroup
	for _, cat := range []Category{Search, Search, Search, Search, Download, Download, Download} {
		wg.Add(1)
		go func(cat Category) {
			defer wg.Done()
			for {
				if err := lim.Acquire(ctx, cat); err != nil {
					return
				}
				now := time.Now()
				mu.Lock()
				grants[cat] = append(grants[cat], now)
				mu.Unlock()
			}
		}(cat)
	}
	wg.Wait()

	ceilings := map[Category]int{Search: 5, Download: 3}
	for cat, limit := range ceilings {
		times := grants[cat]
		if len(times) < limit {
			t.Fatalf("%s: expected at least %d grants over 2s, got %d", cat, limit, len(times))
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		// No 1-second sliding window may exceed the ceiling, with one
		// grant of tolerance for window-boundary effects
		for i := range times {
			count := 0
			for j := i; j < len(times) && times[j].Sub(times[i]) < time.Second; j++ {
				count++
			}
			if count > limit+1 {
				t.Errorf("%s: %d grants within one second starting at grant %d, ceiling is %d", cat, count, i, limit)
			}
		}
	}
}

func TestAcquire_CategoriesIndependent(t *testing.T) {
	// Drain the search bucket; download must still proceed immediately
	lim := newTestLimiter(t, Config{SearchPerSecond: 0.1, DownloadPerSecond: 100})

	if err := lim.Acquire(context.Background(), Search); err != nil {
		t.Fatalf("Acquire(search) failed: %v", err)
	}

	start := time.Now()
	if err := lim.Acquire(context.Background(), Download); err != nil {
		t.Fatalf("Acquire(download) failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("download waited %v behind a drained search bucket", elapsed)
	}
}

func TestAcquire_ContextCancellation(t *testing.T) {
	lim := newTestLimiter(t, Config{SearchPerSecond: 0.01, DownloadPerSecond: 3})

	// Consume the single available token
	if err := lim.Acquire(context.Background(), Search); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lim.Acquire(ctx, Search)
	if err == nil {
		t.Fatal("expected error when context expires before a token is available")
	}
}

func TestReserve_ReportsDelayWithoutConsuming(t *testing.T) {
	lim := newTestLimiter(t, Config{SearchPerSecond: 1, DownloadPerSecond: 3})

	if err := lim.Acquire(context.Background(), Search); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	first := lim.Reserve(Search)
	second := lim.Reserve(Search)

	if first <= 0 {
		t.Errorf("expected a positive delay after draining the bucket, got %v", first)
	}
	// Reserve must not consume tokens, so the reported delay does not grow
	if second > first+100*time.Millisecond {
		t.Errorf("Reserve consumed a token: first=%v second=%v", first, second)
	}
}
