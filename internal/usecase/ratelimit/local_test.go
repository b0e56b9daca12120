package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalCounterIncrement(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		n, err := c.Incr(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Errorf("count = %d, want %d", n, want)
		}
	}
}

func TestLocalCounterWindowReset(t *testing.T) {
	c := NewLocalCounter()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Incr(ctx, "k", time.Minute)
	c.Incr(ctx, "k", time.Minute)

	// Advance past the window: count starts over.
	now = now.Add(61 * time.Second)
	n, err := c.Incr(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 1 {
		t.Errorf("count after window = %d, want 1", n)
	}
}

func TestLocalCounterIndependentKeys(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	c.Incr(ctx, "a", time.Minute)
	n, _ := c.Incr(ctx, "b", time.Minute)
	if n != 1 {
		t.Errorf("key b count = %d, want 1", n)
	}
}

func TestLocalCounterSweep(t *testing.T) {
	c := NewLocalCounter()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Incr(ctx, "old", time.Minute)
	now = now.Add(2 * time.Minute)
	c.Incr(ctx, "fresh", time.Minute)

	c.Sweep()
	if c.Len() != 1 {
		t.Errorf("entries after sweep = %d, want 1", c.Len())
	}
}

func TestLocalCounterConcurrent(t *testing.T) {
	c := NewLocalCounter()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Incr(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	n, _ := c.Incr(ctx, "shared", time.Minute)
	if n != 101 {
		t.Errorf("final count = %d, want 101", n)
	}
}
