package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroRPS(t *testing.T) {
	limiter := NewLimiter(0, 0.5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with 0 RPS should not block")
	}
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("unexpected error from nil limiter: %v", err)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10, 0) // 100ms interval
	ctx := context.Background()

	// The first token is available immediately
	_ = limiter.Wait(ctx, "example.com")

	start := time.Now()
	if err := limiter.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	duration := time.Since(start)
	if duration < 50*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_PerHost(t *testing.T) {
	limiter := NewLimiter(1, 0) // 1s interval per host
	ctx := context.Background()

	start := time.Now()
	for _, host := range []string{"a.example", "b.example", "c.example"} {
		if err := limiter.Wait(ctx, host); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("distinct hosts should not share a bucket, took %v", time.Since(start))
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	_ = limiter.Wait(ctx, "example.com")
	cancel()

	if err := limiter.Wait(ctx, "example.com"); err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestLimiter_Jitter(t *testing.T) {
	limiter := NewLimiter(10, 0.5) // 100ms interval, up to 50ms extra
	ctx := context.Background()

	_ = limiter.Wait(ctx, "example.com")

	start := time.Now()
	_ = limiter.Wait(ctx, "example.com")
	duration := time.Since(start)

	// Jitter after the first token eats into the second interval
	if duration < 30*time.Millisecond || duration > 300*time.Millisecond {
		t.Errorf("expected jittered wait to be roughly between 50ms and 150ms, took %v", duration)
	}
}
