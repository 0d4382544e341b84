package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces requests per host, with optional jitter on top of the
// token bucket. The zero rate disables pacing. It is safe for concurrent use.
type Limiter struct {
	limit  rate.Limit
	burst  int
	jitter float64 // 0.0 to 1.0
	mu     sync.Mutex
	hosts  map[string]*rate.Limiter
}

// NewLimiter creates a limiter allowing rps requests per second to each host.
// Jitter adds a random delay of up to jitter*interval after each token.
// If rps is <= 0, Wait never blocks.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	l := &Limiter{jitter: jitter, hosts: make(map[string]*rate.Limiter)}
	if rps > 0 {
		l.limit = rate.Limit(rps)
		l.burst = 1
	}
	return l
}

// Wait blocks until a request to host may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l == nil || l.limit == 0 {
		return ctx.Err()
	}

	if err := l.bucket(host).Wait(ctx); err != nil {
		return err
	}

	if l.jitter == 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / float64(l.limit))
	delay := time.Duration(rand.Float64() * l.jitter * float64(interval))
	if delay <= 0 {
		return nil
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = b
	}
	return b
}
