package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter: token bucket por key (x/time/rate). Los buckets viven en
// go-cache y se descartan tras idleTTL sin uso.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *gocache.Cache
}

// NewMemoryLimiter admite max eventos por window, con ráfaga = max.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	idle := 2 * window
	return &MemoryLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		buckets: gocache.New(idle, idle),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	lim := l.bucket(key)

	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Result{Allowed: false, RetryAfter: time.Second}, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return Result{Allowed: false, RetryAfter: d}, nil
	}
	remaining := int64(math.Floor(lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		// Renueva el TTL de inactividad.
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(key, lim)
	return lim
}
