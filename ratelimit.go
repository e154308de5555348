package authjwt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result describes a single limiter decision.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter bounds outbound requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter is a fixed-window limiter local to the process.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int64
	window  time.Duration
	now     func() time.Time
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	start time.Time
	hits  int64
}

// NewMemoryLimiter allows limit hits per key in each window.
func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		max:     int64(limit),
		window:  window,
		now:     now,
		windows: make(map[string]*fixedWindow),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.window)) {
		w = &fixedWindow{start: now}
		l.windows[key] = w
	}
	w.hits++

	res := Result{
		Allowed:     w.hits <= l.max,
		Remaining:   max(l.max-w.hits, 0),
		CurrentHits: w.hits,
	}
	if !res.Allowed {
		res.RetryAfter = w.start.Add(l.window).Sub(now)
	}
	return res, nil
}

// RedisLimiter is a fixed-window limiter (INCR + EXPIRE) shared by every
// replica that points at the same Redis.
type RedisLimiter struct {
	Client redis.UniversalClient
	Prefix string
	Max    int64
	Window time.Duration
	// Now picks the window; defaults to time.Now.
	Now func() time.Time
}

// NewRedisLimiter builds a RedisLimiter; prefix defaults to "authjwt:rl:".
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "authjwt:rl:"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(limit),
		Window: window,
		Now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	current := now().UTC()
	winStart := current.Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, err := l.Client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}
	// first hit opens the window
	if hits == 1 {
		if err := l.Client.Expire(ctx, redisKey, l.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	res := Result{
		Allowed:     hits <= l.Max,
		Remaining:   max(l.Max-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.Window).Sub(current)
	}
	return res, nil
}
