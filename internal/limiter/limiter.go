package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether a tenant may issue another request.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, error)
}

type Options struct {
	RedisURL          string
	RequestsPerMinute int
	Burst             int
}

// New returns a Redis-backed limiter shared across replicas when RedisURL is
// set, and an in-process one otherwise.
func New(opts Options) (Limiter, error) {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}
	if opts.RedisURL == "" {
		return NewLocal(opts.RequestsPerMinute, opts.Burst), nil
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewRedis(c, opts.RequestsPerMinute, time.Minute), nil
}

// Redis is a fixed-window counter per tenant.
type Redis struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(c *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{rdb: c, limit: limit, window: window, now: time.Now}
}

func (r *Redis) key(tenant string) string {
	slot := r.now().UnixNano() / int64(r.window)
	return fmt.Sprintf("rl:%s:%d", strings.ToLower(tenant), slot)
}

func (r *Redis) Allow(ctx context.Context, tenant string) (bool, error) {
	k := r.key(tenant)
	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		_ = r.rdb.Expire(ctx, k, r.window).Err()
	}
	return n <= int64(r.limit), nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

// Local keeps one token bucket per tenant in memory. Buckets idle long
// enough to have refilled are dropped, so the map tracks active tenants only.
type Local struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*localBucket
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLocal(perMinute, burst int) *Local {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(float64(perMinute) / 60.0)
	// time for an empty bucket to refill
	idle := time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &Local{
		limit:    limit,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: map[string]*localBucket{},
	}
}

func (l *Local) Allow(_ context.Context, tenant string) (bool, error) {
	key := strings.ToLower(tenant)
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.limiters[key]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1), nil
}

// sweep must be called with mu held.
func (l *Local) sweep(now time.Time) {
	for k, b := range l.limiters {
		if now.Sub(b.seen) >= l.idle {
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}

// Len reports how many tenant buckets are held.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
