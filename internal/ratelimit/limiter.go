package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more call for key may proceed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
}

// Config is a per-key budget: Rate tokens per second, bursting to Burst.
type Config struct {
	Rate   float64
	Burst  int
	Prefix string
}

// Local keeps one x/time/rate limiter per key in process memory.
type Local struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*rate.Limiter
}

func NewLocal(cfg Config) *Local {
	return &Local{cfg: cfg, now: time.Now, keys: map[string]*rate.Limiter{}}
}

func (l *Local) Allow(_ context.Context, key string) (*RateLimitResult, error) {
	if err := validate(key, l.cfg.Rate, l.cfg.Burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}
	now := l.now()

	l.mu.Lock()
	lim, ok := l.keys[l.cfg.Prefix+key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)
		l.keys[l.cfg.Prefix+key] = lim
	}
	allowed := lim.AllowN(now, 1)
	remaining := lim.TokensAt(now)
	l.mu.Unlock()

	retryAfter := refillWait(allowed, remaining, l.cfg.Rate)
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      l.cfg.Burst,
		Remaining:  max(int(remaining), 0),
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Redis shares the budget across replicas. When Redis errors the call is
// decided by the local limiter instead of failing.
type Redis struct {
	cfg      Config
	bucket   *TokenBucket
	fallback *Local
	log      *zap.Logger
}

func NewRedis(client *redis.Client, cfg Config, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		cfg:      cfg,
		bucket:   NewTokenBucket(client),
		fallback: NewLocal(cfg),
		log:      log.Named("ratelimit"),
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	res, err := r.bucket.Allow(ctx, r.cfg.Prefix+key, r.cfg.Rate, r.cfg.Burst)
	if err == nil {
		return res, nil
	}
	r.log.Warn("ratelimit.redis_failed", zap.String("key", key), zap.Error(err))
	return r.fallback.Allow(ctx, key)
}

// New picks the Redis limiter when a client is configured.
func New(client *redis.Client, cfg Config, log *zap.Logger) Limiter {
	if client == nil {
		return NewLocal(cfg)
	}
	return NewRedis(client, cfg, log)
}
