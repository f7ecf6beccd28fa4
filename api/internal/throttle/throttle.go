package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// client is the subset of redis commands the limiter needs. *redis.Client
// satisfies it.
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller must wait, set when not allowed.
	RetryAfter time.Duration
	// Degraded reports that redis was unreachable and the declaration was
	// admitted without throttling.
	Degraded bool
}

// Limiter enforces one status declaration per actor per container within
// the configured window. When redis is down it fails open.
type Limiter struct {
	rdb client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Limiter {
	if rdb == nil {
		return newWithClient(nil, ttl)
	}
	return newWithClient(rdb, ttl)
}

func newWithClient(rdb client, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Limiter{rdb: rdb, ttl: ttl}
}

func (l *Limiter) Reserve(ctx context.Context, actorID string, containerID string) Decision {
	if l == nil || l.rdb == nil {
		return Decision{Allowed: true, Degraded: true}
	}

	key := fmt.Sprintf("throttle:%s:%s", actorID, containerID)
	ok, err := l.rdb.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		return Decision{Allowed: true, Degraded: true}
	}
	if ok {
		return Decision{Allowed: true}
	}

	retryAfter := l.ttl
	if remaining, err := l.rdb.TTL(ctx, key).Result(); err == nil && remaining > 0 {
		retryAfter = remaining
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	if retryAfter > l.ttl {
		retryAfter = l.ttl
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

func (l *Limiter) TTL() time.Duration {
	return l.ttl
}
