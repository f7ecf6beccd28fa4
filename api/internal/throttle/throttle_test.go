package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	setNXResult bool
	setNXErr    error
	ttlResult   time.Duration
	ttlErr      error
	lastKey     string
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.lastKey = key
	cmd := redis.NewBoolCmd(ctx)
	if f.setNXErr != nil {
		cmd.SetErr(f.setNXErr)
		return cmd
	}
	cmd.SetVal(f.setNXResult)
	return cmd
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	if f.ttlErr != nil {
		cmd.SetErr(f.ttlErr)
		return cmd
	}
	cmd.SetVal(f.ttlResult)
	return cmd
}

func TestReserveFirstDeclarationAllowed(t *testing.T) {
	rdb := &fakeRedis{setNXResult: true}
	l := newWithClient(rdb, 60*time.Second)

	d := l.Reserve(context.Background(), "u-1", "c-1")
	if !d.Allowed || d.Degraded {
		t.Fatalf("expected allowed non-degraded decision, got %+v", d)
	}
	if rdb.lastKey != "throttle:u-1:c-1" {
		t.Fatalf("unexpected key %q", rdb.lastKey)
	}
}

func TestReserveRepeatWithinWindowBlocked(t *testing.T) {
	rdb := &fakeRedis{setNXResult: false, ttlResult: 42 * time.Second}
	l := newWithClient(rdb, 60*time.Second)

	d := l.Reserve(context.Background(), "u-1", "c-1")
	if d.Allowed {
		t.Fatalf("expected blocked decision, got %+v", d)
	}
	if d.RetryAfter != 42*time.Second {
		t.Fatalf("expected retry after 42s, got %s", d.RetryAfter)
	}
}

func TestReserveRetryAfterClamped(t *testing.T) {
	l := newWithClient(&fakeRedis{setNXResult: false, ttlResult: 10 * time.Millisecond}, 60*time.Second)
	if d := l.Reserve(context.Background(), "u", "c"); d.RetryAfter != time.Second {
		t.Fatalf("expected retry after clamped up to 1s, got %s", d.RetryAfter)
	}

	l = newWithClient(&fakeRedis{setNXResult: false, ttlResult: 5 * time.Minute}, 60*time.Second)
	if d := l.Reserve(context.Background(), "u", "c"); d.RetryAfter != 60*time.Second {
		t.Fatalf("expected retry after clamped down to 60s, got %s", d.RetryAfter)
	}
}

func TestReserveTTLErrorFallsBackToWindow(t *testing.T) {
	rdb := &fakeRedis{setNXResult: false, ttlErr: errors.New("read timeout")}
	l := newWithClient(rdb, 60*time.Second)

	d := l.Reserve(context.Background(), "u-1", "c-1")
	if d.Allowed {
		t.Fatalf("expected blocked decision, got %+v", d)
	}
	if d.RetryAfter != 60*time.Second {
		t.Fatalf("expected retry after 60s, got %s", d.RetryAfter)
	}
}

func TestReserveFailsOpenWhenRedisDown(t *testing.T) {
	rdb := &fakeRedis{setNXErr: errors.New("connection refused")}
	l := newWithClient(rdb, 60*time.Second)

	d := l.Reserve(context.Background(), "u-1", "c-1")
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected degraded allow, got %+v", d)
	}
}

func TestReserveNilClientFailsOpen(t *testing.T) {
	l := New(nil, 60*time.Second)
	d := l.Reserve(context.Background(), "u-1", "c-1")
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected degraded allow, got %+v", d)
	}
}
