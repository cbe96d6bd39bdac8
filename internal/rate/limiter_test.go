package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudgetPerUsername(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPerUsername: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "Alice", "1.2.3.4"); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "alice", "1.2.3.4"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := l.CheckLogin(ctx, "ALICE", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestResetClearsUsernameOnly(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxPerUsername: 1, MaxPerIP: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "bob", "9.9.9.9")
	if err := l.ResetLogin(ctx, "bob"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("username counter should be cleared: %v", err)
	}
	if err := l.CheckLogin(ctx, "carol", "9.9.9.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("ip counter should survive reset, got %v", err)
	}
}

func TestLimiterReportsRedisFailure(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxPerUsername: 1})
	mr.Close()
	if err := l.CheckLogin(context.Background(), "dave", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
