package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config sets failed-login budgets. A zero limit disables that dimension.
type Config struct {
	Prefix         string
	MaxPerUsername int
	MaxPerIP       int
	Window         time.Duration
}

// Limiter throttles failed logins with fixed-window Redis counters, one
// per username and one per client IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// INCR and set the window TTL on the first hit, atomically.
const incrWindowScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`

var incrWindowLua = redis.NewScript(incrWindowScript)

// New creates a Limiter.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "sa"
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Limiter{redis: client, config: cfg}
}

func (l *Limiter) userKey(username string) string {
	return l.config.Prefix + ":rl:u:" + strings.ToLower(username)
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":rl:ip:" + ip
}

// CheckLogin returns ErrRateLimited when either budget is exhausted.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if l.config.MaxPerUsername > 0 && username != "" {
		if err := l.check(ctx, l.userKey(username), l.config.MaxPerUsername); err != nil {
			return err
		}
	}
	if l.config.MaxPerIP > 0 && ip != "" {
		if err := l.check(ctx, l.ipKey(ip), l.config.MaxPerIP); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records one failed attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, username, ip string) error {
	if l.config.MaxPerUsername > 0 && username != "" {
		if _, err := l.incr(ctx, l.userKey(username)); err != nil {
			return err
		}
	}
	if l.config.MaxPerIP > 0 && ip != "" {
		if _, err := l.incr(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the per-username counter after a successful login. The
// per-IP counter is left to expire so one good login cannot launder a
// credential-stuffing run from the same address.
func (l *Limiter) ResetLogin(ctx context.Context, username string) error {
	if err := l.redis.Del(ctx, l.userKey(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incr(ctx context.Context, key string) (int64, error) {
	n, err := incrWindowLua.Run(ctx, l.redis, []string{key}, l.config.Window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}
