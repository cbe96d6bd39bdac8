package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userGenTTL    = 24 * time.Hour
	clearScanSize = 500
)

// KEYS[1] entry, KEYS[2] global gen, KEYS[3] user gen.
// ARGV[1] expected global, ARGV[2] expected user, ARGV[3] payload, ARGV[4] ttl ms.
const fillScript = `
local g = redis.call("GET", KEYS[2]) or "0"
local u = redis.call("GET", KEYS[3]) or "0"
if g ~= ARGV[1] or u ~= ARGV[2] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[3], "PX", ARGV[4])
return 1
`

var fillLua = redis.NewScript(fillScript)

// RedisStore keeps entries in Redis so every application instance shares
// one cache and one invalidation state.
//
// Keys:
//
//	<prefix>:pc:u:<userID>      JSON entry, TTL = cache TTL
//	<prefix>:pc:gen             global generation
//	<prefix>:pc:gen:u:<userID>  per-user generation
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a RedisStore under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sa"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) entryKey(userID string) string {
	return r.prefix + ":pc:u:" + userID
}

func (r *RedisStore) globalKey() string {
	return r.prefix + ":pc:gen"
}

func (r *RedisStore) userGenKey(userID string) string {
	return r.prefix + ":pc:gen:u:" + userID
}

func (r *RedisStore) Load(ctx context.Context, userID string) (*Entry, Generation, error) {
	vals, err := r.redis.MGet(ctx, r.entryKey(userID), r.globalKey(), r.userGenKey(userID)).Result()
	if err != nil {
		return nil, Generation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	gen := Generation{Global: parseGen(vals[1]), User: parseGen(vals[2])}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, nil
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		_ = r.redis.Del(ctx, r.entryKey(userID)).Err()
		return nil, gen, nil
	}
	if e.Generation != gen.Global || e.Expired(r.now()) {
		return nil, gen, nil
	}
	return &e, gen, nil
}

func (r *RedisStore) Fill(ctx context.Context, e *Entry, gen Generation) (bool, error) {
	stored := *e
	stored.Generation = gen.Global
	payload, err := json.Marshal(&stored)
	if err != nil {
		return false, err
	}
	ttl := e.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	n, err := fillLua.Run(ctx, r.redis,
		[]string{r.entryKey(e.UserID), r.globalKey(), r.userGenKey(e.UserID)},
		strconv.FormatUint(gen.Global, 10),
		strconv.FormatUint(gen.User, 10),
		payload,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, 0, len(userIDs))
		for _, id := range userIDs {
			keys = append(keys, r.entryKey(id))
			pipe.Incr(ctx, r.userGenKey(id))
			pipe.Expire(ctx, r.userGenKey(id), userGenTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear bumps the global generation first, which hides every existing entry
// from Load immediately, then deletes the entries with SCAN.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.redis.Incr(ctx, r.globalKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	iter := r.redis.Scan(ctx, 0, r.entryKey("*"), clearScanSize).Iterator()
	batch := make([]string, 0, clearScanSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearScanSize {
			if err := r.redis.Unlink(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(batch) > 0 {
		if err := r.redis.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.redis.Scan(ctx, 0, r.entryKey("*"), clearScanSize).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func parseGen(v interface{}) uint64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
