package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any transport or server error from Redis. Callers
// on security-critical paths treat it as a rejection.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when no live session exists for a key.
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

const minBlacklistTTL = time.Second

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// KEYS[1] session key. ARGV[1] 8-byte big-endian lastActiveTime,
// ARGV[2] sliding TTL in milliseconds (0 keeps the current TTL).
const touchScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= 1 or #data < 25 then
  return -1
end
local updated = string.sub(data, 1, 9) .. ARGV[1] .. string.sub(data, 18)
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
  ttl = redis.call("PTTL", KEYS[1])
end
if ttl <= 0 then
  return 0
end
redis.call("SET", KEYS[1], updated, "PX", ttl)
return 1
`

var touchLua = redis.NewScript(touchScript)

const claimScript = `
local prev = redis.call("GET", KEYS[1])
if prev then
  return prev
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return ""
`

var claimLua = redis.NewScript(claimScript)

// Store keeps sessions and the token blacklist in Redis.
//
// Keys:
//
//	<prefix>:s:<userID>:<tokenHash>   session record
//	<prefix>:u:<userID>               set of token hashes with a session
//	<prefix>:bl:<tokenHash>           blacklist marker, TTL = remaining token life
//	<prefix>:rv:<userID>              unix milliseconds; tokens issued at or before are revoked
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	sliding time.Duration
}

// NewStore creates a Store. When sliding is positive every Touch resets the
// session TTL to sliding.
func NewStore(client redis.UniversalClient, prefix string, sliding time.Duration) *Store {
	if prefix == "" {
		prefix = "sa"
	}
	return &Store{
		redis:   client,
		prefix:  prefix,
		sliding: sliding,
	}
}

// TokenHash returns the hex SHA-256 of a raw token. Raw tokens are never
// used as Redis keys.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Key returns the session key for a user and raw token.
func (s *Store) Key(userID, token string) string {
	return s.sessionKey(userID, TokenHash(token))
}

func (s *Store) sessionKey(userID, tokenHash string) string {
	return s.prefix + ":s:" + userID + ":" + tokenHash
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) blacklistKey(tokenHash string) string {
	return s.prefix + ":bl:" + tokenHash
}

func (s *Store) revokeKey(userID string) string {
	return s.prefix + ":rv:" + userID
}

func (s *Store) splitKey(key string) (userID, tokenHash string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix+":s:")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Save persists sess under its key with the given TTL and indexes it under
// the user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.UserID == "" || sess.TokenHash == "" {
		return errors.New("session requires user id and token hash")
	}
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.UserID, sess.TokenHash), data, ttl)
		pipe.SAdd(ctx, userKey, sess.TokenHash)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads the session stored under key.
func (s *Store) Get(ctx context.Context, key string) (*Session, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sess.Expired(time.Now()) {
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes the session under key. Deleting a missing session is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	userID, tokenHash, ok := s.splitKey(key)
	if !ok {
		return fmt.Errorf("malformed session key %q", key)
	}
	if err := deleteSessionLua.Run(ctx, s.redis, []string{key, s.userKey(userID)}, tokenHash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session indexed under userID and returns how
// many session records existed.
//
// A session saved between the SMEMBERS read and the delete is not captured;
// it expires on its own TTL.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, s.sessionKey(userID, h))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// ActiveTokenHashes lists the token hashes that currently have a session.
// Stale index members whose session already expired are pruned.
func (s *Store) ActiveTokenHashes(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	checks := make([]*redis.IntCmd, len(hashes))
	for i, h := range hashes {
		checks[i] = pipe.Exists(ctx, s.sessionKey(userID, h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := hashes[:0]
	var stale []interface{}
	for i, h := range hashes {
		if checks[i].Val() == 1 {
			live = append(live, h)
		} else {
			stale = append(stale, h)
		}
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, userKey, stale...).Err()
	}
	return live, nil
}

// Touch sets lastActiveTime on the session for (userID, token) to now.
// A missing session is not an error.
func (s *Store) Touch(ctx context.Context, userID, token string) error {
	key := s.Key(userID, token)
	now := time.Now().UnixMilli()
	res, err := touchLua.Run(ctx, s.redis, []string{key}, encodeMillis(now), s.sliding.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res < 0 {
		return ErrCorrupt
	}
	return nil
}

// IsBlacklisted reports whether tokenHash has been revoked. Any Redis failure
// is returned as ErrRedisUnavailable and must be treated as revoked.
func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(tokenHash)).Result()
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Blacklist revokes tokenHash for ttl. ttl should cover the token's remaining
// lifetime; values below one second are raised to one second.
func (s *Store) Blacklist(ctx context.Context, tokenHash, reason string, ttl time.Duration) error {
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}
	if reason == "" {
		reason = "revoked"
	}
	if err := s.redis.Set(ctx, s.blacklistKey(tokenHash), reason, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ClaimBlacklist revokes tokenHash unless it is already revoked. It returns
// the reason stored by an earlier revocation, or "" when this call performed
// it. It is the single-use gate for refresh tokens: exactly one concurrent
// caller gets "".
func (s *Store) ClaimBlacklist(ctx context.Context, tokenHash, reason string, ttl time.Duration) (string, error) {
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}
	if reason == "" {
		reason = "revoked"
	}
	prev, err := claimLua.Run(ctx, s.redis, []string{s.blacklistKey(tokenHash)}, reason, ttl.Milliseconds()).Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return prev, nil
}

// RevokeSessions blacklists every token indexed under userID and then
// deletes the user's sessions, so a later request cannot recreate them. Each
// marker lives as long as the session it replaces, or ttl when that is
// unknown. It returns how many session records existed.
//
// A session saved between the SMEMBERS read and the write is not captured.
func (s *Store) RevokeSessions(ctx context.Context, userID, reason string, ttl time.Duration) (int, error) {
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}
	if reason == "" {
		reason = "revoked"
	}
	userKey := s.userKey(userID)
	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, len(hashes))
	lives := make([]*redis.DurationCmd, len(hashes))
	lookup := s.redis.Pipeline()
	for i, h := range hashes {
		keys[i] = s.sessionKey(userID, h)
		lives[i] = lookup.PTTL(ctx, keys[i])
	}
	if _, err := lookup.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range hashes {
			life := lives[i].Val()
			if life < minBlacklistTTL {
				life = ttl
			}
			pipe.Set(ctx, s.blacklistKey(h), reason, life)
		}
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// RevokeAll revokes every token of userID issued up to now and revokes the
// user's sessions. ttl should cover the longest token lifetime. It returns
// how many sessions were deleted.
func (s *Store) RevokeAll(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	if ttl < minBlacklistTTL {
		ttl = minBlacklistTTL
	}
	cutoff := time.Now().UnixMilli()
	if err := s.redis.Set(ctx, s.revokeKey(userID), cutoff, ttl).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.RevokeSessions(ctx, userID, "revoke_all", ttl)
}

// RevokedBefore returns the cutoff set by RevokeAll, or the zero time when
// none is active. Errors must be treated as revoked.
func (s *Store) RevokedBefore(ctx context.Context, userID string) (time.Time, error) {
	ms, err := s.redis.Get(ctx, s.revokeKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.UnixMilli(ms), nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
