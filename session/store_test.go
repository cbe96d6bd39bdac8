package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "sa", 0), mr
}

func testSession(token string) *Session {
	now := time.Now()
	return &Session{
		UserID:         "u-1",
		TokenHash:      TokenHash(token),
		Username:       "teacher.li",
		Role:           "teacher",
		KindergartenID: "k-9",
		IP:             "10.0.0.1",
		UserAgent:      "Mozilla/5.0",
		DeviceID:       "dev-1",
		LoginTime:      now.UnixMilli(),
		LastActiveTime: now.UnixMilli(),
		ExpiresAt:      now.Add(time.Hour).UnixMilli(),
	}
}

func TestSaveGetDelete(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("tok-a")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	key := store.Key("u-1", "tok-a")
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *sess {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, sess)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	hashes, err := store.ActiveTokenHashes(ctx, "u-1")
	if err != nil {
		t.Fatalf("active hashes: %v", err)
	}
	if len(hashes) != 0 {
		t.Fatalf("index not cleaned up: %v", hashes)
	}
}

func TestGetExpiresWithTTL(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	if err := store.Save(ctx, testSession("tok"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, store.Key("u-1", "tok")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestDeleteRejectsForeignKey(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	if err := store.Delete(context.Background(), "other:s:x"); err == nil {
		t.Fatal("expected malformed key error")
	}
}

func TestTouchUpdatesLastActiveOnly(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("tok")
	sess.LastActiveTime = 1
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	before := time.Now().UnixMilli()
	if err := store.Touch(ctx, "u-1", "tok"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := store.Get(ctx, store.Key("u-1", "tok"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastActiveTime < before {
		t.Fatalf("lastActiveTime not refreshed: %d < %d", got.LastActiveTime, before)
	}
	got.LastActiveTime = sess.LastActiveTime
	if *got != *sess {
		t.Fatalf("touch altered other fields: %+v", got)
	}
	if ttl := mr.TTL(store.Key("u-1", "tok")); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("touch lost ttl: %v", ttl)
	}
}

func TestTouchSlidingExtendsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewStore(rdb, "sa", 2*time.Hour)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("tok"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Touch(ctx, "u-1", "tok"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL(store.Key("u-1", "tok")); ttl <= time.Minute {
		t.Fatalf("expected sliding ttl, got %v", ttl)
	}
}

func TestTouchMissingSessionIsNoop(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	if err := store.Touch(context.Background(), "nobody", "tok"); err != nil {
		t.Fatalf("touch on missing session: %v", err)
	}
}

func TestBlacklistLifecycle(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	hash := TokenHash("tok")

	listed, err := store.IsBlacklisted(ctx, hash)
	if err != nil || listed {
		t.Fatalf("fresh token: listed=%v err=%v", listed, err)
	}
	if err := store.Blacklist(ctx, hash, "logout", 10*time.Second); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if listed, _ := store.IsBlacklisted(ctx, hash); !listed {
		t.Fatal("expected token to be blacklisted")
	}
	mr.FastForward(11 * time.Second)
	if listed, _ := store.IsBlacklisted(ctx, hash); listed {
		t.Fatal("blacklist entry should expire with its ttl")
	}
}

func TestBlacklistFailsClosedWhenRedisDown(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	mr.Close()

	listed, err := store.IsBlacklisted(context.Background(), TokenHash("tok"))
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if !listed {
		t.Fatal("unreachable blacklist must report the token as listed")
	}
}

func TestClaimBlacklistSingleWinner(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()
	hash := TokenHash("refresh")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev, err := store.ClaimBlacklist(ctx, hash, "rotated", time.Minute)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if prev == "" {
				wins.Add(1)
			} else if prev != "rotated" {
				t.Errorf("unexpected previous reason %q", prev)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestClaimBlacklistReportsEarlierReason(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()
	hash := TokenHash("refresh")

	if err := store.Blacklist(ctx, hash, "logout", time.Minute); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	prev, err := store.ClaimBlacklist(ctx, hash, "rotated", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if prev != "logout" {
		t.Fatalf("expected earlier reason logout, got %q", prev)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, testSession(tok), time.Hour); err != nil {
			t.Fatalf("save %s: %v", tok, err)
		}
	}
	other := testSession("d")
	other.UserID = "u-2"
	if err := store.Save(ctx, other, time.Hour); err != nil {
		t.Fatalf("save other: %v", err)
	}

	n, err := store.DeleteAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if _, err := store.Get(ctx, store.Key("u-2", "d")); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
}

func TestRevokeSessionsBlacklistsIndexedTokens(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	if err := store.Save(ctx, testSession("a"), 30*time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, testSession("b"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := store.RevokeSessions(ctx, "u-1", "replaced", 2*time.Hour)
	if err != nil || n != 2 {
		t.Fatalf("revoke sessions: n=%d err=%v", n, err)
	}
	for _, tok := range []string{"a", "b"} {
		if _, err := store.Get(ctx, store.Key("u-1", tok)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s must be gone, got %v", tok, err)
		}
		if got, _ := mr.Get("sa:bl:" + TokenHash(tok)); got != "replaced" {
			t.Fatalf("blacklist reason for %s = %q", tok, got)
		}
	}
	if ttl := mr.TTL("sa:bl:" + TokenHash("a")); ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("marker must live as long as the session, got %v", ttl)
	}
	if mr.Exists("sa:u:u-1") {
		t.Fatal("user index must be removed")
	}

	n, err = store.RevokeSessions(ctx, "u-1", "replaced", time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("second revoke: n=%d err=%v", n, err)
	}
}

func TestRevokeAll(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b"} {
		if err := store.Save(ctx, testSession(tok), time.Hour); err != nil {
			t.Fatalf("save %s: %v", tok, err)
		}
	}

	cutoff, err := store.RevokedBefore(ctx, "u-1")
	if err != nil || !cutoff.IsZero() {
		t.Fatalf("no cutoff expected, got %v err=%v", cutoff, err)
	}
	n, err := store.RevokeAll(ctx, "u-1", time.Hour)
	if err != nil || n != 2 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	cutoff, err = store.RevokedBefore(ctx, "u-1")
	if err != nil || cutoff.IsZero() {
		t.Fatalf("expected cutoff, got %v err=%v", cutoff, err)
	}
	if time.Since(cutoff) > time.Minute {
		t.Fatalf("cutoff too old: %v", cutoff)
	}
	raw, _ := mr.Get("sa:rv:u-1")
	if raw != strconv.FormatInt(cutoff.UnixMilli(), 10) {
		t.Fatalf("cutoff stored as %q, want unix milliseconds of %v", raw, cutoff)
	}
	for _, tok := range []string{"a", "b"} {
		listed, err := store.IsBlacklisted(ctx, TokenHash(tok))
		if err != nil || !listed {
			t.Fatalf("token %s must be blacklisted: listed=%v err=%v", tok, listed, err)
		}
	}

	mr.Close()
	if _, err := store.RevokedBefore(ctx, "u-1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
