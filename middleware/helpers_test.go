package middleware

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/store/memory"
)

const testPassword = "correct-password"

type harness struct {
	engine *schoolauth.Engine
	store  *memory.Store
	mr     *miniredis.Miniredis
	sink   *schoolauth.ChannelSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := schoolauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	sink := schoolauth.NewChannelSink(64)
	engine, err := schoolauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hash, err := engine.HashPassword(testPassword)
	require.NoError(t, err)
	store.PutUser(memory.User{UserRecord: schoolauth.UserRecord{
		UserID: "1", Username: "admin", PasswordHash: hash, Role: "admin", KindergartenID: "k1",
	}})
	store.PutUser(memory.User{
		UserRecord: schoolauth.UserRecord{UserID: "2", Username: "teacher", PasswordHash: hash, Role: "teacher", KindergartenID: "k1"},
		Scope:      schoolauth.DataScope{ClassIDs: []string{"c1"}, StudentIDs: []string{"11"}},
	})
	store.PutUser(memory.User{
		UserRecord: schoolauth.UserRecord{UserID: "3", Username: "parent", PasswordHash: hash, Role: "parent", KindergartenID: "k1"},
		Scope:      schoolauth.DataScope{StudentIDs: []string{"11"}},
	})
	store.SetRolePermissions("teacher", schoolauth.Permission{Code: "students.read"})

	return &harness{engine: engine, store: store, mr: mr, sink: sink}
}

func (h *harness) token(t *testing.T, username string) string {
	t.Helper()
	res, err := h.engine.Login(context.Background(), username, testPassword)
	require.NoError(t, err)
	return res.AccessToken
}
