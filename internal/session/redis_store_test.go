package session

import (
	"context"
	"testing"
	"time"

	"plume/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { redisStore.Close() })
	return redisStore
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	redisStore := setupTestRedis(t)
	ctx := context.Background()

	account := store.Account{ID: 42, Username: "gildong", Nickname: "Hong"}
	if err := redisStore.SaveRefreshSession(ctx, "hash-1", account, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	got, err := redisStore.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if got.ID != 42 || got.Username != "gildong" || got.Nickname != "Hong" {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	redisStore := setupTestRedis(t)

	if _, err := redisStore.LookupRefreshSession(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	redisStore := setupTestRedis(t)
	ctx := context.Background()

	account := store.Account{ID: 1, Username: "a"}
	if err := redisStore.SaveRefreshSession(ctx, "hash-1", account, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := redisStore.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if _, err := redisStore.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatal("expected revoked token to be gone")
	}
}

func TestRevokeAccountSessions(t *testing.T) {
	redisStore := setupTestRedis(t)
	ctx := context.Background()

	mine := store.Account{ID: 7, Username: "mine"}
	other := store.Account{ID: 8, Username: "other"}
	for _, tokenHash := range []string{"hash-a", "hash-b"} {
		if err := redisStore.SaveRefreshSession(ctx, tokenHash, mine, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("SaveRefreshSession() error = %v", err)
		}
	}
	if err := redisStore.SaveRefreshSession(ctx, "hash-other", other, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	if err := redisStore.RevokeAccountSessions(ctx, mine.ID); err != nil {
		t.Fatalf("RevokeAccountSessions() error = %v", err)
	}

	for _, tokenHash := range []string{"hash-a", "hash-b"} {
		if _, err := redisStore.LookupRefreshSession(ctx, tokenHash); err == nil {
			t.Fatalf("expected %s to be revoked", tokenHash)
		}
	}
	if _, err := redisStore.LookupRefreshSession(ctx, "hash-other"); err != nil {
		t.Fatalf("other account's session must survive: %v", err)
	}
}

func TestExpiredSessionIsGone(t *testing.T) {
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer redisStore.Close()
	ctx := context.Background()

	account := store.Account{ID: 2, Username: "b"}
	if err := redisStore.SaveRefreshSession(ctx, "hash-exp", account, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := redisStore.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Fatal("expected expired token to be gone")
	}
}
