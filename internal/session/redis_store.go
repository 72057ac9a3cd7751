// Package session provides Redis-backed storage for refresh sessions.
// When Redis is not configured the service falls back to the postgres store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plume/api/internal/store"

	"github.com/redis/go-redis/v9"
)

// tokenData is the JSON payload stored per refresh token.
type tokenData struct {
	AccountID int64     `json:"account_id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps refresh sessions in Redis with per-key TTLs, plus an
// account index so every session of an account can be revoked at once.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "refresh:"}, nil
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) accountKey(accountID int64) string {
	return fmt.Sprintf("%saccount:%d", s.prefix, accountID)
}

// SaveRefreshSession stores a refresh token for an account with expiration.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, account store.Account, expiresAt time.Time) error {
	data := tokenData{
		AccountID: account.ID,
		Username:  account.Username,
		Nickname:  account.Nickname,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if err := s.client.SAdd(ctx, s.accountKey(account.ID), tokenHash).Err(); err != nil {
		return fmt.Errorf("index refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token back to its account.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.Account{}, fmt.Errorf("token not found or expired")
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data tokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.Account{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	return store.Account{
		ID:       data.AccountID,
		Username: data.Username,
		Nickname: data.Nickname,
	}, nil
}

// RevokeRefreshSession deletes a single refresh token.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccountSessions deletes every live refresh token of an account.
// Called after a password change so stale sessions die with the old
// credential.
func (s *RedisStore) RevokeAccountSessions(ctx context.Context, accountID int64) error {
	indexKey := s.accountKey(accountID)
	hashes, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("list account sessions: %w", err)
	}
	for _, tokenHash := range hashes {
		if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
			return fmt.Errorf("revoke account session: %w", err)
		}
	}
	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		return fmt.Errorf("clear account session index: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
