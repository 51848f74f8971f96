package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevocationList answers whether an admin token must no longer open
// sessions, keyed by the token's jti. The relay only reads it: the service
// that issues admin tokens revokes one by setting revoked:token:<jti> in
// Redis with a TTL covering the token's remaining lifetime.
type TokenRevocationList interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type redisRevocationList struct {
	client *redis.Client
}

func NewRedisRevocationList(redisURL string) (TokenRevocationList, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisRevocationList{client: client}, nil
}

func revocationKey(tokenID string) string {
	return fmt.Sprintf("revoked:token:%s", tokenID)
}

func (l *redisRevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := l.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocationList is used when no Redis URL is configured. Nothing
// outside the process can write to it, so only Revoke adds entries.
type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if l.now().After(until) {
		delete(l.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

func (l *MemoryRevocationList) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.revoked[tokenID] = l.now().Add(ttl)
	return nil
}
