package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/cloudguard/domain"
)

// RedisSessionStore persists PKCE sessions in Redis, for deployments where
// the callback may land on a different instance than the one that initiated
// the flow. Single-use consumption is done with GETDEL so replays lose the
// race atomically.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) redisKey(state string) string {
	return fmt.Sprintf("%s:pkce:%s", s.prefix, state)
}

func (s *RedisSessionStore) Save(ctx context.Context, session *domain.PkceSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal pkce session: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(session.State), payload, domain.PkceSessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store pkce session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Consume(ctx context.Context, state string) (*domain.PkceSession, error) {
	payload, err := s.client.GetDel(ctx, s.redisKey(state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrInvalidOrExpiredState
		}
		return nil, fmt.Errorf("failed to consume pkce session: %w", err)
	}

	var session domain.PkceSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pkce session: %w", err)
	}
	return &session, nil
}

var _ SessionStore = (*RedisSessionStore)(nil)
