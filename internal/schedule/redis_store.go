package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps provider templates in Redis so clinics can edit them
// without a redeploy. Misses fall through to an optional secondary provider.
type RedisStore struct {
	redis    *redis.Client
	fallback Provider
}

// NewRedisStore creates a Redis-backed template store.
func NewRedisStore(client *redis.Client, fallback Provider) *RedisStore {
	if client == nil {
		panic("schedule: redis client required")
	}
	return &RedisStore{redis: client, fallback: fallback}
}

func (s *RedisStore) key(providerID string) string {
	return fmt.Sprintf("schedule:template:%s", providerID)
}

// TemplateFor returns the stored template, consulting the fallback on a miss.
func (s *RedisStore) TemplateFor(ctx context.Context, providerID string) ([]string, error) {
	data, err := s.redis.Get(ctx, s.key(providerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		if s.fallback != nil {
			return s.fallback.TemplateFor(ctx, providerID)
		}
		return nil, ErrUnknownProvider
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: get template: %w", err)
	}

	var slots []string
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("schedule: unmarshal template: %w", err)
	}
	return slots, nil
}

// Put validates and stores a provider's template.
func (s *RedisStore) Put(ctx context.Context, providerID string, slots []string) ([]string, error) {
	if providerID == "" {
		return nil, errors.New("schedule: provider id required")
	}
	normalized, err := NormalizeSlots(slots)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("schedule: marshal template: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(providerID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("schedule: set template: %w", err)
	}
	return normalized, nil
}

// Delete removes a provider's stored template.
func (s *RedisStore) Delete(ctx context.Context, providerID string) error {
	if err := s.redis.Del(ctx, s.key(providerID)).Err(); err != nil {
		return fmt.Errorf("schedule: delete template: %w", err)
	}
	return nil
}
