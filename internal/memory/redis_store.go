package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const keyPrefix = "dompet:memory:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore implements service.SessionMemory on Redis so that several
// server instances share conversational memory.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: memory.redis_addr", common.ErrMissingConfig)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis at %s: %w", common.ErrStorage, opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, opts.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(scope model.Scope) string {
	return keyPrefix + scope.Key()
}

// Get returns the scope's memory; a missing key is an empty memory.
func (s *RedisStore) Get(ctx context.Context, scope model.Scope) (model.Memory, error) {
	if err := validate(ctx, scope); err != nil {
		return model.Memory{}, err
	}

	data, err := s.client.Get(ctx, redisKey(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Memory{}, nil
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("%w: failed to read memory: %w", common.ErrStorage, err)
	}

	var mem model.Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		// A corrupt entry is treated like an expired one.
		return model.Memory{}, nil
	}
	return mem, nil
}

// Put stores memory for the scope and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, scope model.Scope, memory model.Memory) error {
	if err := validate(ctx, scope); err != nil {
		return err
	}

	data, err := json.Marshal(memory)
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(scope), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to write memory: %w", common.ErrStorage, err)
	}
	return nil
}

// Delete forgets the scope's memory.
func (s *RedisStore) Delete(ctx context.Context, scope model.Scope) error {
	if err := validate(ctx, scope); err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKey(scope)).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete memory: %w", common.ErrStorage, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
