package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"socialweb/config"

	"github.com/go-redis/redis/v8"
)

const (
	ENTITY_KEY_PREFIX = "entity:" // hash per entity, one JSON value per field
	RESULT_KEY_PREFIX = "result:" // linked result tree of one operation
)

// RedisStore shares the normalized cache between frontend replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisClient(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr(),
		Password: conf.Password,
		DB:       conf.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore namespaces every key with prefix, so several caches can share
// one Redis database.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) entityKey(key string) string {
	return s.prefix + ENTITY_KEY_PREFIX + key
}

func (s *RedisStore) resultKey(opKey string) string {
	return s.prefix + RESULT_KEY_PREFIX + opKey
}

func (s *RedisStore) GetEntity(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	raw, err := s.client.HGetAll(ctx, s.entityKey(key)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	fields := make(map[string]interface{}, len(raw))
	for name, encoded := range raw {
		value, err := decodeJSONValue([]byte(encoded))
		if err != nil {
			return nil, false, fmt.Errorf("corrupt cache field %s.%s: %w", key, name, err)
		}
		fields[name] = value
	}
	return fields, true, nil
}

func (s *RedisStore) PutEntity(ctx context.Context, key string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal field %s: %w", name, err)
		}
		values[name] = string(encoded)
	}

	redisKey := s.entityKey(key)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, redisKey, values)
	if s.ttl > 0 {
		pipe.Expire(ctx, redisKey, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetResult(ctx context.Context, opKey string) (interface{}, bool, error) {
	raw, err := s.client.Get(ctx, s.resultKey(opKey)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	tree, err := decodeJSONValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cached result %s: %w", opKey, err)
	}
	return tree, true, nil
}

func (s *RedisStore) PutResult(ctx context.Context, opKey string, tree interface{}) error {
	encoded, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return s.client.Set(ctx, s.resultKey(opKey), encoded, s.ttl).Err()
}

func (s *RedisStore) DeleteEntity(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.entityKey(key)).Err()
}

func (s *RedisStore) DeleteResult(ctx context.Context, opKey string) error {
	return s.client.Del(ctx, s.resultKey(opKey)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
