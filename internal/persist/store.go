package persist

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store хранилище полей клиента: долговременное (local) и на время сессии браузера (session).
type Store interface {
	LoadLocal(ctx context.Context, clientID string) (map[string]string, error)
	SaveLocal(ctx context.Context, clientID string, values map[string]any) error
	DeleteLocal(ctx context.Context, clientID string, keys ...string) error
	SetSession(ctx context.Context, clientID, key, value string) error
	GetSession(ctx context.Context, clientID, key string) (string, error)
	DeleteSession(ctx context.Context, clientID, key string) error
	Clear(ctx context.Context, clientID string) error
}

// RedisStore хранит поля клиента в хэшах Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создаёт хранилище поверх клиента Redis.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func localKey(clientID string) string   { return "local:" + clientID }
func sessionKey(clientID string) string { return "session:" + clientID }

// LoadLocal читает все долговременные поля клиента.
func (s *RedisStore) LoadLocal(ctx context.Context, clientID string) (map[string]string, error) {
	const op = "persist.RedisStore.LoadLocal"
	values, err := s.client.HGetAll(ctx, localKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return values, nil
}

// SaveLocal записывает поля одной командой.
func (s *RedisStore) SaveLocal(ctx context.Context, clientID string, values map[string]any) error {
	const op = "persist.RedisStore.SaveLocal"
	if len(values) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, localKey(clientID), values).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteLocal удаляет отдельные долговременные поля.
func (s *RedisStore) DeleteLocal(ctx context.Context, clientID string, keys ...string) error {
	const op = "persist.RedisStore.DeleteLocal"
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, localKey(clientID), keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetSession записывает значение на время сессии браузера.
func (s *RedisStore) SetSession(ctx context.Context, clientID, key, value string) error {
	const op = "persist.RedisStore.SetSession"
	if err := s.client.HSet(ctx, sessionKey(clientID), key, value).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession читает значение сессии браузера. Отсутствующий ключ даёт пустую строку.
func (s *RedisStore) GetSession(ctx context.Context, clientID, key string) (string, error) {
	const op = "persist.RedisStore.GetSession"
	v, err := s.client.HGet(ctx, sessionKey(clientID), key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// DeleteSession удаляет значение сессии браузера.
func (s *RedisStore) DeleteSession(ctx context.Context, clientID, key string) error {
	const op = "persist.RedisStore.DeleteSession"
	if err := s.client.HDel(ctx, sessionKey(clientID), key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear удаляет оба хэша клиента целиком, включая ключи, которые кэш не пишет.
func (s *RedisStore) Clear(ctx context.Context, clientID string) error {
	const op = "persist.RedisStore.Clear"
	if err := s.client.Del(ctx, localKey(clientID), sessionKey(clientID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
