package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// CodePurpose откуда взялся одноразовый код.
type CodePurpose string

// Назначения кодов.
const (
	PurposeSignup CodePurpose = "signup"
	PurposeOAuth  CodePurpose = "oauth"
)

// Code одноразовый код, который браузер приносит на /auth/callback.
type Code struct {
	UserID   string          `json:"user_id"`
	Provider models.Provider `json:"provider"`
	Purpose  CodePurpose     `json:"purpose"`
}

const (
	codePrefix    = "auth:code:"
	revokedPrefix = "auth:revoked:"
	statePrefix   = "auth:state:"
)

// TokenStore хранит одноразовые коды, OAuth state и отозванные сессии в Redis.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore создаёт хранилище поверх клиента Redis.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// IssueCode сохраняет код на ttl и возвращает его значение.
func (s *TokenStore) IssueCode(ctx context.Context, code Code, ttl time.Duration) (string, error) {
	const op = "auth.TokenStore.IssueCode"
	data, err := json.Marshal(code)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	value := uuid.NewString()
	if err := s.client.Set(ctx, codePrefix+value, data, ttl).Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

// TakeCode атомарно забирает код. Повторный вызов с тем же кодом вернёт ErrCodeConsumed.
func (s *TokenStore) TakeCode(ctx context.Context, value string) (Code, error) {
	const op = "auth.TokenStore.TakeCode"
	data, err := s.client.GetDel(ctx, codePrefix+value).Bytes()
	if errors.Is(err, redis.Nil) {
		return Code{}, ErrCodeConsumed
	}
	if err != nil {
		return Code{}, fmt.Errorf("%s: %w", op, err)
	}
	var code Code
	if err := json.Unmarshal(data, &code); err != nil {
		return Code{}, fmt.Errorf("%s: %w", op, err)
	}
	return code, nil
}

// Revoke помечает сессию отозванной до истечения токена.
func (s *TokenStore) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	const op = "auth.TokenStore.Revoke"
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+sessionID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsRevoked сообщает, что сессия отозвана.
func (s *TokenStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	const op = "auth.TokenStore.IsRevoked"
	n, err := s.client.Exists(ctx, revokedPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// SaveState сохраняет OAuth state для провайдера.
func (s *TokenStore) SaveState(ctx context.Context, state string, provider models.Provider, ttl time.Duration) error {
	const op = "auth.TokenStore.SaveState"
	if err := s.client.Set(ctx, statePrefix+state, string(provider), ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TakeState забирает state и проверяет, что он выдан тому же провайдеру.
func (s *TokenStore) TakeState(ctx context.Context, state string, provider models.Provider) error {
	const op = "auth.TokenStore.TakeState"
	got, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if got != string(provider) {
		return ErrInvalidState
	}
	return nil
}
