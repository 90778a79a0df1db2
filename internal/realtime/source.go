package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Subscription открытый канал статусов платежей пользователя.
// Updates закрывается, когда канал оборвался или закрыт.
type Subscription interface {
	Updates() <-chan models.PaymentUpdate
	Close() error
}

// Source открывает канал статусов для пользователя.
type Source interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

// Channel имя канала Redis для пользователя.
func Channel(userID string) string {
	return "payments:user:" + userID
}

// RedisSource каналы статусов поверх Redis Pub/Sub.
type RedisSource struct {
	log    *slog.Logger
	client *redis.Client
}

// NewRedisSource создаёт источник.
func NewRedisSource(log *slog.Logger, client *redis.Client) *RedisSource {
	return &RedisSource{log: log, client: client}
}

// Subscribe подписывается на канал пользователя и ждёт подтверждения подписки.
func (s *RedisSource) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	const op = "realtime.RedisSource.Subscribe"
	ps := s.client.Subscribe(ctx, Channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub := &redisSubscription{
		log:     s.log,
		ps:      ps,
		updates: make(chan models.PaymentUpdate, 8),
	}
	go sub.run(ctx)
	return sub, nil
}

// Publish отправляет изменение статуса в канал пользователя.
func (s *RedisSource) Publish(ctx context.Context, update models.PaymentUpdate) error {
	const op = "realtime.RedisSource.Publish"
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.client.Publish(ctx, Channel(update.UserID), data).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type redisSubscription struct {
	log     *slog.Logger
	ps      *redis.PubSub
	updates chan models.PaymentUpdate
}

func (s *redisSubscription) Updates() <-chan models.PaymentUpdate { return s.updates }

func (s *redisSubscription) Close() error { return s.ps.Close() }

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.updates)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var u models.PaymentUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
			s.log.Warn("skipping malformed payment update", sl.Err(err))
			continue
		}
		select {
		case s.updates <- u:
		case <-ctx.Done():
			return
		}
	}
}
