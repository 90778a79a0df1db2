// Package scheduler фоновые задачи по расписанию: закрытие истёкших подписок.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Repository операции хранилища для задач.
type Repository interface {
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error)
}

// Notifier очередь писем.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// SchedulerService запускает задачи по cron-расписанию.
type SchedulerService struct {
	repo     Repository
	notifier Notifier
	log      *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService. Расписание в UTC.
func NewSchedulerService(repo Repository, notifier Notifier, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		repo:     repo,
		notifier: notifier,
		log:      log,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		now:      time.Now,
	}
}

// Start регистрирует задачу истечения подписок по cron-выражению spec и запускает планировщик.
func (s *SchedulerService) Start(ctx context.Context, spec string) error {
	const op = "scheduler.Start"
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.ExpireLapsed(ctx); err != nil {
			s.log.Error("expire job failed", sl.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", slog.String("expire_spec", spec))
	return nil
}

// Stop останавливает планировщик и ждёт текущую задачу.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// ExpireLapsed переводит истёкшие подписки в expired и рассылает письма.
// Возвращает число закрытых подписок.
func (s *SchedulerService) ExpireLapsed(ctx context.Context) (int, error) {
	const op = "scheduler.ExpireLapsed"
	s.log.Info("starting expired subscriptions sweep")

	users, err := s.repo.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(users) == 0 {
		s.log.Info("no expired subscriptions found")
		return 0, nil
	}
	s.log.Info("expired subscriptions", slog.Int("count", len(users)))

	for _, u := range users {
		err := s.notifier.Publish(rabbitmq.RoutingSubscription, models.Notification{
			Kind:      models.NotifySubscriptionGone,
			Email:     u.Email,
			Username:  u.Username,
			ExpiresAt: u.SubscriptionExpiry,
		})
		if err != nil {
			s.log.Error("failed to publish message", slog.String("user_id", u.ID), sl.Err(err))
		}
	}
	return len(users), nil
}
