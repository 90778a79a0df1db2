// Package scheduler приложение планировщика: закрывает истёкшие подписки по расписанию.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	schedulerservice "github.com/magabrotheeeer/signaldesk/internal/services/scheduler"
	"github.com/magabrotheeeer/signaldesk/internal/storage/repository"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	spec             string
	db               *repository.Storage
	conn             *amqp.Connection
	ch               *amqp.Channel
	logger           *slog.Logger
}

// waitForDB ждёт базу, которая поднимается вместе с планировщиком.
func waitForDB(ctx context.Context, dsn string) (*repository.Storage, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 10), ctx)
	var db *repository.Storage
	err := backoff.Retry(func() error {
		var err error
		db, err = repository.New(dsn)
		return err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("database not ready after retries: %w", err)
	}
	return db, nil
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := waitForDB(ctx, cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	return &App{
		schedulerService: schedulerservice.NewSchedulerService(db, rabbitmq.NewPublisher(ch), logger),
		spec:             cfg.ExpireSpec,
		db:               db,
		conn:             conn,
		ch:               ch,
		logger:           logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает планировщик.
func (a *App) Run(ctx context.Context) error {
	if err := a.schedulerService.Start(ctx, a.spec); err != nil {
		closeResources(a.ch, a.conn, a.logger)
		_ = a.db.Close()
		return err
	}

	<-ctx.Done()

	a.logger.Info("shutting down scheduler service")
	a.schedulerService.Stop()
	closeResources(a.ch, a.conn, a.logger)
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}
