// Package signaldesk собирает HTTP API: хранилище, кэш, очередь писем, сервисы
// и реестр координаторов клиентов.
package signaldesk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/signaldesk/internal/cache"
	"github.com/magabrotheeeer/signaldesk/internal/callback"
	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/lib/jwt"
	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/migrations"
	"github.com/magabrotheeeer/signaldesk/internal/persist"
	"github.com/magabrotheeeer/signaldesk/internal/realtime"
	authservice "github.com/magabrotheeeer/signaldesk/internal/services/auth"
	paymentservice "github.com/magabrotheeeer/signaldesk/internal/services/payment"
	"github.com/magabrotheeeer/signaldesk/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App HTTP API signaldesk.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *repository.Storage
	cache    *cache.Cache
	conn     *amqp.Connection
	ch       *amqp.Channel
	registry *coordinator.Registry
}

// New подключает зависимости и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.signaldesk.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	publisher := rabbitmq.NewPublisher(ch)

	authService := authservice.New(logger, authservice.Options{
		Users:     db,
		Tokens:    authservice.NewTokenStore(cacheRedis.Db),
		Maker:     jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Notifier:  publisher,
		Providers: authservice.NewSocialProviders(cfg.OAuth),
		CodeTTL:   cfg.CodeTTL,
		PublicURL: cfg.PublicURL,
	})

	source := realtime.NewRedisSource(logger, cacheRedis.Db)
	paymentService, err := paymentservice.New(logger, paymentservice.Options{
		Repo:     db,
		Cache:    cacheRedis,
		Updates:  source,
		Notifier: publisher,
		Plans:    cfg.Plans,
	})
	if err != nil {
		closeAll(logger, ch, conn, cacheRedis, db)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	registry := coordinator.NewRegistry(logger, coordinator.Deps{
		Auth:       authService,
		Hints:      db,
		Callback:   callback.New(logger, authService, cfg.RecentVerificationWindow),
		Store:      persist.NewRedisStore(cacheRedis.Db),
		Clearers:   []persist.Clearer{cacheRedis},
		Source:     source,
		Poller:     paymentService,
		Navigation: cfg.Navigation,
		Realtime:   cfg.Realtime,
	})

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Services{
		Registry: registry,
		Auth:     authService,
		Payments: paymentService,
		DB:       db,
		Cache:    cacheRedis,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
		conn:     conn,
		ch:       ch,
		registry: registry,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает сервер,
// координаторы и закрывает соединения.
func (a *App) Run(ctx context.Context) error {
	go a.registry.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		a.logger.Info("shutting down HTTP server gracefully")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(timeoutCtx); err != nil && runErr == nil {
		runErr = err
	}
	a.registry.Close(timeoutCtx)
	closeAll(a.logger, a.ch, a.conn, a.cache, a.db)
	return runErr
}

type closer interface {
	Close() error
}

func closeAll(log *slog.Logger, resources ...closer) {
	for _, r := range resources {
		if err := r.Close(); err != nil {
			log.Error("failed to close resource", sl.Err(err))
		}
	}
}
