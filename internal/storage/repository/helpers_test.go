package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/signaldesk/internal/migrations"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	require.NoError(t, migrations.Run(storage.DB))
	return storage
}

// createUser создаёт пользователя с разумными значениями по умолчанию.
func createUser(t *testing.T, s *Storage, email, username string, mutate ...func(*models.User)) string {
	t.Helper()
	u := models.User{
		Email:              email,
		Username:           username,
		PasswordHash:       "hash",
		Role:               models.RoleTrader,
		Status:             models.StatusPending,
		SubscriptionStatus: models.SubscriptionNone,
		RedirectHint:       "verify_email",
		Provider:           models.ProviderEmail,
	}
	for _, m := range mutate {
		m(&u)
	}
	id, err := s.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return id
}
