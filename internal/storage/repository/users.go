package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/signaldesk/internal/models"
)

const userColumns = `id, email, username, password_hash, role, status, subscription_status,
	redirect_hint, email_verified, email_confirmed_at, provider, subscription_expiry, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var confirmedAt, expiry sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Status,
		&u.SubscriptionStatus, &u.RedirectHint, &u.EmailVerified, &confirmedAt, &u.Provider,
		&expiry, &u.CreatedAt); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		u.EmailConfirmedAt = &confirmedAt.Time
	}
	if expiry.Valid {
		u.SubscriptionExpiry = &expiry.Time
	}
	return u, nil
}

func (s *Storage) queryUser(ctx context.Context, op, query string, args ...any) (*models.User, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя и возвращает его ID.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (string, error) {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	id := uuid.NewString()
	query := `INSERT INTO users (id, email, username, password_hash, role, status,
			      subscription_status, redirect_hint, email_verified, provider)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.DB.ExecContext(ctx, query, id, user.Email, user.Username, user.PasswordHash,
		user.Role, user.Status, user.SubscriptionStatus, user.RedirectHint, user.EmailVerified, user.Provider)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%s: %w", op, ErrUserExists)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetUser возвращает пользователя по ID.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.queryUser(ctx, "storage.GetUser",
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByEmail возвращает пользователя по почте без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, "storage.GetUserByEmail",
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// GetUserByUsername возвращает пользователя по username.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.queryUser(ctx, "storage.GetUserByUsername",
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// UpsertSocialUser создаёт пользователя социального входа или обновляет существующего
// с той же почтой. Почта у провайдера уже подтверждена.
func (s *Storage) UpsertSocialUser(ctx context.Context, user models.User) (*models.User, error) {
	return s.queryUser(ctx, "storage.UpsertSocialUser",
		`INSERT INTO users (id, email, username, role, status, subscription_status, redirect_hint,
			      email_verified, email_confirmed_at, provider)
		  VALUES ($1, $2, $3, $4, 'active', $5, $6, TRUE, NOW(), $7)
		  ON CONFLICT (email) DO UPDATE SET
			  provider = EXCLUDED.provider,
			  email_verified = TRUE,
			  email_confirmed_at = COALESCE(users.email_confirmed_at, EXCLUDED.email_confirmed_at),
			  status = CASE WHEN users.status = 'pending' THEN 'active' ELSE users.status END
		  RETURNING `+userColumns,
		uuid.NewString(), user.Email, user.Username, user.Role, user.SubscriptionStatus,
		user.RedirectHint, user.Provider)
}

// ConfirmEmail отмечает момент подтверждения почты по ссылке из письма.
func (s *Storage) ConfirmEmail(ctx context.Context, id string, at time.Time) (*models.User, error) {
	return s.queryUser(ctx, "storage.ConfirmEmail",
		`UPDATE users SET email_confirmed_at = COALESCE(email_confirmed_at, $2)
		  WHERE id = $1 RETURNING `+userColumns, id, at)
}

// MarkEmailVerified переносит подтверждение почты в запись пользователя
// и снимает подсказку о подтверждении.
func (s *Storage) MarkEmailVerified(ctx context.Context, id string) (*models.User, error) {
	return s.queryUser(ctx, "storage.MarkEmailVerified",
		`UPDATE users SET
			  email_verified = TRUE,
			  email_confirmed_at = COALESCE(email_confirmed_at, NOW()),
			  status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
			  redirect_hint = CASE WHEN redirect_hint IN ('verify_email', 'email_verification')
			                       THEN 'plans' ELSE redirect_hint END
		  WHERE id = $1 RETURNING `+userColumns, id)
}

// UpdateRedirectHint сохраняет шаг, на который нужно вернуть пользователя.
func (s *Storage) UpdateRedirectHint(ctx context.Context, id, hint string) error {
	const op = "storage.UpdateRedirectHint"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET redirect_hint = $2 WHERE id = $1`, id, hint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ExpireSubscriptions переводит подписки, истёкшие к моменту now, в expired
// и возвращает затронутых пользователей.
func (s *Storage) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.ExpireSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`UPDATE users SET subscription_status = 'expired', redirect_hint = 'plans'
		  WHERE subscription_status = 'active' AND role <> 'admin'
		    AND subscription_expiry IS NOT NULL AND subscription_expiry < $1
		  RETURNING `+userColumns, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
