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

const paymentColumns = `id, user_id, plan_id, method, reference, amount, status, reject_reason,
	created_at, reviewed_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	var reviewedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Method, &p.Reference, &p.Amount,
		&p.Status, &p.RejectReason, &p.CreatedAt, &reviewedAt); err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		p.ReviewedAt = &reviewedAt.Time
	}
	return p, nil
}

func (s *Storage) queryPayments(ctx context.Context, op, query string, args ...any) ([]*models.Payment, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CreatePayment сохраняет платёж и переводит подписку пользователя в ожидание проверки.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) (*models.Payment, error) {
	const op = "storage.CreatePayment"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var created *models.Payment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanPayment(tx.QueryRowContext(ctx,
			`INSERT INTO payments (id, user_id, plan_id, method, reference, amount, status)
			  VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			  RETURNING `+paymentColumns,
			uuid.NewString(), p.UserID, p.PlanID, p.Method, p.Reference, p.Amount))
		if err != nil {
			return err
		}
		hint := "review"
		if p.Method.AwaitsConfirmation() {
			hint = "pending"
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET subscription_status = 'pending', redirect_hint = $2
			  WHERE id = $1 AND subscription_status <> 'active'`, p.UserID, hint)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetPayment возвращает платёж по ID.
func (s *Storage) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	const op = "storage.GetPayment"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	p, err := scanPayment(s.DB.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ListPaymentsByUser возвращает платежи пользователя, новые первыми.
func (s *Storage) ListPaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	return s.queryPayments(ctx, "storage.ListPaymentsByUser",
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListPendingPayments возвращает платежи, ожидающие проверки, старые первыми.
func (s *Storage) ListPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	return s.queryPayments(ctx, "storage.ListPendingPayments",
		`SELECT `+paymentColumns+` FROM payments WHERE status = 'pending' ORDER BY created_at`)
}

// ApprovePayment подтверждает платёж и продлевает подписку на months месяцев.
func (s *Storage) ApprovePayment(ctx context.Context, id string, months int, at time.Time) (*models.Payment, *models.User, error) {
	const op = "storage.ApprovePayment"
	p, u, err := s.review(ctx, id, at, models.PaymentApproved, "",
		`UPDATE users SET
			  subscription_status = 'active',
			  status = 'active',
			  redirect_hint = '',
			  subscription_expiry = GREATEST(COALESCE(subscription_expiry, $2), $2) + make_interval(months => $3)
		  WHERE id = $1 RETURNING `+userColumns, at, months)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, u, nil
}

// RejectPayment отклоняет платёж с причиной и возвращает пользователя на шаг оплаты.
func (s *Storage) RejectPayment(ctx context.Context, id, reason string, at time.Time) (*models.Payment, *models.User, error) {
	const op = "storage.RejectPayment"
	p, u, err := s.review(ctx, id, at, models.PaymentRejected, reason,
		`UPDATE users SET
			  subscription_status = CASE WHEN subscription_status = 'active' THEN 'active' ELSE 'rejected' END,
			  redirect_hint = CASE WHEN subscription_status = 'active' THEN redirect_hint ELSE 'payment' END
		  WHERE id = $1 RETURNING `+userColumns)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, u, nil
}

// review меняет статус ожидающего платежа и обновляет пользователя запросом userQuery.
// Первый параметр userQuery всегда ID пользователя.
func (s *Storage) review(ctx context.Context, id string, at time.Time, status models.PaymentStatus,
	reason, userQuery string, userArgs ...any) (*models.Payment, *models.User, error) {
	if err := checkCtx(ctx, "storage.review"); err != nil {
		return nil, nil, err
	}

	var (
		payment *models.Payment
		user    *models.User
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		payment, err = scanPayment(tx.QueryRowContext(ctx,
			`UPDATE payments SET status = $2, reject_reason = $3, reviewed_at = $4
			  WHERE id = $1 AND status = 'pending'
			  RETURNING `+paymentColumns, id, status, reason, at))
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if qErr := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).
				Scan(&exists); qErr != nil {
				return qErr
			}
			if exists {
				return ErrAlreadyReviewed
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		user, err = scanUser(tx.QueryRowContext(ctx, userQuery, append([]any{payment.UserID}, userArgs...)...))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, user, nil
}
