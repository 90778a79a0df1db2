// Package payment фиксирует заявки на оплату подписки и решения администратора по ним.
//
// Платёж проходит вручную: пользователь указывает способ и референс перевода,
// администратор подтверждает или отклоняет. Каждое решение уходит в канал
// реального времени пользователя и в очередь писем.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/signaldesk/internal/cache"
	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/metrics"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/storage/repository"
)

// listTTL время жизни кэша списка платежей пользователя.
const listTTL = 5 * time.Minute

// Repository хранилище платежей.
type Repository interface {
	CreatePayment(ctx context.Context, p models.Payment) (*models.Payment, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error)
	ListPendingPayments(ctx context.Context) ([]*models.Payment, error)
	ApprovePayment(ctx context.Context, id string, months int, at time.Time) (*models.Payment, *models.User, error)
	RejectPayment(ctx context.Context, id, reason string, at time.Time) (*models.Payment, *models.User, error)
}

// Cache JSON-кэш списков.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// UpdatePublisher канал реального времени.
type UpdatePublisher interface {
	Publish(ctx context.Context, update models.PaymentUpdate) error
}

// Notifier очередь писем.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// CreateRequest заявка пользователя.
type CreateRequest struct {
	PlanID    string               `json:"plan_id" validate:"required"`
	Method    models.PaymentMethod `json:"method" validate:"required"`
	Reference string               `json:"reference"`
	Amount    decimal.Decimal      `json:"amount"`
}

// Options зависимости сервиса.
type Options struct {
	Repo     Repository
	Cache    Cache
	Updates  UpdatePublisher
	Notifier Notifier
	Plans    []config.Plan
}

// Service сервис платежей.
type Service struct {
	log      *slog.Logger
	repo     Repository
	cache    Cache
	updates  UpdatePublisher
	notifier Notifier
	plans    []models.Plan
	byID     map[string]models.Plan
	now      func() time.Time
}

// New создаёт сервис. Цены планов разбираются здесь, ошибка в конфиге останавливает запуск.
func New(log *slog.Logger, opts Options) (*Service, error) {
	const op = "payment.New"
	s := &Service{
		log:      log,
		repo:     opts.Repo,
		cache:    opts.Cache,
		updates:  opts.Updates,
		notifier: opts.Notifier,
		byID:     make(map[string]models.Plan, len(opts.Plans)),
		now:      time.Now,
	}
	for _, p := range opts.Plans {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("%s: plan %s: %w", op, p.ID, err)
		}
		if p.Months <= 0 {
			return nil, fmt.Errorf("%s: plan %s: months must be positive", op, p.ID)
		}
		plan := models.Plan{ID: p.ID, Name: p.Name, Price: price, Months: p.Months}
		s.plans = append(s.plans, plan)
		s.byID[p.ID] = plan
	}
	return s, nil
}

// Plans тарифные планы в порядке конфига.
func (s *Service) Plans() []models.Plan {
	return append([]models.Plan(nil), s.plans...)
}

// Create записывает заявку. Сумма должна совпасть с ценой плана.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*models.Payment, error) {
	const op = "payment.Create"
	plan, ok := s.byID[req.PlanID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownPlan)
	}
	if req.Method != models.MethodPayPal && req.Method != models.MethodCrypto {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidMethod)
	}
	if !req.Amount.Equal(plan.Price) {
		return nil, fmt.Errorf("%s: %w", op, ErrAmountMismatch)
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = "SD-" + strings.ToUpper(uuid.NewString()[:8])
	}

	p, err := s.repo.CreatePayment(ctx, models.Payment{
		UserID:    userID,
		PlanID:    plan.ID,
		Method:    req.Method,
		Reference: reference,
		Amount:    plan.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("payment submitted",
		slog.String("payment_id", p.ID),
		slog.String("user_id", userID),
		slog.String("plan_id", plan.ID))

	s.invalidate(ctx, userID)
	s.publish(ctx, p)
	return p, nil
}

// List платежи пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Payment, error) {
	const op = "payment.List"
	key := cache.PaymentsKey(userID)

	var cached []*models.Payment
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("failed to read payments from cache", sl.Err(err))
	}
	if found {
		return cached, nil
	}

	list, err := s.repo.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if list == nil {
		list = []*models.Payment{}
	}
	if err := s.cache.Set(ctx, key, list, listTTL); err != nil {
		s.log.Warn("failed to cache payments", sl.Err(err))
	}
	return list, nil
}

// Pending платежи, ожидающие проверки.
func (s *Service) Pending(ctx context.Context) ([]*models.Payment, error) {
	const op = "payment.Pending"
	list, err := s.repo.ListPendingPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Approve подтверждает платёж и продлевает подписку на срок плана.
func (s *Service) Approve(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "payment.Approve"
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	plan, ok := s.byID[p.PlanID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownPlan)
	}
	p, u, err := s.repo.ApprovePayment(ctx, paymentID, plan.Months, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	s.reviewed(ctx, p, u, plan)
	return p, nil
}

// Reject отклоняет платёж. reason увидит пользователь.
func (s *Service) Reject(ctx context.Context, paymentID, reason string) (*models.Payment, error) {
	const op = "payment.Reject"
	p, u, err := s.repo.RejectPayment(ctx, paymentID, strings.TrimSpace(reason), s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	s.reviewed(ctx, p, u, s.byID[p.PlanID])
	return p, nil
}

// PaymentStatus текущий статус платежа пользователя. Пустой paymentID означает последний платёж.
func (s *Service) PaymentStatus(ctx context.Context, userID, paymentID string) (models.PaymentUpdate, error) {
	const op = "payment.PaymentStatus"
	var p *models.Payment
	if paymentID != "" {
		got, err := s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return models.PaymentUpdate{}, fmt.Errorf("%s: %w", op, mapErr(err))
		}
		if got.UserID != userID {
			return models.PaymentUpdate{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		p = got
	} else {
		list, err := s.repo.ListPaymentsByUser(ctx, userID)
		if err != nil {
			return models.PaymentUpdate{}, fmt.Errorf("%s: %w", op, err)
		}
		if len(list) == 0 {
			return models.PaymentUpdate{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		p = list[0]
	}
	return updateOf(p), nil
}

func (s *Service) reviewed(ctx context.Context, p *models.Payment, u *models.User, plan models.Plan) {
	s.log.Info("payment reviewed",
		slog.String("payment_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("status", string(p.Status)))
	metrics.RecordPaymentReview(string(p.Status))

	s.invalidate(ctx, p.UserID)
	s.publish(ctx, p)

	if u == nil || s.notifier == nil {
		return
	}
	n := models.Notification{
		Kind:      models.NotifyPaymentApproved,
		Email:     u.Email,
		Username:  u.Username,
		PlanName:  plan.Name,
		ExpiresAt: u.SubscriptionExpiry,
	}
	if p.Status == models.PaymentRejected {
		n.Kind = models.NotifyPaymentRejected
		n.Reason = p.RejectReason
		n.ExpiresAt = nil
	}
	if err := s.notifier.Publish(rabbitmq.RoutingPayment, n); err != nil {
		s.log.Error("failed to publish payment notification", slog.String("payment_id", p.ID), sl.Err(err))
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, cache.PaymentsKey(userID)); err != nil {
		s.log.Warn("failed to invalidate payments cache", sl.Err(err))
	}
}

// publish отправляет статус в канал пользователя. Клиент без канала узнает его опросом.
func (s *Service) publish(ctx context.Context, p *models.Payment) {
	if s.updates == nil {
		return
	}
	if err := s.updates.Publish(ctx, updateOf(p)); err != nil {
		s.log.Warn("failed to publish payment update", slog.String("payment_id", p.ID), sl.Err(err))
	}
}

func updateOf(p *models.Payment) models.PaymentUpdate {
	return models.PaymentUpdate{
		PaymentID: p.ID,
		UserID:    p.UserID,
		Status:    p.Status,
		Reason:    p.RejectReason,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrAlreadyReviewed):
		return ErrAlreadyReviewed
	}
	return err
}
