// Package paymentcreate обрабатывает создание заявки на оплату подписки.
//
// Платёж только фиксируется: способ оплаты и референс сохраняются, деньги
// проверяет администратор. После записи координатор клиента переводит
// оформление на экран ожидания проверки.
package paymentcreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/payment"
)

// Request представляет заявку на оплату.
type Request struct {
	PlanID    string          `json:"plan_id" validate:"required"`
	Method    string          `json:"method" validate:"required,oneof=paypal crypto"`
	Reference string          `json:"reference" validate:"max=128"`
	Amount    decimal.Decimal `json:"amount" swaggertype:"string" example:"29.99"`
}

// Service определяет интерфейс для работы с платежами.
type Service interface {
	Create(ctx context.Context, userID string, req payment.CreateRequest) (*models.Payment, error)
}

// Client координатор клиента.
type Client interface {
	PaymentSubmitted(ctx context.Context, paymentID string, pending bool) (coordinator.View, error)
}

// Result платёж и вид после его записи.
type Result struct {
	Payment *models.Payment  `json:"payment"`
	View    coordinator.View `json:"view"`
}

// Handler обрабатывает запросы на создание платежей.
type Handler struct {
	log            *slog.Logger // Логгер для записи информации и ошибок
	paymentService Service
	clients        func(clientID string) (Client, error)
	validate       *validator.Validate // Валидатор структуры входящих данных
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, ps Service, clients func(clientID string) (Client, error)) *Handler {
	return &Handler{
		log:            log,
		paymentService: ps,
		clients:        clients,
		validate:       validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать платеж
// @Description Записывает заявку на оплату тарифа. Сумма должна совпасть с ценой тарифа.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Данные платежа"
// @Success 201 {object} response.Response{data=Result} "Платёж записан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет сессии"
// @Failure 404 {object} response.ErrorResponse "Неизвестный тариф"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Security BearerAuth
// @Router /payments [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user := middlewarectx.UserFrom(r.Context())
	if user == nil {
		log.Error("user not found in context")
		response.Fail(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.Invalid(w, r, err)
		return
	}

	method := models.PaymentMethod(req.Method)
	p, err := h.paymentService.Create(r.Context(), user.ID, payment.CreateRequest{
		PlanID:    req.PlanID,
		Method:    method,
		Reference: req.Reference,
		Amount:    req.Amount,
	})
	switch {
	case errors.Is(err, payment.ErrUnknownPlan):
		log.Warn("unknown plan", slog.String("plan_id", req.PlanID))
		response.Fail(w, r, http.StatusNotFound, "unknown plan")
		return
	case errors.Is(err, payment.ErrAmountMismatch):
		log.Warn("amount mismatch", slog.String("amount", req.Amount.String()))
		response.Fail(w, r, http.StatusUnprocessableEntity, "amount does not match plan price")
		return
	case errors.Is(err, payment.ErrInvalidMethod):
		response.Fail(w, r, http.StatusUnprocessableEntity, "unsupported payment method")
		return
	case err != nil:
		log.Error("failed to create payment", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	log.Info("payment created", slog.String("payment_id", p.ID))

	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, err := c.PaymentSubmitted(r.Context(), p.ID, method.AwaitsConfirmation())
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(Result{Payment: p, View: v}))
}
