// Package review обработчики администратора для проверки платежей.
//
// Решение записывается в базу, пользователь получает письмо, а его открытые
// вкладки узнают о решении через канал реального времени.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/payment"
)

// Service проверка платежей.
type Service interface {
	Pending(ctx context.Context) ([]*models.Payment, error)
	Approve(ctx context.Context, paymentID string) (*models.Payment, error)
	Reject(ctx context.Context, paymentID, reason string) (*models.Payment, error)
}

// RejectRequest причина отклонения, её увидит пользователь.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

// Handler обработчики проверки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Pending godoc
// @Summary Платежи на проверке
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response{data=map[string]any}
// @Failure 403 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /admin/payments [get]
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.review.Pending"
	log := h.logger(r, op)

	payments, err := h.service.Pending(r.Context())
	if err != nil {
		log.Error("failed to list pending payments", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"list_count": len(payments),
		"payments":   payments,
	}))
}

// Approve godoc
// @Summary Подтвердить платёж
// @Tags Admin
// @Produce json
// @Param id path string true "ID платежа"
// @Success 200 {object} response.Response{data=models.Payment}
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Платёж уже проверен"
// @Security BearerAuth
// @Router /admin/payments/{id}/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.review.Approve"
	log := h.logger(r, op)

	id, ok := h.paymentID(w, r, log)
	if !ok {
		return
	}
	p, err := h.service.Approve(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	log.Info("payment approved", slog.String("payment_id", id))
	render.JSON(w, r, response.OKWithData(p))
}

// Reject godoc
// @Summary Отклонить платёж
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "ID платежа"
// @Param request body RejectRequest true "Причина"
// @Success 200 {object} response.Response{data=models.Payment}
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Платёж уже проверен"
// @Failure 422 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /admin/payments/{id}/reject [post]
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.review.Reject"
	log := h.logger(r, op)

	id, ok := h.paymentID(w, r, log)
	if !ok {
		return
	}
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Invalid(w, r, err)
		return
	}

	p, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	log.Info("payment rejected", slog.String("payment_id", id))
	render.JSON(w, r, response.OKWithData(p))
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := h.validate.Var(id, "required,uuid"); err != nil {
		log.Warn("invalid payment id", slog.String("id", id))
		response.Fail(w, r, http.StatusBadRequest, "invalid payment id")
		return "", false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, payment.ErrNotFound):
		response.Fail(w, r, http.StatusNotFound, "payment not found")
	case errors.Is(err, payment.ErrAlreadyReviewed):
		response.Fail(w, r, http.StatusConflict, "payment already reviewed")
	default:
		log.Error("failed to review payment", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error")
	}
}
