// Package paymentlist отдаёт платежи текущего пользователя.
package paymentlist

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Service список платежей пользователя.
type Service interface {
	List(ctx context.Context, userID string) ([]*models.Payment, error)
}

// Handler обработчик списка платежей.
type Handler struct {
	log            *slog.Logger // Логгер для записи информации и ошибок
	paymentService Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, ps Service) *Handler {
	return &Handler{
		log:            log,
		paymentService: ps,
	}
}

// ServeHTTP godoc
// @Summary Мои платежи
// @Tags Payments
// @Produce json
// @Success 200 {object} response.Response{data=map[string]any}
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /payments [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.list"
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

	payments, err := h.paymentService.List(r.Context(), user.ID)
	if err != nil {
		log.Error("failed to list payments", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info("list payments", "count", len(payments))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"list_count": len(payments),
		"payments":   payments,
	}))
}
