// Package checkout HTTP-обработчики оформления подписки: список тарифов,
// выбор тарифа, данные пользователя и шаг назад.
package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// Client шаги оформления в координаторе.
type Client interface {
	SelectPlan(ctx context.Context, planID string) (coordinator.View, error)
	SubmitUserInfo(ctx context.Context, info viewstate.UserInfo) (coordinator.View, error)
	StepBack(ctx context.Context) (coordinator.View, error)
}

// Catalog тарифные планы.
type Catalog interface {
	Plans() []models.Plan
}

// PlanRequest выбор тарифа.
type PlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// UserInfoRequest данные пользователя перед оплатой.
type UserInfoRequest struct {
	FullName string `json:"full_name" validate:"required,max=128"`
	Phone    string `json:"phone" validate:"max=32"`
	Country  string `json:"country" validate:"required,max=64"`
}

// Handler обработчики оформления подписки.
type Handler struct {
	log      *slog.Logger
	clients  func(clientID string) (Client, error)
	catalog  Catalog
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, clients func(clientID string) (Client, error), catalog Catalog) *Handler {
	return &Handler{
		log:      log,
		clients:  clients,
		catalog:  catalog,
		validate: validator.New(),
	}
}

// Plans godoc
// @Summary Тарифные планы
// @Tags Subscription
// @Produce json
// @Success 200 {object} response.Response{data=[]models.Plan}
// @Router /plans [get]
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(h.catalog.Plans()))
}

// SelectPlan godoc
// @Summary Выбор тарифа
// @Tags Subscription
// @Accept json
// @Produce json
// @Param request body PlanRequest true "Тариф"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 404 {object} response.ErrorResponse "Неизвестный тариф"
// @Failure 422 {object} response.ErrorResponse
// @Router /subscription/plan [post]
func (h *Handler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.SelectPlan"
	log := h.logger(r, op)

	var req PlanRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	if !h.known(req.PlanID) {
		log.Warn("unknown plan", slog.String("plan_id", req.PlanID))
		response.Fail(w, r, http.StatusNotFound, "unknown plan")
		return
	}
	h.run(w, r, log, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.SelectPlan(ctx, req.PlanID)
	})
}

// UserInfo godoc
// @Summary Данные пользователя
// @Tags Subscription
// @Accept json
// @Produce json
// @Param request body UserInfoRequest true "Данные"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /subscription/userinfo [post]
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.checkout.UserInfo"
	log := h.logger(r, op)

	var req UserInfoRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	h.run(w, r, log, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.SubmitUserInfo(ctx, viewstate.UserInfo{
			FullName: req.FullName,
			Phone:    req.Phone,
			Country:  req.Country,
		})
	})
}

// Back godoc
// @Summary Шаг назад в оформлении
// @Tags Subscription
// @Produce json
// @Success 200 {object} response.Response{data=coordinator.View}
// @Router /subscription/back [post]
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.checkout.Back")
	h.run(w, r, log, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.StepBack(ctx)
	})
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.Invalid(w, r, err)
		return false
	}
	return true
}

func (h *Handler) known(planID string) bool {
	for _, p := range h.catalog.Plans() {
		if p.ID == planID {
			return true
		}
	}
	return false
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, log *slog.Logger,
	call func(ctx context.Context, c Client) (coordinator.View, error)) {
	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, err := call(r.Context(), c)
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}
	view.Write(w, r, v)
}
