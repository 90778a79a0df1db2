// Package register HTTP-обработчик регистрации.
package register

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/auth/authresult"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/session"
)

// Client описывает операцию регистрации координатора.
type Client interface {
	Register(ctx context.Context, reg session.Registration) (coordinator.View, session.Result, error)
}

// Handler обработчик регистрации.
type Handler struct {
	log      *slog.Logger
	clients  func(clientID string) (Client, error)
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, clients func(clientID string) (Client, error)) *Handler {
	return &Handler{
		log:      log,
		clients:  clients,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Регистрация пользователя
// @Description Создаёт пользователя и отправляет письмо со ссылкой подтверждения.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body session.Registration true "Данные регистрации"
// @Success 200 {object} response.Response{data=authresult.Payload}
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.Response{data=authresult.Payload} "Пользователь уже существует"
// @Failure 422 {object} response.ErrorResponse
// @Router /register [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req session.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	log.Info("request body decoded", slog.String("email", req.Email), slog.String("username", req.Username))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.Invalid(w, r, err)
		return
	}
	log.Info("all fields are validated")

	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, res, err := c.Register(r.Context(), req)
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}
	if res.Success {
		log.Info("user registered", slog.String("email", req.Email))
	}
	authresult.Write(w, r, v, res)
}
