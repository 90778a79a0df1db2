// Package login реализует HTTP-обработчик входа пользователя.
//
// Вход выполняется через координатор клиента: при успехе сессия попадает в cookie,
// а вид переходит на дашборд или на страницу, которую требует gate. При ошибке
// вид содержит сообщение для формы входа.
package login

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

// Client описывает операцию входа координатора.
type Client interface {
	Login(ctx context.Context, creds session.Credentials) (coordinator.View, session.Result, error)
}

// Handler обрабатывает HTTP-запросы для авторизации.
type Handler struct {
	log      *slog.Logger                          // Логгер для записи операций и ошибок
	clients  func(clientID string) (Client, error) // Поиск координатора клиента
	validate *validator.Validate                   // Валидатор для проверки входных данных
}

// New создает новый экземпляр Handler.
//
// Инициализирует валидатор для проверки структур.
func New(log *slog.Logger, clients func(clientID string) (Client, error)) *Handler {
	return &Handler{
		log:      log,
		clients:  clients,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Авторизация пользователя
// @Description Вход по почте или имени пользователя. Токен сессии выставляется в cookie.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body session.Credentials true "Учетные данные пользователя"
// @Success 200 {object} response.Response{data=authresult.Payload} "Успешная авторизация"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.Response{data=authresult.Payload} "Неверные учетные данные"
// @Failure 403 {object} response.Response{data=authresult.Payload} "Почта не подтверждена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req session.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	log.Info("request body decoded", slog.String("identifier", req.Identifier))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.Invalid(w, r, err)
		return
	}

	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, res, err := c.Login(r.Context(), req)
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}
	if !res.Success {
		log.Info("login failed", slog.String("kind", string(res.ErrorKind)))
	} else {
		log.Info("login success", slog.String("identifier", req.Identifier))
	}
	authresult.Write(w, r, v, res)
}
