// Package view HTTP-обработчики экранов клиента: загрузка вкладки, навигация,
// переходы по истории браузера, оверлеи и вкладки дашборда.
//
// Каждый ответ содержит вид, который рисует браузер, и директивы для истории.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/history"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// Client операции координатора, нужные обработчикам экранов.
type Client interface {
	Boot(ctx context.Context, req coordinator.BootRequest) (coordinator.View, error)
	View(ctx context.Context) (coordinator.View, error)
	Navigate(ctx context.Context, path string) (coordinator.View, error)
	FooterNavigate(ctx context.Context, page string) (coordinator.View, error)
	Pop(ctx context.Context, e history.Entry) (coordinator.View, error)
	Overlay(ctx context.Context, o viewstate.Overlay, visible bool) (coordinator.View, error)
	SetTab(ctx context.Context, tab string) (coordinator.View, error)
	DismissNotice(ctx context.Context) (coordinator.View, error)
}

// NavigateRequest запрос app-navigate.
type NavigateRequest struct {
	Path string `json:"path" validate:"required"`
}

// FooterRequest переход из подвала.
type FooterRequest struct {
	Page string `json:"page" validate:"required,oneof=terms contact about"`
}

// PopRequest запись истории, на которую перешёл браузер.
type PopRequest struct {
	Path  string              `json:"path" validate:"required"`
	State history.EntryState `json:"state"`
}

// OverlayRequest показать или скрыть панель.
type OverlayRequest struct {
	Name    string `json:"name" validate:"required,oneof=settings referral data-source"`
	Visible bool   `json:"visible"`
}

// TabRequest выбор вкладки дашборда.
type TabRequest struct {
	Tab string `json:"tab" validate:"required,max=64"`
}

// Handler обработчики экранов.
type Handler struct {
	log      *slog.Logger
	clients  func(clientID string) (Client, error)
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
// clients находит координатор по идентификатору клиента.
func New(log *slog.Logger, clients func(clientID string) (Client, error)) *Handler {
	return &Handler{
		log:      log,
		clients:  clients,
		validate: validator.New(),
	}
}

// Boot godoc
// @Summary Загрузка вкладки
// @Description Восстанавливает сессию и сохранённые поля, обрабатывает /auth/callback и выравнивает адрес.
// @Tags View
// @Accept json
// @Produce json
// @Param request body coordinator.BootRequest true "Адрес и состояние записи истории"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /boot [post]
func (h *Handler) Boot(w http.ResponseWriter, r *http.Request) {
	var req coordinator.BootRequest
	h.handle(w, r, "handlers.view.Boot", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		req.Token = middlewarectx.SessionToken(r)
		return c.Boot(ctx, req)
	})
}

// Get godoc
// @Summary Текущий вид
// @Tags View
// @Produce json
// @Success 200 {object} response.Response{data=coordinator.View}
// @Router /view [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "handlers.view.Get", nil, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.View(ctx)
	})
}

// Navigate godoc
// @Summary Навигация внутри приложения
// @Tags View
// @Accept json
// @Produce json
// @Param request body NavigateRequest true "Путь"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /navigate [post]
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	h.handle(w, r, "handlers.view.Navigate", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.Navigate(ctx, req.Path)
	})
}

// FooterNavigate godoc
// @Summary Переход на информационную страницу
// @Tags View
// @Accept json
// @Produce json
// @Param request body FooterRequest true "Страница"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /footer-navigate [post]
func (h *Handler) FooterNavigate(w http.ResponseWriter, r *http.Request) {
	var req FooterRequest
	h.handle(w, r, "handlers.view.FooterNavigate", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.FooterNavigate(ctx, req.Page)
	})
}

// Pop godoc
// @Summary Переход назад или вперёд в истории браузера
// @Tags View
// @Accept json
// @Produce json
// @Param request body PopRequest true "Запись истории"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /history/pop [post]
func (h *Handler) Pop(w http.ResponseWriter, r *http.Request) {
	var req PopRequest
	h.handle(w, r, "handlers.view.Pop", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.Pop(ctx, history.Entry{Path: req.Path, State: req.State})
	})
}

// Overlay godoc
// @Summary Показать или скрыть панель
// @Tags View
// @Accept json
// @Produce json
// @Param request body OverlayRequest true "Панель"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /overlay [post]
func (h *Handler) Overlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayRequest
	h.handle(w, r, "handlers.view.Overlay", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.Overlay(ctx, viewstate.Overlay(req.Name), req.Visible)
	})
}

// Tab godoc
// @Summary Выбор вкладки дашборда
// @Tags View
// @Accept json
// @Produce json
// @Param request body TabRequest true "Вкладка"
// @Success 200 {object} response.Response{data=coordinator.View}
// @Failure 422 {object} response.ErrorResponse
// @Router /tab [post]
func (h *Handler) Tab(w http.ResponseWriter, r *http.Request) {
	var req TabRequest
	h.handle(w, r, "handlers.view.Tab", &req, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.SetTab(ctx, req.Tab)
	})
}

// DismissNotice godoc
// @Summary Закрыть сообщение
// @Tags View
// @Produce json
// @Success 200 {object} response.Response{data=coordinator.View}
// @Router /notice/dismiss [post]
func (h *Handler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "handlers.view.DismissNotice", nil, func(ctx context.Context, c Client) (coordinator.View, error) {
		return c.DismissNotice(ctx)
	})
}

// handle декодирует и проверяет тело в req (nil для запросов без тела),
// находит координатор клиента и отдаёт вид.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, op string, req any,
	call func(ctx context.Context, c Client) (coordinator.View, error)) {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if req != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))
			response.Fail(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			log.Error("validation failed", sl.Err(err))
			response.Invalid(w, r, err)
			return
		}
	}

	c, ok := Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, err := call(r.Context(), c)
	if err != nil {
		Fail(w, r, log, err)
		return
	}
	Write(w, r, v)
}

// Lookup координатор вкладки из запроса. При ошибке ответ уже записан.
func Lookup[C any](w http.ResponseWriter, r *http.Request, log *slog.Logger, clients func(string) (C, error)) (C, bool) {
	var zero C
	id := middlewarectx.PageKey(r.Context())
	if id == "" {
		log.Error("client id missing")
		response.Fail(w, r, http.StatusBadRequest, "client id missing")
		return zero, false
	}
	c, err := clients(id)
	if err != nil {
		Fail(w, r, log, err)
		return zero, false
	}
	return c, true
}

// Fail пишет ошибку координатора.
func Fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if errors.Is(err, coordinator.ErrClosed) {
		log.Warn("coordinator unavailable", sl.Err(err))
		response.Fail(w, r, http.StatusServiceUnavailable, "service is shutting down")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("request cancelled", sl.Err(err))
		response.Fail(w, r, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	log.Error("coordinator call failed", sl.Err(err))
	response.Fail(w, r, http.StatusInternalServerError, "internal error")
}

// Write отдаёт вид. Новый токен сессии уходит в cookie, удаляет cookie только выход.
func Write(w http.ResponseWriter, r *http.Request, v coordinator.View) {
	if v.SessionToken != "" {
		middlewarectx.SetSession(w, r, v.SessionToken)
	}
	render.JSON(w, r, response.OKWithData(v))
}
