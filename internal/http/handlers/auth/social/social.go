// Package social HTTP-обработчики входа через Google и GitHub.
//
// Start перенаправляет на страницу согласия провайдера. Callback завершает вход
// и перенаправляет браузер на /auth/callback с одноразовым кодом, который
// обрабатывает координатор при загрузке вкладки.
package social

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/auth"
)

// Service социальный вход сервиса авторизации.
type Service interface {
	SocialStart(ctx context.Context, provider models.Provider) (string, error)
	SocialCallback(ctx context.Context, provider models.Provider, state, code string) (string, error)
}

// Handler обработчики OAuth.
type Handler struct {
	log *slog.Logger
	svc Service
	// loginURL страница входа фронтенда, куда возвращается пользователь после отказа
	loginURL string
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, svc Service, publicURL string) *Handler {
	return &Handler{log: log, svc: svc, loginURL: publicURL + "/login"}
}

// Start godoc
// @Summary Начало входа через провайдера
// @Tags Auth
// @Param provider path string true "google или github"
// @Success 302
// @Failure 404 {object} response.ErrorResponse
// @Router /auth/{provider}/start [get]
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.social.Start"
	provider := models.Provider(chi.URLParam(r, "provider"))
	log := h.log.With(
		slog.String("op", op),
		slog.String("provider", string(provider)),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	target, err := h.svc.SocialStart(r.Context(), provider)
	if errors.Is(err, auth.ErrUnknownProvider) {
		log.Warn("unknown provider")
		response.Fail(w, r, http.StatusNotFound, "unknown provider")
		return
	}
	if err != nil {
		log.Error("failed to start social login", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback godoc
// @Summary Возврат от провайдера
// @Tags Auth
// @Param provider path string true "google или github"
// @Param state query string true "OAuth state"
// @Param code query string false "Код авторизации"
// @Success 302
// @Router /auth/{provider}/callback [get]
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.social.Callback"
	provider := models.Provider(chi.URLParam(r, "provider"))
	log := h.log.With(
		slog.String("op", op),
		slog.String("provider", string(provider)),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Info("provider denied access", slog.String("error", e))
		h.back(w, r, "denied")
		return
	}

	target, err := h.svc.SocialCallback(r.Context(), provider, q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, auth.ErrUnknownProvider):
		log.Warn("unknown provider")
		response.Fail(w, r, http.StatusNotFound, "unknown provider")
		return
	case errors.Is(err, auth.ErrInvalidState):
		log.Warn("invalid oauth state", sl.Err(err))
		h.back(w, r, "state")
		return
	case err != nil:
		log.Error("social login failed", sl.Err(err))
		h.back(w, r, "failure")
		return
	}
	log.Info("social login completed")
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, h.loginURL+"?"+url.Values{"social_error": {reason}}.Encode(), http.StatusFound)
}
