// Package logout HTTP-обработчик выхода.
package logout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
)

// Client описывает операцию выхода координатора.
type Client interface {
	Logout(ctx context.Context) (coordinator.View, error)
}

// Handler обработчик выхода.
type Handler struct {
	log     *slog.Logger
	clients func(clientID string) (Client, error)
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, clients func(clientID string) (Client, error)) *Handler {
	return &Handler{log: log, clients: clients}
}

// ServeHTTP godoc
// @Summary Выход
// @Description Отзывает сессию, закрывает канал статуса платежа и очищает хранилище клиента.
// @Tags Auth
// @Produce json
// @Success 200 {object} response.Response{data=coordinator.View}
// @Router /logout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	v, err := c.Logout(r.Context())
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}
	log.Info("logged out")
	middlewarectx.SetSession(w, r, "")
	view.Write(w, r, v)
}
