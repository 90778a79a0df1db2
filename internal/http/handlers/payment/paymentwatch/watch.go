// Package paymentwatch держит websocket, по которому браузер получает виды,
// изменившиеся без его запроса: проверка платежа, принудительный выход.
package paymentwatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
)

const (
	pingPeriod   = 45 * time.Second
	readDeadline = 90 * time.Second
	writeWait    = 10 * time.Second
)

// Client координатор клиента.
type Client interface {
	View(ctx context.Context) (coordinator.View, error)
	Subscribe() (<-chan coordinator.View, func())
	Done() <-chan struct{}
}

// Handler обработчик канала видов.
type Handler struct {
	log      *slog.Logger
	clients  func(clientID string) (Client, error)
	upgrader websocket.Upgrader
	ping     time.Duration
}

// New создаёт обработчик. origins пустой список разрешает только тот же хост.
func New(log *slog.Logger, clients func(clientID string) (Client, error), origins []string) *Handler {
	h := &Handler{
		log:     log,
		clients: clients,
		ping:    pingPeriod,
	}
	if len(origins) > 0 {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
	return h
}

// ServeHTTP godoc
// @Summary Канал видов
// @Description Websocket. Первым сообщением приходит текущий вид, дальше виды, изменившиеся на сервере.
// @Tags Payments
// @Param tab query string false "Идентификатор вкладки"
// @Success 101 {object} coordinator.View
// @Failure 400 {object} response.ErrorResponse "Нет идентификатора клиента"
// @Router /payments/watch [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.watch"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	c, ok := view.Lookup(w, r, log, h.clients)
	if !ok {
		return
	}
	// подписка до снимка, чтобы не потерять изменение между ними
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	current, err := c.View(r.Context())
	if err != nil {
		view.Fail(w, r, log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}
	defer conn.Close()
	log.Debug("view watcher connected")

	done := make(chan struct{})
	go h.read(conn, done)

	if err := write(conn, current); err != nil {
		log.Debug("failed to send view", sl.Err(err))
		return
	}

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case v := <-updates:
			if err := write(conn, v); err != nil {
				log.Debug("failed to send view", sl.Err(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "client expired"),
				time.Now().Add(writeWait))
			return
		case <-done:
			log.Debug("view watcher disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// read читает входящие сообщения только ради pong и закрытия соединения.
func (h *Handler) read(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func write(conn *websocket.Conn, v coordinator.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
