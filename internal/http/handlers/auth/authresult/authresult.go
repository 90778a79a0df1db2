// Package authresult общий ответ обработчиков входа и регистрации.
package authresult

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/session"
)

// Payload данные ответа: итог операции и вид, который рисует браузер.
type Payload struct {
	Result session.Result   `json:"result"`
	View   coordinator.View `json:"view"`
}

// Status HTTP-статус для причины неудачи.
func Status(kind session.ErrorKind) int {
	switch kind {
	case session.ErrorNone:
		return http.StatusOK
	case session.ErrorEmailNotFound, session.ErrorUsernameNotFound, session.ErrorInvalidPassword:
		return http.StatusUnauthorized
	case session.ErrorEmailNotVerified:
		return http.StatusForbidden
	case session.ErrorUserExists:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// Write отдаёт итог вместе с видом. При неудаче вид несёт сообщение для формы.
func Write(w http.ResponseWriter, r *http.Request, v coordinator.View, res session.Result) {
	if v.SessionToken != "" {
		middlewarectx.SetSession(w, r, v.SessionToken)
	}
	payload := Payload{Result: res, View: v}
	if res.Success {
		render.JSON(w, r, response.OKWithData(payload))
		return
	}
	render.Status(r, Status(res.ErrorKind))
	render.JSON(w, r, response.Response{
		Status: response.StatusError,
		Error:  string(res.ErrorKind),
		Data:   payload,
	})
}
