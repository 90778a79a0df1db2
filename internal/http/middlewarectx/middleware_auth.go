// Package middlewarectx содержит HTTP middleware: идентификацию браузерного клиента,
// проверку сессии и роли администратора, ограничение частоты запросов.
//
// JWTMiddleware берёт токен из заголовка Authorization или cookie сессии,
// проверяет его через сервис авторизации и кладёт пользователя в контекст.
// В случае ошибки проверки возвращает HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/signaldesk/internal/http/response"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// User ключ пользователя (*models.User) в контексте
	User Key = "user"
	// Token ключ токена сессии в контексте
	Token Key = "token"
)

// Service описывает интерфейс сервиса для проверки сессии.
type Service interface {
	GetSession(ctx context.Context, token string) (*models.Session, error)
}

// JWTMiddleware возвращает HTTP middleware, который проверяет токен сессии.
//
// Если токен валиден, добавляет пользователя и токен в контекст запроса,
// иначе возвращает ошибку с HTTP статусом 401 Unauthorized.
func JWTMiddleware(authClient Service, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			tokenStr := SessionToken(r)
			if tokenStr == "" {
				log.Error("missing or invalid authorization header")
				response.Fail(w, r, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			sess, err := authClient.GetSession(r.Context(), tokenStr)
			if err != nil || sess == nil {
				log.Error("invalid or expired token", sl.Err(err))
				response.Fail(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if sess.User.Status == models.StatusBlocked {
				log.Warn("blocked account", slog.String("user_id", sess.User.ID))
				response.Fail(w, r, http.StatusForbidden, "account blocked")
				return
			}
			user := sess.User
			ctx := context.WithValue(r.Context(), User, &user)
			ctx = context.WithValue(ctx, Token, tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly пропускает только администраторов. Ставится после JWTMiddleware.
func AdminOnly(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFrom(r.Context())
			if user == nil || !user.IsAdmin() {
				log.Warn("admin access denied", slog.String("request_id", middleware.GetReqID(r.Context())))
				response.Fail(w, r, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFrom пользователь из контекста запроса.
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(User).(*models.User)
	return u
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}
