package middlewarectx

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// ClientCookie cookie с идентификатором браузерного клиента.
	ClientCookie = "sd_client"
	// SessionCookie cookie с токеном сессии.
	SessionCookie = "sd_session"

	// TabHeader заголовок с идентификатором вкладки. Оболочка хранит его в sessionStorage.
	TabHeader = "X-Tab-ID"
	// TabQuery параметр с идентификатором вкладки для запросов, где нельзя задать заголовок.
	TabQuery = "tab"
	// DefaultTab вкладка запросов без идентификатора.
	DefaultTab = "main"

	// ClientID ключ идентификатора клиента в контексте.
	ClientID Key = "client_id"
	// TabID ключ идентификатора вкладки в контексте.
	TabID Key = "tab_id"

	clientCookieTTL = 365 * 24 * time.Hour
)

// ClientMiddleware находит клиента по cookie или выдаёт новый идентификатор.
// Вкладка определяется заголовком X-Tab-ID или параметром tab.
func ClientMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(ClientCookie); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					Expires:  time.Now().Add(clientCookieTTL),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := context.WithValue(r.Context(), ClientID, id)
			ctx = context.WithValue(ctx, TabID, tabOf(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFrom идентификатор клиента из контекста запроса.
func ClientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ClientID).(string)
	return id
}

func tabOf(r *http.Request) string {
	tab := r.Header.Get(TabHeader)
	if tab == "" {
		tab = r.URL.Query().Get(TabQuery)
	}
	if _, err := uuid.Parse(tab); err != nil {
		return DefaultTab
	}
	return tab
}

// TabIDFrom идентификатор вкладки из контекста запроса.
func TabIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(TabID).(string)
	if id == "" {
		return DefaultTab
	}
	return id
}

// PageKey ключ координатора вкладки: клиент и вкладка через "/".
// Пустой, если клиент не определён.
func PageKey(ctx context.Context) string {
	id := ClientIDFrom(ctx)
	if id == "" {
		return ""
	}
	return id + "/" + TabIDFrom(ctx)
}

// SessionToken токен сессии из заголовка Authorization или cookie.
func SessionToken(r *http.Request) string {
	if token, ok := bearer(r); ok {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// SetSession выставляет или удаляет cookie сессии. Пустой token удаляет cookie.
func SetSession(w http.ResponseWriter, r *http.Request, token string) {
	if token == "" {
		if _, err := r.Cookie(SessionCookie); err != nil {
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value == token {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
