// Package session следит за текущей сессией клиента и сообщает подписчикам о её изменениях.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/auth"
)

// AuthService операции сервиса авторизации, нужные наблюдателю.
type AuthService interface {
	Login(ctx context.Context, identifier, password string) (*models.Session, error)
	Register(ctx context.Context, email, username, password string) (*models.User, error)
	Logout(ctx context.Context, token string) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
}

// ErrorKind причина неудачного входа или регистрации.
type ErrorKind string

// Причины неудачи.
const (
	ErrorNone             ErrorKind = ""
	ErrorEmailNotFound    ErrorKind = "email_not_found"
	ErrorUsernameNotFound ErrorKind = "username_not_found"
	ErrorInvalidPassword  ErrorKind = "invalid_password"
	ErrorEmailNotVerified ErrorKind = "email_not_verified"
	ErrorUserExists       ErrorKind = "user_exists"
	ErrorFailure          ErrorKind = "failure"
)

// Result итог входа или регистрации.
type Result struct {
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Credentials данные формы входа. Identifier почта или имя пользователя.
type Credentials struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// Registration данные формы регистрации.
type Registration struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Listener получает новую сессию или nil после выхода.
type Listener func(*models.Session)

// Observer хранит текущую сессию одного клиента.
type Observer struct {
	log  *slog.Logger
	auth AuthService

	mu        sync.RWMutex
	current   *models.Session
	loading   bool
	listeners map[int]Listener
	nextID    int
}

// NewObserver создаёт наблюдатель без сессии.
func NewObserver(log *slog.Logger, authService AuthService) *Observer {
	return &Observer{
		log:       log,
		auth:      authService,
		listeners: make(map[int]Listener),
	}
}

// Current возвращает текущую сессию или nil.
func (o *Observer) Current() *models.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Loading сообщает, что идёт запрос к сервису авторизации.
func (o *Observer) Loading() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loading
}

// OnChange подписывает fn на изменения сессии и возвращает функцию отписки.
func (o *Observer) OnChange(fn Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Login входит по почте или имени пользователя.
func (o *Observer) Login(ctx context.Context, creds Credentials) Result {
	o.setLoading(true)
	defer o.setLoading(false)

	sess, err := o.auth.Login(ctx, creds.Identifier, creds.Password)
	if err != nil {
		kind := classify(err)
		if kind == ErrorFailure {
			o.log.Error("login failed", sl.Err(err))
		}
		return Result{ErrorKind: kind}
	}
	o.set(sess)
	return Result{Success: true}
}

// Register создаёт учётную запись. Сессия после регистрации не появляется,
// сначала нужно подтвердить почту.
func (o *Observer) Register(ctx context.Context, reg Registration) Result {
	o.setLoading(true)
	defer o.setLoading(false)

	if _, err := o.auth.Register(ctx, reg.Email, reg.Username, reg.Password); err != nil {
		kind := classify(err)
		if kind == ErrorFailure {
			o.log.Error("registration failed", sl.Err(err))
		}
		return Result{ErrorKind: kind}
	}
	return Result{Success: true}
}

// Logout отзывает сессию. Локально сессия сбрасывается даже при ошибке сервиса.
func (o *Observer) Logout(ctx context.Context) {
	sess := o.Current()
	if sess == nil {
		return
	}
	if err := o.auth.Logout(ctx, sess.Token); err != nil {
		o.log.Warn("failed to revoke session", sl.Err(err))
	}
	o.set(nil)
}

// Adopt принимает сессию, полученную при обработке редиректа.
func (o *Observer) Adopt(sess *models.Session) {
	o.set(sess)
}

// Restore восстанавливает сессию по токену из cookie.
func (o *Observer) Restore(ctx context.Context, token string) *models.Session {
	if token == "" {
		return nil
	}
	o.setLoading(true)
	defer o.setLoading(false)

	sess, err := o.auth.GetSession(ctx, token)
	if err != nil {
		if !isInvalidSession(err) {
			o.log.Warn("failed to restore session", sl.Err(err))
		}
		return nil
	}
	o.set(sess)
	return sess
}

// Refresh перечитывает пользователя текущей сессии. Отозванная сессия сбрасывается,
// при сетевой ошибке остаётся прежняя.
func (o *Observer) Refresh(ctx context.Context) *models.Session {
	sess := o.Current()
	if sess == nil {
		return nil
	}
	fresh, err := o.auth.GetSession(ctx, sess.Token)
	if err != nil {
		if isInvalidSession(err) {
			o.set(nil)
			return nil
		}
		o.log.Warn("failed to refresh session", sl.Err(err))
		return sess
	}
	// провайдер входа берём из исходной сессии
	if fresh.Provider == "" {
		fresh.Provider = sess.Provider
	}
	o.set(fresh)
	return fresh
}

func (o *Observer) set(sess *models.Session) {
	o.mu.Lock()
	o.current = sess
	listeners := make([]Listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		listeners = append(listeners, l)
	}
	o.mu.Unlock()

	for _, l := range listeners {
		l(sess)
	}
}

func (o *Observer) setLoading(v bool) {
	o.mu.Lock()
	o.loading = v
	o.mu.Unlock()
}

func isInvalidSession(err error) bool {
	return errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionRevoked)
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, auth.ErrEmailNotFound):
		return ErrorEmailNotFound
	case errors.Is(err, auth.ErrUsernameNotFound):
		return ErrorUsernameNotFound
	case errors.Is(err, auth.ErrInvalidPassword):
		return ErrorInvalidPassword
	case errors.Is(err, auth.ErrEmailNotVerified):
		return ErrorEmailNotVerified
	case errors.Is(err, auth.ErrUserExists):
		return ErrorUserExists
	default:
		return ErrorFailure
	}
}
