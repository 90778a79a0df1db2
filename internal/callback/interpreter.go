// Package callback обрабатывает возврат пользователя от провайдера авторизации
// или по ссылке из письма: обменивает код на сессию и решает, какой экран показать.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/metrics"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/auth"
)

// Exchanger операции сервиса авторизации, нужные для обмена.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (*models.Session, error)
	GetSession(ctx context.Context, token string) (*models.Session, error)
	MarkEmailVerified(ctx context.Context, userID string) (*models.User, error)
}

// Outcome итог обработки адреса.
type Outcome string

// Итоги обработки.
const (
	OutcomeNone           Outcome = "none"
	OutcomeSocial         Outcome = "social"
	OutcomeEmailVerified  Outcome = "email-verified"
	OutcomeAlreadyHandled Outcome = "already-handled"
	OutcomeRepaired       Outcome = "repaired"
	// OutcomeGuarded тот же код уже обрабатывается или обработан.
	OutcomeGuarded Outcome = "guarded"
)

// Result итог и сессия, если она появилась или обновилась.
type Result struct {
	Outcome Outcome
	Session *models.Session
}

// Hooks связь с координатором экранов.
type Hooks struct {
	// Processing вызывается до обмена, чтобы сразу показать экран ожидания.
	Processing func()
	// CurrentSession сессия, активная до обработки адреса.
	CurrentSession func() *models.Session
}

// guardTTL сколько помнить обработанные коды.
const guardTTL = 10 * time.Minute

// Interpreter один на процесс, поэтому защита от повторного обмена
// работает и между вкладками одного клиента.
type Interpreter struct {
	log    *slog.Logger
	auth   Exchanger
	window time.Duration
	now    func() time.Time

	guard sync.Map // key -> time.Time
}

// New создаёт обработчик. window порог "свежего" подтверждения почты.
func New(log *slog.Logger, exchanger Exchanger, window time.Duration) *Interpreter {
	return &Interpreter{
		log:    log,
		auth:   exchanger,
		window: window,
		now:    time.Now,
	}
}

// Run обрабатывает адрес загрузки приложения. Ошибки не возвращаются:
// любой сбой обмена означает "сессии нет".
func (i *Interpreter) Run(ctx context.Context, rawURL string, hooks Hooks) Result {
	res := i.run(ctx, rawURL, hooks)
	metrics.RecordCallback(string(res.Outcome))
	return res
}

func (i *Interpreter) run(ctx context.Context, rawURL string, hooks Hooks) Result {
	prior := current(hooks)

	sig := Parse(rawURL)
	if !sig.Present() {
		return i.repair(ctx, prior)
	}

	// повтор того же кода не показывает экран обработки
	key := sig.key()
	if key != "" {
		i.prune()
		if _, loaded := i.guard.LoadOrStore(key, i.now()); loaded {
			i.log.Debug("callback already in progress", slog.Bool("code", sig.Code != ""))
			return Result{Outcome: OutcomeGuarded}
		}
	}

	if hooks.Processing != nil {
		hooks.Processing()
	}
	if key == "" {
		return Result{Outcome: OutcomeNone}
	}

	var (
		sess *models.Session
		err  error
	)
	if sig.Code != "" {
		sess, err = i.auth.ExchangeCode(ctx, sig.Code)
	} else {
		sess, err = i.auth.GetSession(ctx, sig.AccessToken)
	}
	if errors.Is(err, auth.ErrCodeConsumed) {
		i.log.Debug("callback code already consumed")
		if prior != nil {
			return Result{Outcome: OutcomeAlreadyHandled, Session: prior}
		}
		return Result{Outcome: OutcomeNone}
	}
	if err != nil {
		i.log.Error("callback exchange failed", sl.Err(err))
		return Result{Outcome: OutcomeNone}
	}

	if sess.Provider.IsSocial() {
		return Result{Outcome: OutcomeSocial, Session: sess}
	}
	if prior != nil {
		return Result{Outcome: OutcomeAlreadyHandled, Session: sess}
	}
	if !sess.User.EmailVerified {
		user, err := i.auth.MarkEmailVerified(ctx, sess.User.ID)
		if err != nil {
			i.log.Warn("failed to mark email verified", slog.String("user_id", sess.User.ID), sl.Err(err))
			return Result{Outcome: OutcomeAlreadyHandled, Session: sess}
		}
		sess.User = *user
	}
	return Result{Outcome: OutcomeEmailVerified, Session: sess}
}

// repair переносит недавнее подтверждение почты в запись пользователя.
func (i *Interpreter) repair(ctx context.Context, sess *models.Session) Result {
	if sess == nil || sess.User.EmailVerified || sess.User.EmailConfirmedAt == nil {
		return Result{Outcome: OutcomeNone}
	}
	if i.now().Sub(*sess.User.EmailConfirmedAt) >= i.window {
		return Result{Outcome: OutcomeNone}
	}
	user, err := i.auth.MarkEmailVerified(ctx, sess.User.ID)
	if err != nil {
		i.log.Warn("failed to repair email verification", slog.String("user_id", sess.User.ID), sl.Err(err))
		return Result{Outcome: OutcomeNone}
	}
	repaired := *sess
	repaired.User = *user
	return Result{Outcome: OutcomeRepaired, Session: &repaired}
}

func (i *Interpreter) prune() {
	now := i.now()
	i.guard.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) > guardTTL {
			i.guard.Delete(k)
		}
		return true
	})
}

func current(h Hooks) *models.Session {
	if h.CurrentSession == nil {
		return nil
	}
	return h.CurrentSession()
}
