package viewstate

import (
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Event событие, меняющее состояние экранов.
type Event interface {
	event()
}

// SessionChanged сессия появилась, обновилась или пропала. Nil User означает выход.
type SessionChanged struct{ User *models.User }

// CallbackStarted началась обработка редиректа провайдера.
type CallbackStarted struct{}

// CallbackResult итог обработки редиректа.
type CallbackResult string

// Итоги обработки редиректа.
const (
	CallbackNone           CallbackResult = "none"
	CallbackSocial         CallbackResult = "social"
	CallbackEmailVerified  CallbackResult = "email-verified"
	CallbackAlreadyHandled CallbackResult = "already-handled"
	CallbackRepaired       CallbackResult = "repaired"
)

// CallbackFinished обработка редиректа завершилась.
type CallbackFinished struct{ Result CallbackResult }

// ShowPage пользователь запросил страницу.
type ShowPage struct{ Page Page }

// ShowStep пользователь запросил шаг оформления подписки.
type ShowStep struct{ Step gate.Step }

// SelectPlan выбран тарифный план.
type SelectPlan struct{ PlanID string }

// SubmitUserInfo заполнены данные пользователя.
type SubmitUserInfo struct{ Info UserInfo }

// PaymentSubmitted платёж отправлен на проверку.
type PaymentSubmitted struct {
	PaymentID string
	Pending   bool
}

// PaymentReviewed администратор принял решение по платежу.
type PaymentReviewed struct {
	PaymentID string
	Status    models.PaymentStatus
	Reason    string
}

// StepBack кнопка "назад" внутри оформления подписки.
type StepBack struct{}

// ToggleOverlay показать или скрыть панель.
type ToggleOverlay struct {
	Overlay Overlay
	Visible bool
}

// SetTab выбрана вкладка дашборда.
type SetTab struct{ Tab string }

// EmailNotVerified вход отклонён до подтверждения почты.
type EmailNotVerified struct{ Email string }

// EmailVerified почта подтверждена.
type EmailVerified struct{ UserID string }

// AuthFailed вход или регистрация не удались.
type AuthFailed struct{ Kind NoticeKind }

// DismissNotice пользователь закрыл сообщение или экран подтверждения.
type DismissNotice struct{}

// LoggedOut пользователь вышел.
type LoggedOut struct{}

// Seed восстановление сохранённых полей после перезагрузки.
type Seed struct{ Fields Persisted }

func (SessionChanged) event()   {}
func (CallbackStarted) event()  {}
func (CallbackFinished) event() {}
func (ShowPage) event()         {}
func (ShowStep) event()         {}
func (SelectPlan) event()       {}
func (SubmitUserInfo) event()   {}
func (PaymentSubmitted) event() {}
func (PaymentReviewed) event()  {}
func (StepBack) event()         {}
func (ToggleOverlay) event()    {}
func (SetTab) event()           {}
func (EmailNotVerified) event() {}
func (EmailVerified) event()    {}
func (AuthFailed) event()       {}
func (DismissNotice) event()    {}
func (LoggedOut) event()        {}
func (Seed) event()             {}
