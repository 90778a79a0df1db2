// Package gate решает, куда пускать пользователя: на дашборд или в поток оформления подписки.
//
// Evaluate чистая функция. Её вызывают и редьюсер экранов, и синхронизатор истории,
// поэтому оба места всегда получают один и тот же ответ.
package gate

import (
	"strings"

	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Kind результат проверки.
type Kind string

// Варианты решения.
const (
	AllowDashboard           Kind = "allow-dashboard"
	RequireSubscriptionFlow  Kind = "require-subscription-flow"
	RequireBlockedPage       Kind = "require-blocked-page"
	RequireEmailVerification Kind = "require-email-verification"
)

// Step шаг потока оформления подписки.
type Step string

// Шаги потока подписки.
const (
	StepNone     Step = ""
	StepPlans    Step = "plans"
	StepUserInfo Step = "userinfo"
	StepPayment  Step = "payment"
	StepPending  Step = "pending"
	StepReview   Step = "review"
	StepSuccess  Step = "success"
)

// Input всё, что нужно для решения. Nil User означает отсутствие сессии.
type Input struct {
	User *models.User
}

// Decision решение gate. Step заполнен только для RequireSubscriptionFlow.
type Decision struct {
	Kind Kind
	Step Step
}

// Allowed сообщает, что пользователя можно пустить на дашборд.
func (d Decision) Allowed() bool {
	return d.Kind == AllowDashboard
}

func subscription(step Step) Decision {
	return Decision{Kind: RequireSubscriptionFlow, Step: step}
}

// Evaluate применяет правила по порядку, первое сработавшее побеждает.
func Evaluate(in Input) Decision {
	u := in.User
	if u == nil {
		return subscription(StepPlans)
	}
	if u.Status == models.StatusBlocked {
		return Decision{Kind: RequireBlockedPage}
	}
	if u.Role == models.RoleAdmin {
		return Decision{Kind: AllowDashboard}
	}
	if u.SubscriptionStatus == models.SubscriptionActive && u.Status == models.StatusActive {
		return Decision{Kind: AllowDashboard}
	}
	return fromHint(u.RedirectHint)
}

func fromHint(hint string) Decision {
	switch strings.TrimSpace(hint) {
	case "plans", "subscription":
		return subscription(StepPlans)
	case "userinfo":
		return subscription(StepUserInfo)
	case "payment":
		return subscription(StepPayment)
	case "pending":
		return subscription(StepPending)
	case "review":
		return subscription(StepReview)
	case "success":
		return subscription(StepSuccess)
	case "verify_email", "email_verification":
		return Decision{Kind: RequireEmailVerification}
	case "blocked":
		return Decision{Kind: RequireBlockedPage}
	default:
		return subscription(StepPlans)
	}
}
