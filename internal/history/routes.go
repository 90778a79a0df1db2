package history

import (
	"strings"

	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// Target страница и шаг, на которые указывает путь.
type Target struct {
	Page viewstate.Page
	Step gate.Step
}

var routes = map[string]Target{
	"/":                    {Page: viewstate.PageLanding},
	"/home":                {Page: viewstate.PageLanding},
	"/login":               {Page: viewstate.PageLogin},
	"/register":            {Page: viewstate.PageRegister},
	"/reset-password":      {Page: viewstate.PagePasswordReset},
	"/subscription":        {Page: viewstate.PageSubscription, Step: gate.StepPlans},
	"/subscription/manage": {Page: viewstate.PageSubscriptionManage},
	"/payment":             {Page: viewstate.PageSubscription, Step: gate.StepPayment},
	"/payment/success":     {Page: viewstate.PageSubscription, Step: gate.StepSuccess},
	"/payment/pending":     {Page: viewstate.PageSubscription, Step: gate.StepPending},
	"/payment/review":      {Page: viewstate.PageSubscription, Step: gate.StepReview},
	"/dashboard":           {Page: viewstate.PageDashboard},
	"/terms":               {Page: viewstate.PageTerms},
	"/contact":             {Page: viewstate.PageContact},
	"/about":               {Page: viewstate.PageAbout},
	"/verify-email":        {Page: viewstate.PageEmailVerification},
	"/email-verified":      {Page: viewstate.PageEmailVerified},
	"/blocked":             {Page: viewstate.PageBlocked},
	"/auth/callback":       {Page: viewstate.PageProcessing},
}

// Resolve возвращает страницу для пути. ok == false для неизвестных путей.
func Resolve(path string) (Target, bool) {
	t, ok := routes[normalize(path)]
	return t, ok
}

// PathFor канонический путь страницы.
func PathFor(page viewstate.Page, step gate.Step) string {
	switch page {
	case viewstate.PageLanding:
		return "/"
	case viewstate.PageLogin:
		return "/login"
	case viewstate.PageRegister:
		return "/register"
	case viewstate.PagePasswordReset:
		return "/reset-password"
	case viewstate.PageSubscriptionManage:
		return "/subscription/manage"
	case viewstate.PageDashboard:
		return "/dashboard"
	case viewstate.PageTerms:
		return "/terms"
	case viewstate.PageContact:
		return "/contact"
	case viewstate.PageAbout:
		return "/about"
	case viewstate.PageEmailVerification:
		return "/verify-email"
	case viewstate.PageEmailVerified:
		return "/email-verified"
	case viewstate.PageBlocked:
		return "/blocked"
	case viewstate.PageProcessing:
		return "/auth/callback"
	case viewstate.PageSubscription:
		switch step {
		case gate.StepPayment:
			return "/payment"
		case gate.StepSuccess:
			return "/payment/success"
		case gate.StepPending:
			return "/payment/pending"
		case gate.StepReview:
			return "/payment/review"
		}
		return "/subscription"
	}
	return "/"
}

// normalize отрезает query, fragment и завершающий слэш.
func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}
