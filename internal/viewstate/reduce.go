package viewstate

import (
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Reduce применяет событие к состоянию и возвращает новое состояние.
// Исходное состояние не меняется.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case SessionChanged:
		s.User = e.User
		s.Authenticated = e.User != nil
		if e.User != nil && e.User.EmailVerified && s.VerificationEmail != "" {
			s.VerificationEmail = ""
		}
	case CallbackStarted:
		s.Processing = true
	case CallbackFinished:
		s.Processing = false
		switch e.Result {
		case CallbackEmailVerified, CallbackRepaired:
			s.VerificationEmail = ""
			s.Verified = true
		case CallbackSocial:
			s.Requested = PageDashboard
		}
	case ShowPage:
		s.Requested = e.Page
		s.Verified = false
		s.Notice = Notice{}
		if e.Page == PageLogin || e.Page == PageRegister || e.Page == PageLanding {
			s.VerificationEmail = ""
			s.Blocked = false
		}
		if e.Page == PageSubscription && s.Step == gate.StepNone {
			s.Step = gate.StepPlans
		}
	case ShowStep:
		s.Requested = PageSubscription
		s.Step = e.Step
		s.Notice = Notice{}
	case SelectPlan:
		s.Requested = PageSubscription
		s.SelectedPlan = e.PlanID
		s.Step = gate.StepUserInfo
	case SubmitUserInfo:
		s.Requested = PageSubscription
		s.UserInfo = e.Info
		s.Step = gate.StepPayment
		s.Notice = Notice{}
	case PaymentSubmitted:
		s.Requested = PageSubscription
		s.PaymentID = e.PaymentID
		s.Step = gate.StepReview
		if e.Pending {
			s.Step = gate.StepPending
		}
	case PaymentReviewed:
		if s.PaymentID != "" && e.PaymentID != "" && e.PaymentID != s.PaymentID {
			break
		}
		s.PaymentID = ""
		s.Requested = PageSubscription
		switch e.Status {
		case models.PaymentApproved:
			s.Step = gate.StepSuccess
			s.Notice = Notice{}
			s.User = reviewed(s.User, models.SubscriptionActive, "")
		case models.PaymentRejected:
			s.Step = gate.StepPayment
			s.Notice = Notice{Kind: NoticePaymentRejected, Message: e.Reason}
			s.User = reviewed(s.User, models.SubscriptionRejected, "payment")
		}
	case StepBack:
		switch s.Step {
		case gate.StepUserInfo:
			s.Step = gate.StepPlans
		case gate.StepPayment:
			s.Step = gate.StepUserInfo
		}
	case ToggleOverlay:
		if s.Page.IsAuth() && e.Visible {
			break
		}
		switch e.Overlay {
		case OverlaySettings:
			s.Overlays.Settings = e.Visible
		case OverlayReferral:
			s.Overlays.Referral = e.Visible
		case OverlayDataSource:
			s.Overlays.DataSource = e.Visible
		}
	case SetTab:
		s.Tab = e.Tab
	case EmailNotVerified:
		s.VerificationEmail = e.Email
		s.Notice = Notice{Kind: NoticeEmailNotVerified}
	case EmailVerified:
		s.VerificationEmail = ""
		s.Verified = true
		s.Notice = Notice{}
	case AuthFailed:
		s.Notice = Notice{Kind: e.Kind}
	case DismissNotice:
		s.Notice = Notice{}
		s.Verified = false
	case LoggedOut:
		blocked := s.Blocked
		s = State{Blocked: blocked}
	case Seed:
		s.Step = e.Fields.Step
		// экран успеха показывается один раз, после перезагрузки оформление закрыто
		if s.Step == gate.StepSuccess {
			s.Step = gate.StepNone
		}
		s.SelectedPlan = e.Fields.SelectedPlan
		s.UserInfo = e.Fields.UserInfo
		s.Tab = e.Fields.Tab
		s.Overlays.Settings = e.Fields.ShowSettings
		s.Overlays.DataSource = e.Fields.ShowDataSource
	}
	return settle(s)
}

// reviewed копия пользователя с результатом проверки платежа.
// Активную подписку отклонение не отменяет.
func reviewed(u *models.User, status models.SubscriptionStatus, hint string) *models.User {
	if u == nil {
		return nil
	}
	if status == models.SubscriptionRejected && u.SubscriptionStatus == models.SubscriptionActive {
		return u
	}
	cp := *u
	cp.SubscriptionStatus = status
	cp.RedirectHint = hint
	return &cp
}

// settle выбирает видимую страницу по приоритетам.
func settle(s State) State {
	s.ForceLogout = false
	if s.User != nil && s.User.Status == models.StatusBlocked {
		s.Blocked = true
		s.ForceLogout = true
	}

	switch {
	case s.Processing:
		s.Page = PageProcessing
	case s.VerificationEmail != "":
		s.Page = PageEmailVerification
	case s.Verified:
		s.Page = PageEmailVerified
	case s.Blocked:
		s.Page = PageBlocked
	default:
		s.Page, s.Step = route(s)
	}

	if s.Page.IsAuth() {
		s.Overlays = Overlays{}
	}
	return s
}

// route выбирает страницу по требованию gate и запросу пользователя.
func route(s State) (Page, gate.Step) {
	d := gate.Evaluate(gate.Input{User: s.User})

	if !s.Authenticated {
		switch s.Requested {
		case PageLanding, "":
			return PageLanding, s.Step
		case PageLogin, PageRegister, PagePasswordReset, PageTerms, PageContact, PageAbout:
			return s.Requested, s.Step
		case PageSubscription:
			return PageSubscription, gate.StepPlans
		default:
			return Apply(d, gate.StepNone)
		}
	}

	switch {
	case s.Requested.IsStatic(), s.Requested == PagePasswordReset:
		return s.Requested, s.Step
	case s.Requested == PageSubscription:
		if d.Allowed() {
			if s.Step == gate.StepSuccess {
				return PageSubscription, s.Step
			}
			return PageDashboard, s.Step
		}
		return Apply(d, s.Step)
	case s.Requested == PageSubscriptionManage:
		if d.Allowed() {
			return PageSubscriptionManage, s.Step
		}
		return Apply(d, s.Step)
	default:
		return Apply(d, s.Step)
	}
}

// Apply переводит решение gate в страницу. current шаг, на котором пользователь уже находится;
// он сохраняется, пока gate не требует экрана ожидания.
func Apply(d gate.Decision, current gate.Step) (Page, gate.Step) {
	switch d.Kind {
	case gate.AllowDashboard:
		return PageDashboard, current
	case gate.RequireBlockedPage:
		return PageBlocked, current
	case gate.RequireEmailVerification:
		return PageEmailVerification, current
	}
	switch d.Step {
	case gate.StepPending, gate.StepReview, gate.StepSuccess:
		return PageSubscription, d.Step
	}
	switch current {
	case gate.StepPlans, gate.StepUserInfo, gate.StepPayment, gate.StepPending, gate.StepReview, gate.StepSuccess:
		return PageSubscription, current
	}
	return PageSubscription, d.Step
}
