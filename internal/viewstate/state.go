// Package viewstate хранит состояние экранов клиента и правила переходов между ними.
//
// Состояние меняется только через Reduce. После каждого события settle
// заново выбирает единственную видимую страницу по приоритетам:
// экран обработки или подтверждения почты, блокировка аккаунта, требование gate,
// явно запрошенная пользователем страница, дашборд.
package viewstate

import (
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Page полноэкранная страница. В каждый момент видна ровно одна.
type Page string

// Страницы приложения.
const (
	PageLanding            Page = "landing"
	PageLogin              Page = "login"
	PageRegister           Page = "register"
	PagePasswordReset      Page = "password-reset"
	PageEmailVerification  Page = "email-verification"
	PageEmailVerified      Page = "email-verified"
	PageProcessing         Page = "processing"
	PageSubscription       Page = "subscription"
	PageSubscriptionManage Page = "subscription-manage"
	PageDashboard          Page = "dashboard"
	PageBlocked            Page = "blocked"
	PageTerms              Page = "terms"
	PageContact            Page = "contact"
	PageAbout              Page = "about"
)

// Pages все страницы в порядке отображения.
var Pages = []Page{
	PageLanding, PageLogin, PageRegister, PagePasswordReset, PageEmailVerification,
	PageEmailVerified, PageProcessing, PageSubscription, PageSubscriptionManage,
	PageDashboard, PageBlocked, PageTerms, PageContact, PageAbout,
}

// IsAuth сообщает, что страница относится к входу или подтверждению. Оверлеи на ней запрещены.
func (p Page) IsAuth() bool {
	switch p {
	case PageLogin, PageRegister, PagePasswordReset, PageEmailVerification,
		PageEmailVerified, PageProcessing, PageBlocked:
		return true
	}
	return false
}

// IsStatic информационные страницы, доступные всем.
func (p Page) IsStatic() bool {
	return p == PageTerms || p == PageContact || p == PageAbout
}

// Overlay панель поверх страницы.
type Overlay string

// Оверлеи.
const (
	OverlaySettings   Overlay = "settings"
	OverlayReferral   Overlay = "referral"
	OverlayDataSource Overlay = "data-source"
)

// Overlays видимость панелей.
type Overlays struct {
	Settings   bool `json:"settings"`
	Referral   bool `json:"referral"`
	DataSource bool `json:"data_source"`
}

// UserInfo данные, собранные на шаге userinfo.
type UserInfo struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
}

// NoticeKind тип сообщения пользователю.
type NoticeKind string

// Сообщения, которые видит пользователь.
const (
	NoticeNone             NoticeKind = ""
	NoticeEmailNotFound    NoticeKind = "email_not_found"
	NoticeUsernameNotFound NoticeKind = "username_not_found"
	NoticeInvalidPassword  NoticeKind = "invalid_password"
	NoticeEmailNotVerified NoticeKind = "email_not_verified"
	NoticeUserExists       NoticeKind = "user_exists"
	NoticeAuthFailure      NoticeKind = "failure"
	NoticePaymentRejected  NoticeKind = "payment_rejected"
)

// Notice сообщение, показанное на текущей странице.
type Notice struct {
	Kind    NoticeKind `json:"kind,omitempty"`
	Message string     `json:"message,omitempty"`
}

// State состояние экранов одного клиента.
type State struct {
	Page     Page
	Step     gate.Step
	Overlays Overlays
	Tab      string
	Notice   Notice

	// Requested страница, которую пользователь запросил явно.
	Requested Page

	SelectedPlan string
	UserInfo     UserInfo
	PaymentID    string

	User          *models.User
	Authenticated bool

	Processing        bool
	VerificationEmail string
	Verified          bool
	Blocked           bool

	// ForceLogout выставляется, когда сессия принадлежит заблокированному аккаунту.
	ForceLogout bool
}

// Initial состояние до загрузки сессии.
func Initial() State {
	return settle(State{})
}

// Persisted поля, которые переживают перезагрузку страницы.
type Persisted struct {
	Step           gate.Step
	SelectedPlan   string
	UserInfo       UserInfo
	Tab            string
	ShowSettings   bool
	ShowDataSource bool
}

// Persisted возвращает сохраняемое подмножество состояния.
// Признак видимости страницы подписки сюда не входит.
func (s State) Persisted() Persisted {
	return Persisted{
		Step:           s.Step,
		SelectedPlan:   s.SelectedPlan,
		UserInfo:       s.UserInfo,
		Tab:            s.Tab,
		ShowSettings:   s.Overlays.Settings,
		ShowDataSource: s.Overlays.DataSource,
	}
}

// WatchesPayment сообщает, что открыт экран ожидания решения по платежу.
func (s State) WatchesPayment() bool {
	return s.Page == PageSubscription && (s.Step == gate.StepReview || s.Step == gate.StepPending)
}

// Flags булево представление страниц для старого клиента. Ровно одно поле true.
type Flags struct {
	ShowLanding            bool `json:"showLanding"`
	ShowLogin              bool `json:"showLogin"`
	ShowRegister           bool `json:"showRegister"`
	ShowPasswordReset      bool `json:"showPasswordReset"`
	ShowEmailVerification  bool `json:"showEmailVerification"`
	ShowEmailVerified      bool `json:"showEmailVerified"`
	ShowProcessing         bool `json:"showProcessing"`
	ShowSubscription       bool `json:"showSubscription"`
	ShowSubscriptionManage bool `json:"showSubscriptionManage"`
	ShowDashboard          bool `json:"showDashboard"`
	ShowBlocked            bool `json:"showBlocked"`
	ShowTerms              bool `json:"showTerms"`
	ShowContact            bool `json:"showContact"`
	ShowAbout              bool `json:"showAbout"`
}

// Flags строит булево представление текущей страницы.
func (s State) Flags() Flags {
	var f Flags
	switch s.Page {
	case PageLanding:
		f.ShowLanding = true
	case PageLogin:
		f.ShowLogin = true
	case PageRegister:
		f.ShowRegister = true
	case PagePasswordReset:
		f.ShowPasswordReset = true
	case PageEmailVerification:
		f.ShowEmailVerification = true
	case PageEmailVerified:
		f.ShowEmailVerified = true
	case PageProcessing:
		f.ShowProcessing = true
	case PageSubscription:
		f.ShowSubscription = true
	case PageSubscriptionManage:
		f.ShowSubscriptionManage = true
	case PageDashboard:
		f.ShowDashboard = true
	case PageBlocked:
		f.ShowBlocked = true
	case PageTerms:
		f.ShowTerms = true
	case PageContact:
		f.ShowContact = true
	case PageAbout:
		f.ShowAbout = true
	}
	return f
}
