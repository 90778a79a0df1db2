package coordinator

import (
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/history"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// View то, что браузер рисует после очередного события.
type View struct {
	Page              viewstate.Page      `json:"page"`
	Step              gate.Step           `json:"step,omitempty"`
	Flags             viewstate.Flags     `json:"flags"`
	Overlays          viewstate.Overlays  `json:"overlays"`
	Tab               string              `json:"tab,omitempty"`
	Notice            viewstate.Notice    `json:"notice"`
	SelectedPlan      string              `json:"selectedPlan,omitempty"`
	UserInfo          viewstate.UserInfo  `json:"userInfo"`
	PaymentID         string              `json:"paymentId,omitempty"`
	User              *models.User        `json:"user,omitempty"`
	Authenticated     bool                `json:"authenticated"`
	VerificationEmail string              `json:"verificationEmail,omitempty"`
	Loading           bool                `json:"loading"`
	Directives        []history.Directive `json:"directives"`

	// SessionToken токен текущей сессии для cookie, в ответ не попадает.
	SessionToken string `json:"-"`
}

func newView(s viewstate.State) View {
	return View{
		Page:              s.Page,
		Step:              s.Step,
		Flags:             s.Flags(),
		Overlays:          s.Overlays,
		Tab:               s.Tab,
		Notice:            s.Notice,
		SelectedPlan:      s.SelectedPlan,
		UserInfo:          s.UserInfo,
		PaymentID:         s.PaymentID,
		User:              s.User,
		Authenticated:     s.Authenticated,
		VerificationEmail: s.VerificationEmail,
		Directives:        []history.Directive{},
	}
}
