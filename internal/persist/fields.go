package persist

import (
	"encoding/json"
	"fmt"

	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// Ключи локального хранилища клиента.
const (
	KeySubscriptionStep = "subscriptionStep"
	KeySelectedPlan     = "selectedPlan"
	KeyUserInfo         = "userInfo"
	KeyActiveTab        = "activeTab"
	KeyShowSettings     = "showSettings"
	KeyShowDataSource   = "showDataSource"

	// legacyShowSubscription писался старыми клиентами и удаляется при загрузке.
	legacyShowSubscription = "showSubscription"
)

// Keys все ключи, которые пишет кэш.
var Keys = []string{
	KeySubscriptionStep, KeySelectedPlan, KeyUserInfo,
	KeyActiveTab, KeyShowSettings, KeyShowDataSource,
}

// Fields сохраняемые поля состояния экранов.
type Fields struct {
	SubscriptionStep gate.Step          `json:"subscriptionStep"`
	SelectedPlan     string             `json:"selectedPlan"`
	UserInfo         viewstate.UserInfo `json:"userInfo"`
	ActiveTab        string             `json:"activeTab"`
	ShowSettings     bool               `json:"showSettings"`
	ShowDataSource   bool               `json:"showDataSource"`
}

// FromState берёт сохраняемое подмножество состояния.
func FromState(p viewstate.Persisted) Fields {
	return Fields{
		SubscriptionStep: p.Step,
		SelectedPlan:     p.SelectedPlan,
		UserInfo:         p.UserInfo,
		ActiveTab:        p.Tab,
		ShowSettings:     p.ShowSettings,
		ShowDataSource:   p.ShowDataSource,
	}
}

// Persisted переводит поля обратно для события Seed.
func (f Fields) Persisted() viewstate.Persisted {
	return viewstate.Persisted{
		Step:           f.SubscriptionStep,
		SelectedPlan:   f.SelectedPlan,
		UserInfo:       f.UserInfo,
		Tab:            f.ActiveTab,
		ShowSettings:   f.ShowSettings,
		ShowDataSource: f.ShowDataSource,
	}
}

// encode раскладывает поля по ключам, каждое значение в JSON.
func (f Fields) encode() (map[string]any, error) {
	const op = "persist.Fields.encode"
	values := map[string]any{
		KeySubscriptionStep: f.SubscriptionStep,
		KeySelectedPlan:     f.SelectedPlan,
		KeyUserInfo:         f.UserInfo,
		KeyActiveTab:        f.ActiveTab,
		KeyShowSettings:     f.ShowSettings,
		KeyShowDataSource:   f.ShowDataSource,
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, k, err)
		}
		out[k] = string(data)
	}
	return out, nil
}

// decode собирает поля из сохранённых значений. Испорченное значение
// оставляет поле по умолчанию и попадает в список bad.
func decode(raw map[string]string) (f Fields, bad []string) {
	targets := map[string]any{
		KeySubscriptionStep: &f.SubscriptionStep,
		KeySelectedPlan:     &f.SelectedPlan,
		KeyUserInfo:         &f.UserInfo,
		KeyActiveTab:        &f.ActiveTab,
		KeyShowSettings:     &f.ShowSettings,
		KeyShowDataSource:   &f.ShowDataSource,
	}
	for _, k := range Keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(v), targets[k]); err != nil {
			bad = append(bad, k)
		}
	}
	if !validStep(f.SubscriptionStep) {
		f.SubscriptionStep = gate.StepNone
		bad = append(bad, KeySubscriptionStep)
	}
	return f, bad
}

func validStep(s gate.Step) bool {
	switch s {
	case gate.StepNone, gate.StepPlans, gate.StepUserInfo, gate.StepPayment,
		gate.StepPending, gate.StepReview, gate.StepSuccess:
		return true
	}
	return false
}
