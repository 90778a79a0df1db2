// Package history зеркалирует стек истории браузера и держит адресную строку
// в согласии с видимой страницей.
//
// Только Synchronizer выпускает директивы push/replace. Остальной код просит
// навигацию событием app-navigate.
package history

import (
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// EntryState состояние, которое браузер хранит вместе с записью истории.
type EntryState struct {
	Authenticated bool   `json:"authenticated,omitempty"`
	PreventBack   bool   `json:"preventBack,omitempty"`
	Page          string `json:"page,omitempty"`
}

// Entry запись истории.
type Entry struct {
	Path  string     `json:"path"`
	State EntryState `json:"state"`
}

// Action что сделать с историей браузера.
type Action string

// Действия над историей.
const (
	ActionNone    Action = "none"
	ActionPush    Action = "push"
	ActionReplace Action = "replace"
)

// Directive инструкция для браузера.
type Directive struct {
	Action Action     `json:"action"`
	Path   string     `json:"path,omitempty"`
	State  EntryState `json:"state"`
}

// Landing результат перехода назад или вперёд.
// Target == nil означает, что путь неизвестен и страница не меняется.
type Landing struct {
	Target    *Target
	Directive Directive
}

// Synchronizer зеркало стека истории одной вкладки.
type Synchronizer struct {
	entries []Entry
	index   int
	// external текущая запись пришла от браузера и ещё не сверена с состоянием.
	external bool
}

// New создаёт зеркало с записью, с которой загрузилась страница.
func New(boot Entry) *Synchronizer {
	boot.Path = normalize(boot.Path)
	return &Synchronizer{entries: []Entry{boot}, external: true}
}

// Reset начинает историю заново, например после перезагрузки страницы.
func (s *Synchronizer) Reset(boot Entry) {
	boot.Path = normalize(boot.Path)
	s.entries = []Entry{boot}
	s.index = 0
	s.external = true
}

// Current запись, которую сейчас показывает браузер.
func (s *Synchronizer) Current() Entry {
	return s.entries[s.index]
}

// Len число записей в зеркале.
func (s *Synchronizer) Len() int {
	return len(s.entries)
}

// Sync приводит историю к странице из state.
// Если текущая запись пришла от браузера и страница отличается, запись заменяется,
// иначе добавляется новая.
func (s *Synchronizer) Sync(state viewstate.State) Directive {
	entry := Entry{Path: PathFor(state.Page, state.Step), State: stateFor(state)}
	cur := s.Current()
	external := s.external
	s.external = false

	switch {
	case cur.Path == entry.Path && cur.State == entry.State:
		return Directive{Action: ActionNone}
	case cur.Path == entry.Path, external, cur.Path == PathFor(viewstate.PageProcessing, gate.StepNone):
		s.entries[s.index] = entry
		return directive(ActionReplace, entry)
	default:
		s.push(entry)
		return directive(ActionPush, entry)
	}
}

// Landed фиксирует переход браузера назад или вперёд и решает, какую страницу показать.
// user текущий пользователь, nil без сессии.
func (s *Synchronizer) Landed(e Entry, user *models.User) Landing {
	e.Path = normalize(e.Path)
	s.locate(e)
	s.external = true

	authenticated := user != nil
	target, ok := Resolve(e.Path)
	if !ok {
		s.external = false
		return Landing{Directive: Directive{Action: ActionNone}}
	}

	if !authenticated && e.Path == "/" {
		s.external = false
		s.push(e)
		return Landing{Target: &target, Directive: directive(ActionPush, e)}
	}

	if authenticated && (e.State.PreventBack || isEntryPage(target.Page)) {
		target = Target{Page: viewstate.PageDashboard}
	}

	if target.Page == viewstate.PageDashboard || target.Page == viewstate.PageSubscriptionManage {
		if d := gate.Evaluate(gate.Input{User: user}); !d.Allowed() {
			page, step := viewstate.Apply(d, gate.StepNone)
			target = Target{Page: page, Step: step}
		}
	}
	return Landing{Target: &target, Directive: Directive{Action: ActionNone}}
}

// Go двигает зеркало на delta записей, как кнопки браузера, и возвращает новую текущую запись.
func (s *Synchronizer) Go(delta int) Entry {
	s.index += delta
	if s.index < 0 {
		s.index = 0
	}
	if s.index >= len(s.entries) {
		s.index = len(s.entries) - 1
	}
	return s.Current()
}

func (s *Synchronizer) push(e Entry) {
	s.entries = append(s.entries[:s.index+1], e)
	s.index = len(s.entries) - 1
}

// locate ищет запись рядом с текущей позицией. Если не нашёл, браузер ушёл
// туда, куда зеркало не знает, и текущая запись перезаписывается.
func (s *Synchronizer) locate(e Entry) {
	if s.entries[s.index].Path == e.Path {
		s.entries[s.index] = e
		return
	}
	for _, i := range []int{s.index - 1, s.index + 1} {
		if i >= 0 && i < len(s.entries) && s.entries[i].Path == e.Path {
			s.index = i
			s.entries[i] = e
			return
		}
	}
	s.entries[s.index] = e
}

func stateFor(state viewstate.State) EntryState {
	return EntryState{
		Authenticated: state.Authenticated,
		PreventBack:   preventBack(state.Page),
		Page:          string(state.Page),
	}
}

// preventBack страницы, на которые нельзя вернуться кнопкой "назад" после входа.
func preventBack(p viewstate.Page) bool {
	switch p {
	case viewstate.PageLogin, viewstate.PageRegister, viewstate.PageProcessing,
		viewstate.PageEmailVerification, viewstate.PageEmailVerified:
		return true
	}
	return false
}

func isEntryPage(p viewstate.Page) bool {
	return p == viewstate.PageLanding || p == viewstate.PageLogin || p == viewstate.PageRegister
}

func directive(a Action, e Entry) Directive {
	return Directive{Action: a, Path: e.Path, State: e.State}
}
