// Package coordinator ведёт экраны одного браузерного клиента.
//
// Все переходы выполняются в одной горутине цикла. Сетевые вызовы идут
// вне цикла, их продолжения возвращаются в цикл задачами.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/magabrotheeeer/signaldesk/internal/callback"
	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/events"
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/history"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/metrics"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/persist"
	"github.com/magabrotheeeer/signaldesk/internal/realtime"
	"github.com/magabrotheeeer/signaldesk/internal/session"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

// ErrClosed координатор остановлен.
var ErrClosed = errors.New("coordinator closed")

// pendingEmailKey ключ сессии браузера с адресом, ожидающим подтверждения.
const pendingEmailKey = "pendingVerificationEmail"

// HintStore запоминает шаг оформления в записи пользователя.
type HintStore interface {
	UpdateRedirectHint(ctx context.Context, userID, hint string) error
}

// Deps зависимости координатора.
type Deps struct {
	Auth       session.AuthService
	Hints      HintStore
	Callback   *callback.Interpreter
	Store      persist.Store
	Clearers   []persist.Clearer
	Source     realtime.Source
	Poller     realtime.Poller
	Navigation config.Navigation
	Realtime   config.Realtime
}

// BootRequest адрес и запись истории, с которыми загрузилась вкладка.
type BootRequest struct {
	URL   string              `json:"url" validate:"required"`
	State history.EntryState `json:"state"`
	// Token токен сессии из cookie.
	Token string `json:"-"`
}

type task struct {
	fn    func()
	reply chan View
}

// Coordinator экраны одной вкладки браузера. Сессия и сохранённые поля
// общие для всех вкладок клиента, история и вид у каждой вкладки свои.
type Coordinator struct {
	id  string
	tab string
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan task
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	close  sync.Once

	observer *session.Observer
	cache    *persist.Cache
	watcher  *realtime.Watcher
	callback *callback.Interpreter
	hints    HintStore
	bus      *events.Bus

	// owned задан, если сессию и кэш координатор держит сам
	owned   *browser
	unwatch func()

	sessionDirty atomic.Bool
	lastSeen     atomic.Int64

	// поля ниже принадлежат горутине цикла
	state   viewstate.State
	hist    *history.Synchronizer
	pending []history.Directive
	booted  bool

	subMu   sync.Mutex
	subs    map[int]chan View
	nextSub int
}

// browser состояние, общее для вкладок одного клиента.
type browser struct {
	observer *session.Observer
	cache    *persist.Cache
	pages    int
}

// openBrowser создаёт сессию клиента и читает его сохранённые поля.
func openBrowser(log *slog.Logger, clientID string, deps Deps) *browser {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &browser{
		observer: session.NewObserver(log, deps.Auth),
		cache:    persist.Load(ctx, log, deps.Store, clientID, deps.Navigation.PersistDebounce, deps.Clearers...),
	}
}

// New создаёт координатор клиента с единственной вкладкой и запускает его цикл.
// Сохранённые поля читаются здесь один раз.
func New(log *slog.Logger, clientID string, deps Deps) *Coordinator {
	log = log.With(slog.String("client_id", clientID))
	b := openBrowser(log, clientID, deps)
	c := newPage(log, clientID, "", deps, b)
	c.owned = b
	return c
}

func newPage(log *slog.Logger, clientID, tab string, deps Deps, b *browser) *Coordinator {
	if tab != "" {
		log = log.With(slog.String("tab_id", tab))
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		id:       clientID,
		tab:      tab,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan task, 64),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		observer: b.observer,
		cache:    b.cache,
		watcher:  realtime.NewWatcher(log, deps.Source, deps.Poller, deps.Realtime),
		callback: deps.Callback,
		hints:    deps.Hints,
		bus:      &events.Bus{},
		state:    viewstate.Initial(),
		hist:     history.New(history.Entry{Path: "/"}),
		subs:     make(map[int]chan View),
	}
	c.touch()
	c.unwatch = c.observer.OnChange(func(*models.Session) {
		c.sessionDirty.Store(true)
		select {
		case c.wake <- struct{}{}:
		default:
		}
	})

	metrics.CoordinatorStarted()
	go c.loop()
	return c
}

// ID идентификатор клиента.
func (c *Coordinator) ID() string { return c.id }

// Tab идентификатор вкладки. Пустой у координатора, созданного через New.
func (c *Coordinator) Tab() string { return c.tab }

// LastSeen время последнего обращения клиента.
func (c *Coordinator) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Coordinator) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.tasks:
			t.fn()
			c.afterTask(t.reply)
		case <-c.wake:
			c.afterTask(nil)
		}
	}
}

// afterTask доводит состояние до согласованного и рассылает вид.
// Директивы уходят тому, кто ждёт ответа, иначе подписчикам.
func (c *Coordinator) afterTask(reply chan View) {
	c.reconcileSession()
	c.drainBus()

	// без подписчиков директивы ждут следующего запроса клиента
	v := c.snapshot(reply != nil || c.hasSubscribers())
	if reply != nil {
		reply <- v
		v.Directives = []history.Directive{}
	}
	c.notify(v)
}

// exec выполняет fn в цикле и возвращает вид после неё.
func (c *Coordinator) exec(ctx context.Context, fn func()) (View, error) {
	c.touch()
	t := task{fn: fn, reply: make(chan View, 1)}
	select {
	case c.tasks <- t:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrClosed
	}
	select {
	case v := <-t.reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrClosed
	}
}

// post ставит продолжение в цикл, не дожидаясь выполнения.
func (c *Coordinator) post(ctx context.Context, fn func()) bool {
	select {
	case c.tasks <- task{fn: fn}:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// async запускает сетевую работу вне цикла, учитывая её при Close.
func (c *Coordinator) async(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) snapshot(drain bool) View {
	v := newView(c.state)
	v.Loading = c.observer.Loading()
	if sess := c.observer.Current(); sess != nil {
		v.SessionToken = sess.Token
	}
	if drain && len(c.pending) > 0 {
		v.Directives = c.pending
		c.pending = nil
	}
	return v
}

// dispatch применяет событие и всё, что следует из смены состояния.
func (c *Coordinator) dispatch(ev viewstate.Event) {
	prev := c.state
	c.state = viewstate.Reduce(c.state, ev)
	c.settled(prev)
}

func (c *Coordinator) settled(prev viewstate.State) {
	s := c.state
	if s.Page != prev.Page {
		metrics.RecordTransition(string(s.Page))
		if s.Authenticated && (s.Page == viewstate.PageDashboard || s.Page == viewstate.PageSubscription || s.Page == viewstate.PageBlocked) {
			metrics.RecordGateDecision(string(gate.Evaluate(gate.Input{User: s.User}).Kind))
		}
	}

	if c.booted && (s.Page != prev.Page || s.Step != prev.Step || s.Authenticated != prev.Authenticated) {
		c.sync()
	}

	if c.booted && s.Authenticated {
		c.cache.Write(persist.FromState(s.Persisted()))
		if s.Step != prev.Step {
			c.recordHint(s)
		}
	}

	if s.VerificationEmail != prev.VerificationEmail {
		email := s.VerificationEmail
		c.async(func(ctx context.Context) {
			if email == "" {
				c.cache.Forget(ctx, pendingEmailKey)
				return
			}
			c.cache.Remember(ctx, pendingEmailKey, email)
		})
	}

	c.syncWatcher()

	if s.ForceLogout && !prev.ForceLogout {
		c.forceLogout()
	}
}

// recordHint сохраняет шаг оформления, с которого вход на другом устройстве
// продолжит оформление. Экраны ожидания пишет сервис платежей.
func (c *Coordinator) recordHint(s viewstate.State) {
	if c.hints == nil || s.User == nil {
		return
	}
	switch s.Step {
	case gate.StepPlans, gate.StepUserInfo, gate.StepPayment:
	default:
		return
	}
	if gate.Evaluate(gate.Input{User: s.User}).Allowed() || s.User.RedirectHint == string(s.Step) {
		return
	}
	userID, hint := s.User.ID, string(s.Step)
	c.async(func(ctx context.Context) {
		if err := c.hints.UpdateRedirectHint(ctx, userID, hint); err != nil {
			c.log.Warn("failed to save redirect hint", slog.String("user_id", userID), sl.Err(err))
		}
	})
}

func (c *Coordinator) sync() {
	d := c.hist.Sync(c.state)
	if d.Action != history.ActionNone {
		c.pending = append(c.pending, d)
	}
}

// syncWatcher держит канал статуса открытым ровно пока виден экран ожидания.
func (c *Coordinator) syncWatcher() {
	s := c.state
	id, active := c.watcher.Watching()
	if !s.WatchesPayment() || s.User == nil {
		if active {
			c.watcher.Stop()
		}
		return
	}
	if active && id == s.PaymentID {
		return
	}
	paymentID := s.PaymentID
	c.watcher.Watch(c.ctx, s.User.ID, paymentID, func(ctx context.Context, u models.PaymentUpdate) {
		c.post(ctx, func() {
			c.dispatch(viewstate.PaymentReviewed{PaymentID: u.PaymentID, Status: u.Status, Reason: u.Reason})
			if u.Status == models.PaymentApproved {
				c.async(func(ctx context.Context) { c.observer.Refresh(ctx) })
			}
		})
	})
}

func (c *Coordinator) forceLogout() {
	userID := ""
	if c.state.User != nil {
		userID = c.state.User.ID
	}
	c.log.Info("forcing logout of blocked account", slog.String("user_id", userID))
	c.watcher.Stop()
	c.async(func(ctx context.Context) {
		c.observer.Logout(ctx)
		c.cache.Clear(ctx, userID)
	})
}

// reconcileSession переносит изменение сессии из наблюдателя в состояние.
func (c *Coordinator) reconcileSession() {
	if !c.sessionDirty.Swap(false) {
		return
	}
	user := userOf(c.observer.Current())
	if user == nil && !c.state.Authenticated {
		return
	}
	c.dispatch(viewstate.SessionChanged{User: user})
}

func userOf(sess *models.Session) *models.User {
	if sess == nil {
		return nil
	}
	u := sess.User
	return &u
}

func (c *Coordinator) drainBus() {
	for {
		evs := c.bus.Drain()
		if len(evs) == 0 {
			return
		}
		for _, e := range evs {
			c.handleEvent(e)
		}
	}
}

func (c *Coordinator) handleEvent(e events.Event) {
	switch e.Name {
	case events.AppNavigate:
		target, ok := history.Resolve(e.Path)
		if !ok {
			c.log.Debug("ignoring navigation to unknown path", slog.String("path", e.Path))
			return
		}
		c.request(target)
	case events.FooterNavigate:
		page := viewstate.Page(e.Page)
		if !page.IsStatic() {
			return
		}
		c.dispatch(viewstate.ShowPage{Page: page})
	case events.EmailNotVerified:
		c.dispatch(viewstate.EmailNotVerified{Email: e.Email})
	case events.EmailVerified:
		if c.state.User != nil && e.UserID != "" && e.UserID != c.state.User.ID {
			return
		}
		c.dispatch(viewstate.EmailVerified{UserID: e.UserID})
	}
}

// request переводит цель навигации в событие. Экраны, которые выбирает само
// состояние, запросить нельзя.
func (c *Coordinator) request(t history.Target) {
	switch t.Page {
	case viewstate.PageProcessing, viewstate.PageEmailVerification, viewstate.PageEmailVerified, viewstate.PageBlocked:
		return
	case viewstate.PageSubscription:
		switch t.Step {
		case gate.StepNone:
			c.dispatch(viewstate.ShowPage{Page: viewstate.PageSubscription})
			return
		case gate.StepPlans:
			// userinfo живёт по тому же пути
			if c.state.Step == gate.StepUserInfo {
				c.dispatch(viewstate.ShowPage{Page: viewstate.PageSubscription})
				return
			}
		case gate.StepPending, gate.StepReview, gate.StepSuccess:
			// экраны ожидания и успеха открывает только сам процесс оплаты
			if c.state.Step != t.Step {
				c.dispatch(viewstate.ShowPage{Page: viewstate.PageSubscription})
				return
			}
		}
		c.dispatch(viewstate.ShowStep{Step: t.Step})
	default:
		c.dispatch(viewstate.ShowPage{Page: t.Page})
	}
}

// Boot обрабатывает загрузку вкладки: восстанавливает сессию и сохранённые поля,
// разбирает редирект провайдера и выравнивает адресную строку.
func (c *Coordinator) Boot(ctx context.Context, req BootRequest) (View, error) {
	c.observer.Restore(ctx, req.Token)
	pendingEmail := c.cache.Recall(ctx, pendingEmailKey)

	sig := callback.Parse(req.URL)
	v, err := c.exec(ctx, func() {
		c.booted = false
		c.pending = nil
		c.hist.Reset(history.Entry{Path: req.URL, State: req.State})
		c.state = viewstate.Initial()
		c.dispatch(viewstate.Seed{Fields: c.cache.Fields().Persisted()})
		c.sessionDirty.Store(false)
		c.dispatch(viewstate.SessionChanged{User: userOf(c.observer.Current())})
		if pendingEmail != "" && !c.state.Authenticated && !sig.Present() {
			c.dispatch(viewstate.EmailNotVerified{Email: pendingEmail})
		}
		if target, ok := history.Resolve(req.URL); ok && !sig.Present() && c.state.VerificationEmail == "" {
			c.request(target)
		}
		c.booted = true
		// адрес с кодом выравнивается уже после экрана обработки
		if !sig.Present() {
			c.sync()
		}
	})
	if err != nil || c.callback == nil {
		return v, err
	}

	directives := v.Directives
	processing := false
	res := c.callback.Run(ctx, req.URL, callback.Hooks{
		Processing: func() {
			processing = true
			if pv, err := c.exec(ctx, func() { c.dispatch(viewstate.CallbackStarted{}) }); err == nil {
				directives = append(directives, pv.Directives...)
			}
		},
		CurrentSession: c.observer.Current,
	})
	if res.Session != nil {
		c.observer.Adopt(res.Session)
	}

	final, err := c.exec(ctx, func() {
		c.reconcileSession()
		if processing || res.Outcome == callback.OutcomeRepaired {
			c.dispatch(viewstate.CallbackFinished{Result: callbackResult(res.Outcome)})
		}
		// повторный код не открывал экран обработки, адрес выравнивается здесь
		c.sync()
	})
	if err != nil {
		return View{}, err
	}
	final.Directives = append(directives, final.Directives...)
	return final, nil
}

func callbackResult(o callback.Outcome) viewstate.CallbackResult {
	switch o {
	case callback.OutcomeSocial:
		return viewstate.CallbackSocial
	case callback.OutcomeEmailVerified:
		return viewstate.CallbackEmailVerified
	case callback.OutcomeAlreadyHandled:
		return viewstate.CallbackAlreadyHandled
	case callback.OutcomeRepaired:
		return viewstate.CallbackRepaired
	default:
		return viewstate.CallbackNone
	}
}

// View текущий вид с накопленными директивами.
func (c *Coordinator) View(ctx context.Context) (View, error) {
	return c.exec(ctx, func() {})
}

// Navigate запрос навигации от любого компонента (app-navigate).
func (c *Coordinator) Navigate(ctx context.Context, path string) (View, error) {
	return c.exec(ctx, func() { c.bus.Navigate(path) })
}

// FooterNavigate переход на статическую страницу из подвала.
func (c *Coordinator) FooterNavigate(ctx context.Context, page string) (View, error) {
	return c.exec(ctx, func() {
		c.bus.Publish(events.Event{Name: events.FooterNavigate, Page: page})
	})
}

// Pop браузер перешёл назад или вперёд на запись e.
func (c *Coordinator) Pop(ctx context.Context, e history.Entry) (View, error) {
	return c.exec(ctx, func() {
		landing := c.hist.Landed(e, c.state.User)
		if landing.Target == nil {
			return
		}
		if landing.Directive.Action != history.ActionNone {
			c.pending = append(c.pending, landing.Directive)
		}
		landed := c.hist.Current().Path
		before := len(c.pending)
		c.request(*landing.Target)
		c.sync()
		for _, d := range c.pending[before:] {
			if d.Action == history.ActionReplace && d.Path != landed {
				metrics.RecordHistoryCorrection()
			}
		}
	})
}

// Overlay показывает или скрывает панель.
func (c *Coordinator) Overlay(ctx context.Context, o viewstate.Overlay, visible bool) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.ToggleOverlay{Overlay: o, Visible: visible}) })
}

// SetTab выбирает вкладку дашборда.
func (c *Coordinator) SetTab(ctx context.Context, tab string) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.SetTab{Tab: tab}) })
}

// DismissNotice закрывает сообщение или экран подтверждения.
func (c *Coordinator) DismissNotice(ctx context.Context) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.DismissNotice{}) })
}

// Login вход по почте или имени пользователя.
func (c *Coordinator) Login(ctx context.Context, creds session.Credentials) (View, session.Result, error) {
	res := c.observer.Login(ctx, creds)
	v, err := c.exec(ctx, func() {
		if res.Success {
			c.reconcileSession()
			c.dispatch(viewstate.ShowPage{Page: viewstate.PageDashboard})
			return
		}
		if res.ErrorKind == session.ErrorEmailNotVerified {
			email := ""
			if strings.Contains(creds.Identifier, "@") {
				email = creds.Identifier
			}
			if email == "" {
				c.dispatch(viewstate.AuthFailed{Kind: viewstate.NoticeEmailNotVerified})
				return
			}
			c.bus.Publish(events.Event{Name: events.EmailNotVerified, Email: email})
			return
		}
		c.dispatch(viewstate.AuthFailed{Kind: viewstate.NoticeKind(res.ErrorKind)})
	})
	return v, res, err
}

// Register регистрация. После успеха показывается экран подтверждения почты.
func (c *Coordinator) Register(ctx context.Context, reg session.Registration) (View, session.Result, error) {
	res := c.observer.Register(ctx, reg)
	v, err := c.exec(ctx, func() {
		if res.Success {
			c.bus.Publish(events.Event{Name: events.EmailNotVerified, Email: reg.Email})
			return
		}
		c.dispatch(viewstate.AuthFailed{Kind: viewstate.NoticeKind(res.ErrorKind)})
	})
	return v, res, err
}

// Logout выход: канал статуса закрывается, сессия отзывается, хранилище клиента очищается.
func (c *Coordinator) Logout(ctx context.Context) (View, error) {
	var userID string
	first, err := c.exec(ctx, func() {
		if c.state.User != nil {
			userID = c.state.User.ID
		}
		c.dispatch(viewstate.LoggedOut{})
		c.watcher.Stop()
	})
	if err != nil {
		return View{}, err
	}

	c.observer.Logout(ctx)
	c.cache.Clear(ctx, userID)

	v, err := c.exec(ctx, func() {
		c.reconcileSession()
		c.sync()
	})
	if err != nil {
		return View{}, err
	}
	v.Directives = append(first.Directives, v.Directives...)
	return v, nil
}

// Refresh перечитывает пользователя, например после решения по платежу.
func (c *Coordinator) Refresh(ctx context.Context) (View, error) {
	c.observer.Refresh(ctx)
	return c.exec(ctx, func() {})
}

// SelectPlan выбор тарифа.
func (c *Coordinator) SelectPlan(ctx context.Context, planID string) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.SelectPlan{PlanID: planID}) })
}

// SubmitUserInfo данные пользователя перед оплатой.
func (c *Coordinator) SubmitUserInfo(ctx context.Context, info viewstate.UserInfo) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.SubmitUserInfo{Info: info}) })
}

// StepBack шаг назад внутри оформления подписки.
func (c *Coordinator) StepBack(ctx context.Context) (View, error) {
	return c.exec(ctx, func() { c.dispatch(viewstate.StepBack{}) })
}

// PaymentSubmitted платёж записан и ждёт проверки.
func (c *Coordinator) PaymentSubmitted(ctx context.Context, paymentID string, pending bool) (View, error) {
	return c.exec(ctx, func() {
		c.dispatch(viewstate.PaymentSubmitted{PaymentID: paymentID, Pending: pending})
	})
}

// Session текущая сессия клиента.
func (c *Coordinator) Session() *models.Session {
	return c.observer.Current()
}

// Subscribe подписка на изменения вида, которые произошли без запроса клиента.
// Канал хранит только последний вид.
func (c *Coordinator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) hasSubscribers() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs) > 0
}

func (c *Coordinator) notify(v View) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			// вытесняем устаревший вид, директивы сохраняем в копии подписчика
			out := v
			select {
			case old := <-ch:
				out.Directives = make([]history.Directive, 0, len(old.Directives)+len(v.Directives))
				out.Directives = append(out.Directives, old.Directives...)
				out.Directives = append(out.Directives, v.Directives...)
			default:
			}
			select {
			case ch <- out:
			default:
			}
		}
	}
}

// Close останавливает цикл и канал статуса. Отложенные поля записываются, если кэш
// принадлежит координатору, иначе их записывает реестр после последней вкладки.
func (c *Coordinator) Close(ctx context.Context) {
	c.close.Do(func() {
		c.cancel()
		<-c.done
		c.unwatch()
		c.watcher.Stop()
		c.wg.Wait()
		if c.owned != nil {
			c.cache.Close(ctx)
		}
		metrics.CoordinatorStopped()
		c.log.Debug("coordinator closed")
	})
}

// Done закрывается, когда цикл координатора остановлен.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
