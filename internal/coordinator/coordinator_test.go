package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/signaldesk/internal/callback"
	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/gate"
	"github.com/magabrotheeeer/signaldesk/internal/history"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/persist"
	"github.com/magabrotheeeer/signaldesk/internal/realtime"
	"github.com/magabrotheeeer/signaldesk/internal/services/auth"
	"github.com/magabrotheeeer/signaldesk/internal/session"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type grant struct {
	userID   string
	provider models.Provider
}

// fakeAuth сервис авторизации в памяти.
type fakeAuth struct {
	mu        sync.Mutex
	users     map[string]*models.User
	logins    map[string]string
	sessions  map[string]string
	codes     map[string]grant
	loginErr  error
	logouts   int
	exchanges int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:    make(map[string]*models.User),
		logins:   make(map[string]string),
		sessions: make(map[string]string),
		codes:    make(map[string]grant),
	}
}

func (a *fakeAuth) addUser(u models.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[u.ID] = &u
	a.logins[u.Email] = u.ID
	a.logins[u.Username] = u.ID
}

func (a *fakeAuth) update(id string, fn func(u *models.User)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.users[id])
}

// issue выдаёт токен вне Login, как будто сессия осталась с прошлого визита.
func (a *fakeAuth) issue(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	token := "tok-" + userID
	a.sessions[token] = userID
	return token
}

func (a *fakeAuth) sessionFor(token string, provider models.Provider) *models.Session {
	u := *a.users[a.sessions[token]]
	return &models.Session{Token: token, ID: "s-" + u.ID, User: u, Provider: provider, ExpiresAt: time.Now().Add(time.Hour)}
}

func (a *fakeAuth) Login(ctx context.Context, identifier, password string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	id, ok := a.logins[identifier]
	if !ok {
		return nil, auth.ErrEmailNotFound
	}
	token := "tok-" + id
	a.sessions[token] = id
	return a.sessionFor(token, models.ProviderEmail), nil
}

func (a *fakeAuth) Register(ctx context.Context, email, username, password string) (*models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.logins[email]; ok {
		return nil, auth.ErrUserExists
	}
	return &models.User{ID: "new", Email: email, Username: username}, nil
}

func (a *fakeAuth) Logout(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	delete(a.sessions, token)
	return nil
}

func (a *fakeAuth) GetSession(ctx context.Context, token string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[token]; !ok {
		return nil, auth.ErrInvalidToken
	}
	return a.sessionFor(token, ""), nil
}

func (a *fakeAuth) ExchangeCode(ctx context.Context, code string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges++
	g, ok := a.codes[code]
	if !ok {
		return nil, auth.ErrCodeConsumed
	}
	delete(a.codes, code)
	token := "tok-" + g.userID
	a.sessions[token] = g.userID
	return a.sessionFor(token, g.provider), nil
}

func (a *fakeAuth) MarkEmailVerified(ctx context.Context, userID string) (*models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.users[userID]
	u.EmailVerified = true
	u.Status = models.StatusActive
	cp := *u
	return &cp, nil
}

func (a *fakeAuth) Logouts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logouts
}

type pendingPoller struct{}

func (pendingPoller) PaymentStatus(ctx context.Context, userID, paymentID string) (models.PaymentUpdate, error) {
	return models.PaymentUpdate{PaymentID: paymentID, UserID: userID, Status: models.PaymentPending}, nil
}

// hintRecorder запоминает сохранённые шаги оформления.
type hintRecorder struct {
	mu    sync.Mutex
	hints []string
}

func (r *hintRecorder) UpdateRedirectHint(ctx context.Context, userID, hint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints = append(r.hints, userID+":"+hint)
	return nil
}

func (r *hintRecorder) Hints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hints...)
}

type clearerFunc func(ctx context.Context, scope persist.Scope) error

func (f clearerFunc) Clear(ctx context.Context, scope persist.Scope) error { return f(ctx, scope) }

type harness struct {
	auth    *fakeAuth
	hints   *hintRecorder
	mr      *miniredis.Miniredis
	source  *realtime.RedisSource
	deps    Deps
	mu      sync.Mutex
	cleared []persist.Scope
}

func newHarness(t *testing.T) *harness {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		auth:   newFakeAuth(),
		hints:  &hintRecorder{},
		mr:     mr,
		source: realtime.NewRedisSource(discard, client),
	}
	h.deps = Deps{
		Auth:     h.auth,
		Hints:    h.hints,
		Callback: callback.New(discard, h.auth, time.Minute),
		Store:    persist.NewRedisStore(client),
		Clearers: []persist.Clearer{clearerFunc(func(ctx context.Context, scope persist.Scope) error {
			h.mu.Lock()
			h.cleared = append(h.cleared, scope)
			h.mu.Unlock()
			return nil
		})},
		Source: h.source,
		Poller: pendingPoller{},
		Navigation: config.Navigation{
			PersistDebounce:          10 * time.Millisecond,
			RecentVerificationWindow: time.Minute,
			IdleClientTTL:            time.Minute,
		},
		Realtime: config.Realtime{
			BaseDelay:    5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Jitter:       0.3,
			MaxRetries:   2,
			PollInterval: time.Hour,
		},
	}
	return h
}

func (h *harness) coordinator(t *testing.T, clientID string) *Coordinator {
	c := New(discard, clientID, h.deps)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func (h *harness) Cleared() []persist.Scope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]persist.Scope(nil), h.cleared...)
}

func trader(id string, sub models.SubscriptionStatus, hint string) models.User {
	return models.User{
		ID:                 id,
		Email:              id + "@example.com",
		Username:           id,
		Role:               models.RoleTrader,
		Status:             models.StatusActive,
		SubscriptionStatus: sub,
		RedirectHint:       hint,
		EmailVerified:      true,
	}
}

func lastDirective(t *testing.T, v View) history.Directive {
	t.Helper()
	require.NotEmpty(t, v.Directives)
	return v.Directives[len(v.Directives)-1]
}

func TestBoot_UnauthenticatedDashboardRedirectsToPlans(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t, "c1")

	v, err := c.Boot(context.Background(), BootRequest{URL: "/dashboard"})
	require.NoError(t, err)

	assert.Equal(t, viewstate.PageSubscription, v.Page)
	assert.Equal(t, gate.StepPlans, v.Step)
	assert.True(t, v.Flags.ShowSubscription)
	assert.False(t, v.Authenticated)
	require.Len(t, v.Directives, 1)
	assert.Equal(t, history.ActionReplace, v.Directives[0].Action)
	assert.Equal(t, "/subscription", v.Directives[0].Path)
}

func TestBoot_RestoresSession(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionActive, ""))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")

	v, err := c.Boot(context.Background(), BootRequest{URL: "/login"})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageLogin, v.Page, "no cookie means no session")

	v, err = c.Boot(context.Background(), BootRequest{URL: "/login", Token: token})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageDashboard, v.Page)
	assert.True(t, v.Authenticated)
	assert.Equal(t, token, v.SessionToken)
	d := lastDirective(t, v)
	assert.Equal(t, history.ActionReplace, d.Action)
	assert.Equal(t, "/dashboard", d.Path)
}

func TestBoot_SignupCallbackVerifiesEmail(t *testing.T) {
	h := newHarness(t)
	u := trader("u-2", models.SubscriptionNone, "plans")
	u.EmailVerified = false
	u.Status = models.StatusPending
	h.auth.addUser(u)
	h.auth.codes["abc"] = grant{userID: "u-2", provider: models.ProviderEmail}
	c := h.coordinator(t, "c1")

	url := "/auth/callback?code=abc&type=signup"
	v, err := c.Boot(context.Background(), BootRequest{URL: url})
	require.NoError(t, err)

	assert.Equal(t, viewstate.PageEmailVerified, v.Page)
	assert.True(t, v.Authenticated)
	require.NotNil(t, v.User)
	assert.True(t, v.User.EmailVerified)
	for _, d := range v.Directives {
		assert.Equal(t, history.ActionReplace, d.Action, "callback address must not stay in history")
	}
	assert.Equal(t, "/email-verified", lastDirective(t, v).Path)

	// перезагрузка той же страницы не обменивает код второй раз
	v, err = c.Boot(context.Background(), BootRequest{URL: url, Token: v.SessionToken})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageSubscription, v.Page)
	assert.Equal(t, 1, h.auth.exchanges)
}

func TestBoot_SocialCallbackLandsOnDashboard(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-3", models.SubscriptionActive, ""))
	h.auth.codes["gh"] = grant{userID: "u-3", provider: models.ProviderGitHub}
	c := h.coordinator(t, "c1")

	v, err := c.Boot(context.Background(), BootRequest{URL: "/auth/callback#code=gh"})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageDashboard, v.Page)
	assert.Equal(t, "/dashboard", lastDirective(t, v).Path)
	require.NotNil(t, c.Session())
	assert.Equal(t, models.ProviderGitHub, c.Session().Provider)
}

func TestPop_PreventBackAfterLogin(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionActive, ""))
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	v, err := c.Boot(ctx, BootRequest{URL: "/login"})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageLogin, v.Page)
	loginEntry := lastDirective(t, v)
	assert.True(t, loginEntry.State.PreventBack)

	v, res, err := c.Login(ctx, session.Credentials{Identifier: "u-1@example.com", Password: "secret"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, viewstate.PageDashboard, v.Page)
	assert.Equal(t, history.ActionPush, lastDirective(t, v).Action)
	assert.Equal(t, "/dashboard", lastDirective(t, v).Path)

	v, err = c.Pop(ctx, history.Entry{Path: loginEntry.Path, State: loginEntry.State})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageDashboard, v.Page)
	d := lastDirective(t, v)
	assert.Equal(t, history.ActionReplace, d.Action)
	assert.Equal(t, "/dashboard", d.Path)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		identifier string
		wantPage   viewstate.Page
		wantNotice viewstate.NoticeKind
	}{
		{
			name:       "unknown email",
			err:        auth.ErrEmailNotFound,
			identifier: "who@example.com",
			wantPage:   viewstate.PageLogin,
			wantNotice: viewstate.NoticeEmailNotFound,
		},
		{
			name:       "unknown username",
			err:        auth.ErrUsernameNotFound,
			identifier: "who",
			wantPage:   viewstate.PageLogin,
			wantNotice: viewstate.NoticeUsernameNotFound,
		},
		{
			name:       "wrong password",
			err:        auth.ErrInvalidPassword,
			identifier: "u-1@example.com",
			wantPage:   viewstate.PageLogin,
			wantNotice: viewstate.NoticeInvalidPassword,
		},
		{
			name:       "unverified email opens verification screen",
			err:        auth.ErrEmailNotVerified,
			identifier: "u-1@example.com",
			wantPage:   viewstate.PageEmailVerification,
			wantNotice: viewstate.NoticeEmailNotVerified,
		},
		{
			name:       "unverified username stays on login",
			err:        auth.ErrEmailNotVerified,
			identifier: "u-1",
			wantPage:   viewstate.PageLogin,
			wantNotice: viewstate.NoticeEmailNotVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.auth.loginErr = tt.err
			c := h.coordinator(t, "c1")
			ctx := context.Background()

			_, err := c.Boot(ctx, BootRequest{URL: "/login"})
			require.NoError(t, err)

			v, res, err := c.Login(ctx, session.Credentials{Identifier: tt.identifier, Password: "x"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantPage, v.Page)
			assert.Equal(t, tt.wantNotice, v.Notice.Kind)
			assert.False(t, v.Authenticated)
		})
	}
}

func TestRegister_PendingEmailSurvivesReload(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/register"})
	require.NoError(t, err)

	v, res, err := c.Register(ctx, session.Registration{Email: "new@example.com", Username: "new", Password: "password"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, viewstate.PageEmailVerification, v.Page)
	assert.Equal(t, "new@example.com", v.VerificationEmail)

	require.Eventually(t, func() bool {
		return h.mr.HGet("session:c1", pendingEmailKey) == "new@example.com"
	}, time.Second, 5*time.Millisecond)

	v, err = c.Boot(ctx, BootRequest{URL: "/"})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageEmailVerification, v.Page)
	assert.Equal(t, "new@example.com", v.VerificationEmail)

	h.auth.addUser(trader("u-9", models.SubscriptionNone, ""))
	v, res, err = c.Register(ctx, session.Registration{Email: "u-9@example.com", Username: "other", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, session.ErrorUserExists, res.ErrorKind)
	assert.Equal(t, viewstate.NoticeUserExists, v.Notice.Kind)
}

func TestNavigate(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/"})
	require.NoError(t, err)

	v, err := c.Navigate(ctx, "/nowhere")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageLanding, v.Page)
	assert.Empty(t, v.Directives)

	v, err = c.FooterNavigate(ctx, "terms")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageTerms, v.Page)
	assert.Equal(t, history.Directive{Action: history.ActionPush, Path: "/terms", State: history.EntryState{Page: "terms"}}, lastDirective(t, v))

	v, err = c.FooterNavigate(ctx, "dashboard")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageTerms, v.Page)

	v, err = c.Navigate(ctx, "/login")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageLogin, v.Page)
	assert.Equal(t, "/login", lastDirective(t, v).Path)
}

func TestSubscriptionFlow(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionNone, "plans"))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	v, err := c.Boot(ctx, BootRequest{URL: "/dashboard", Token: token})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageSubscription, v.Page)
	assert.Equal(t, gate.StepPlans, v.Step)

	v, err = c.SelectPlan(ctx, "monthly")
	require.NoError(t, err)
	assert.Equal(t, gate.StepUserInfo, v.Step)
	assert.Equal(t, "monthly", v.SelectedPlan)

	v, err = c.StepBack(ctx)
	require.NoError(t, err)
	assert.Equal(t, gate.StepPlans, v.Step)

	_, err = c.SelectPlan(ctx, "monthly")
	require.NoError(t, err)
	v, err = c.SubmitUserInfo(ctx, viewstate.UserInfo{FullName: "Ann", Phone: "+100", Country: "NL"})
	require.NoError(t, err)
	assert.Equal(t, gate.StepPayment, v.Step)
	assert.Equal(t, "/payment", lastDirective(t, v).Path)

	v, err = c.PaymentSubmitted(ctx, "p-1", false)
	require.NoError(t, err)
	assert.Equal(t, gate.StepReview, v.Step)
	assert.Equal(t, "p-1", v.PaymentID)

	id, ok := c.watcher.Watching()
	assert.True(t, ok)
	assert.Equal(t, "p-1", id)

	require.Eventually(t, func() bool {
		return h.mr.HGet("local:c1", persist.KeySelectedPlan) == `"monthly"`
	}, time.Second, 5*time.Millisecond)

	// в запись пользователя попадают шаги, отличные от сохранённой подсказки
	require.Eventually(t, func() bool { return len(h.hints.Hints()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"u-1:userinfo", "u-1:userinfo", "u-1:payment"}, h.hints.Hints())
}

func TestSubscriptionFlow_LeavingReviewStopsWatching(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionPending, "review"))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	v, err := c.Boot(ctx, BootRequest{URL: "/payment/review", Token: token})
	require.NoError(t, err)
	assert.Equal(t, gate.StepReview, v.Step)

	channel := realtime.Channel("u-1")
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 1
	}, time.Second, 5*time.Millisecond)

	v, err = c.Navigate(ctx, "/terms")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageTerms, v.Page)

	_, watching := c.watcher.Watching()
	assert.False(t, watching)
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPaymentApprovedOverRealtimeChannel(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionPending, "review"))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	v, err := c.Boot(ctx, BootRequest{URL: "/payment/review", Token: token})
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageSubscription, v.Page)
	assert.Equal(t, gate.StepReview, v.Step)

	channel := realtime.Channel("u-1")
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 1
	}, time.Second, 5*time.Millisecond)

	h.auth.update("u-1", func(u *models.User) {
		u.SubscriptionStatus = models.SubscriptionActive
		u.RedirectHint = ""
	})
	require.NoError(t, h.source.Publish(ctx, models.PaymentUpdate{PaymentID: "p-1", UserID: "u-1", Status: models.PaymentApproved}))

	var directives []history.Directive
	var last View
	require.Eventually(t, func() bool {
		select {
		case v := <-updates:
			last = v
			directives = append(directives, v.Directives...)
		default:
		}
		return last.Step == gate.StepSuccess
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, viewstate.PageSubscription, last.Page)
	require.NotEmpty(t, directives)
	assert.Equal(t, "/payment/success", directives[len(directives)-1].Path)

	require.Eventually(t, func() bool {
		_, ok := c.watcher.Watching()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLogout_ClearsClientStorage(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionPending, "review"))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/dashboard", Token: token})
	require.NoError(t, err)
	_, err = c.SetTab(ctx, "signals")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.mr.Exists("local:c1") }, time.Second, 5*time.Millisecond)
	channel := realtime.Channel("u-1")
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 1
	}, time.Second, 5*time.Millisecond)
	h.mr.HSet("session:c1", "scratch", "1")

	v, err := c.Logout(ctx)
	require.NoError(t, err)

	assert.Equal(t, viewstate.PageLanding, v.Page)
	assert.False(t, v.Authenticated)
	assert.Nil(t, v.User)
	assert.Empty(t, v.SessionToken)
	assert.Equal(t, 1, h.auth.Logouts())
	assert.Nil(t, c.Session())

	assert.False(t, h.mr.Exists("local:c1"))
	assert.False(t, h.mr.Exists("session:c1"))
	assert.Equal(t, []persist.Scope{{ClientID: "c1", UserID: "u-1"}}, h.Cleared())

	_, watching := c.watcher.Watching()
	assert.False(t, watching)
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumSub(channel)[channel] == 0
	}, time.Second, 5*time.Millisecond)

	// отложенная запись после выхода не воскрешает хранилище
	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.mr.Exists("local:c1"))
}

func TestBlockedAccountIsLoggedOut(t *testing.T) {
	h := newHarness(t)
	u := trader("u-1", models.SubscriptionActive, "")
	u.Status = models.StatusBlocked
	h.auth.addUser(u)
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/login"})
	require.NoError(t, err)

	v, res, err := c.Login(ctx, session.Credentials{Identifier: "u-1", Password: "secret"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, viewstate.PageBlocked, v.Page)

	require.Eventually(t, func() bool { return h.auth.Logouts() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		v, err = c.View(ctx)
		return err == nil && !v.Authenticated
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, viewstate.PageBlocked, v.Page)
	assert.Nil(t, c.Session())

	v, err = c.Navigate(ctx, "/login")
	require.NoError(t, err)
	assert.Equal(t, viewstate.PageLogin, v.Page)
}

func TestOverlaysAndNotices(t *testing.T) {
	h := newHarness(t)
	h.auth.addUser(trader("u-1", models.SubscriptionActive, ""))
	token := h.auth.issue("u-1")
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/dashboard", Token: token})
	require.NoError(t, err)

	v, err := c.Overlay(ctx, viewstate.OverlaySettings, true)
	require.NoError(t, err)
	assert.True(t, v.Overlays.Settings)
	assert.Empty(t, v.Directives)

	v, err = c.Overlay(ctx, viewstate.OverlaySettings, false)
	require.NoError(t, err)
	assert.False(t, v.Overlays.Settings)

	v, err = c.DismissNotice(ctx)
	require.NoError(t, err)
	assert.Equal(t, viewstate.Notice{}, v.Notice)
}

func TestClosedCoordinatorRejectsCalls(t *testing.T) {
	h := newHarness(t)
	c := New(discard, "c1", h.deps)
	c.Close(context.Background())
	c.Close(context.Background())

	_, err := c.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribers_SlowSubscriberKeepsOwnDirectives(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t, "c1")
	ctx := context.Background()

	_, err := c.Boot(ctx, BootRequest{URL: "/"})
	require.NoError(t, err)

	slow, unsubSlow := c.Subscribe()
	defer unsubSlow()
	fast, unsubFast := c.Subscribe()
	defer unsubFast()

	show := func(p viewstate.Page) {
		require.True(t, c.post(ctx, func() { c.dispatch(viewstate.ShowPage{Page: p}) }))
	}
	next := func(ch <-chan View) View {
		t.Helper()
		select {
		case v := <-ch:
			return v
		case <-time.After(time.Second):
			require.FailNow(t, "no view delivered")
			return View{}
		}
	}
	paths := func(v View) []string {
		out := make([]string, 0, len(v.Directives))
		for _, d := range v.Directives {
			out = append(out, d.Path)
		}
		return out
	}

	show(viewstate.PageTerms)
	assert.Equal(t, []string{"/terms"}, paths(next(fast)))

	show(viewstate.PageAbout)
	assert.Equal(t, []string{"/about"}, paths(next(fast)))

	v := next(slow)
	assert.Equal(t, viewstate.PageAbout, v.Page)
	assert.Equal(t, []string{"/terms", "/about"}, paths(v))

	select {
	case v := <-fast:
		assert.Failf(t, "unexpected view", "directives %v", paths(v))
	default:
	}
}
