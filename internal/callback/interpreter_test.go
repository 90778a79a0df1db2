package callback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/services/auth"
)

type ExchangerMock struct{ mock.Mock }

func (m *ExchangerMock) ExchangeCode(ctx context.Context, code string) (*models.Session, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}
func (m *ExchangerMock) GetSession(ctx context.Context, token string) (*models.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}
func (m *ExchangerMock) MarkEmailVerified(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInterpreter() (*Interpreter, *ExchangerMock) {
	m := new(ExchangerMock)
	i := New(slog.New(slog.NewTextHandler(io.Discard, nil)), m, time.Minute)
	i.now = func() time.Time { return now }
	return i, m
}

func emailSession(verified bool) *models.Session {
	return &models.Session{
		Token:    "tok",
		Provider: models.ProviderEmail,
		User:     models.User{ID: "u-1", EmailVerified: verified},
	}
}

func TestInterpreter_Exchange(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		prior        *models.Session
		setup        func(m *ExchangerMock)
		want         Outcome
		wantSession  bool
		wantVerified bool
	}{
		{
			name: "social login",
			url:  "/auth/callback?code=c1",
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").
					Return(&models.Session{Provider: models.ProviderGoogle, User: models.User{ID: "u-1"}}, nil)
			},
			want:        OutcomeSocial,
			wantSession: true,
		},
		{
			name: "password signup marks email verified",
			url:  "/auth/callback?code=c1&type=signup",
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").Return(emailSession(false), nil)
				m.On("MarkEmailVerified", mock.Anything, "u-1").Return(&models.User{ID: "u-1", EmailVerified: true}, nil)
			},
			want:         OutcomeEmailVerified,
			wantSession:  true,
			wantVerified: true,
		},
		{
			name: "access token in fragment",
			url:  "/#access_token=tok",
			setup: func(m *ExchangerMock) {
				m.On("GetSession", mock.Anything, "tok").Return(emailSession(true), nil)
			},
			want:         OutcomeEmailVerified,
			wantSession:  true,
			wantVerified: true,
		},
		{
			name:  "session already active",
			url:   "/auth/callback?code=c1&type=signup",
			prior: emailSession(true),
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").Return(emailSession(true), nil)
			},
			want:        OutcomeAlreadyHandled,
			wantSession: true,
		},
		{
			name: "consumed code is benign",
			url:  "/auth/callback?code=c1",
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").Return(nil, auth.ErrCodeConsumed)
			},
			want: OutcomeNone,
		},
		{
			name:  "consumed code with active session",
			url:   "/auth/callback?code=c1",
			prior: emailSession(true),
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").Return(nil, auth.ErrCodeConsumed)
			},
			want:        OutcomeAlreadyHandled,
			wantSession: true,
		},
		{
			name: "exchange failure falls through",
			url:  "/auth/callback?code=c1",
			setup: func(m *ExchangerMock) {
				m.On("ExchangeCode", mock.Anything, "c1").Return(nil, errors.New("boom"))
			},
			want: OutcomeNone,
		},
		{
			name:  "callback path without code",
			url:   "/auth/callback",
			setup: func(m *ExchangerMock) {},
			want:  OutcomeNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, m := newInterpreter()
			tt.setup(m)

			processing := 0
			res := i.Run(context.Background(), tt.url, Hooks{
				Processing:     func() { processing++ },
				CurrentSession: func() *models.Session { return tt.prior },
			})

			assert.Equal(t, 1, processing)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.wantSession, res.Session != nil)
			if tt.wantVerified {
				assert.True(t, res.Session.User.EmailVerified)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestInterpreter_Repair(t *testing.T) {
	recent := now.Add(-30 * time.Second)
	old := now.Add(-2 * time.Minute)

	tests := []struct {
		name        string
		session     *models.Session
		wantOutcome Outcome
		wantCall    bool
	}{
		{name: "no session", wantOutcome: OutcomeNone},
		{name: "already verified", session: emailSession(true), wantOutcome: OutcomeNone},
		{
			name: "recent confirmation",
			session: &models.Session{Token: "tok", Provider: models.ProviderEmail,
				User: models.User{ID: "u-1", EmailConfirmedAt: &recent}},
			wantOutcome: OutcomeRepaired,
			wantCall:    true,
		},
		{
			name: "confirmation outside window",
			session: &models.Session{Token: "tok", Provider: models.ProviderEmail,
				User: models.User{ID: "u-1", EmailConfirmedAt: &old}},
			wantOutcome: OutcomeNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, m := newInterpreter()
			m.On("MarkEmailVerified", mock.Anything, "u-1").
				Return(&models.User{ID: "u-1", EmailVerified: true}, nil).Maybe()

			processing := false
			res := i.Run(context.Background(), "https://app.example.com/dashboard", Hooks{
				Processing:     func() { processing = true },
				CurrentSession: func() *models.Session { return tt.session },
			})

			assert.False(t, processing)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			if tt.wantCall {
				m.AssertCalled(t, "MarkEmailVerified", mock.Anything, "u-1")
				require.NotNil(t, res.Session)
				assert.True(t, res.Session.User.EmailVerified)
				assert.False(t, tt.session.User.EmailVerified)
			} else {
				m.AssertNotCalled(t, "MarkEmailVerified", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestInterpreter_ConcurrentSameCode(t *testing.T) {
	i, m := newInterpreter()

	release := make(chan struct{})
	entered := make(chan struct{})
	m.On("ExchangeCode", mock.Anything, "once").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&models.Session{Provider: models.ProviderGitHub, User: models.User{ID: "u-1"}}, nil).Once()

	url := "/auth/callback?code=once"
	results := make(chan Result, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results <- i.Run(context.Background(), url, Hooks{})
	}()

	<-entered
	second := i.Run(context.Background(), url, Hooks{})
	assert.Equal(t, OutcomeGuarded, second.Outcome)

	close(release)
	wg.Wait()
	first := <-results
	assert.Equal(t, OutcomeSocial, first.Outcome)
	m.AssertNumberOfCalls(t, "ExchangeCode", 1)

	// после обмена код остаётся помеченным
	assert.Equal(t, OutcomeGuarded, i.Run(context.Background(), url, Hooks{}).Outcome)
}

func TestInterpreter_GuardExpires(t *testing.T) {
	i, m := newInterpreter()
	m.On("ExchangeCode", mock.Anything, "c").Return(nil, auth.ErrCodeConsumed)

	i.Run(context.Background(), "/?code=c", Hooks{})
	i.now = func() time.Time { return now.Add(guardTTL + time.Second) }
	i.Run(context.Background(), "/?code=c", Hooks{})

	m.AssertNumberOfCalls(t, "ExchangeCode", 2)
}

func TestInterpreter_GuardedDuplicateSkipsProcessing(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "code", url: "/auth/callback?code=dup&type=signup"},
		{name: "fragment token", url: "/auth/callback#access_token=dup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, m := newInterpreter()
			m.On("ExchangeCode", mock.Anything, mock.Anything).Return(emailSession(true), nil).Maybe()
			m.On("GetSession", mock.Anything, mock.Anything).Return(emailSession(true), nil).Maybe()

			calls := 0
			hooks := Hooks{Processing: func() { calls++ }}

			first := i.Run(context.Background(), tt.url, hooks)
			assert.NotEqual(t, OutcomeGuarded, first.Outcome)
			require.Equal(t, 1, calls)

			second := i.Run(context.Background(), tt.url, hooks)
			assert.Equal(t, OutcomeGuarded, second.Outcome)
			assert.Equal(t, 1, calls)
		})
	}
}
