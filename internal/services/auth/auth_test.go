package auth

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/signaldesk/internal/lib/jwt"
	"github.com/magabrotheeeer/signaldesk/internal/lib/password"
	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/storage/repository"
)

type UsersMock struct{ mock.Mock }

func userResult(args mock.Arguments) (*models.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UsersMock) CreateUser(ctx context.Context, user models.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}
func (m *UsersMock) GetUser(ctx context.Context, id string) (*models.User, error) {
	return userResult(m.Called(ctx, id))
}
func (m *UsersMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return userResult(m.Called(ctx, email))
}
func (m *UsersMock) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return userResult(m.Called(ctx, username))
}
func (m *UsersMock) UpsertSocialUser(ctx context.Context, user models.User) (*models.User, error) {
	return userResult(m.Called(ctx, user))
}
func (m *UsersMock) ConfirmEmail(ctx context.Context, id string, at time.Time) (*models.User, error) {
	return userResult(m.Called(ctx, id, at))
}
func (m *UsersMock) MarkEmailVerified(ctx context.Context, id string) (*models.User, error) {
	return userResult(m.Called(ctx, id))
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Publish(routingKey string, message any) error {
	return m.Called(routingKey, message).Error(0)
}

type fixture struct {
	svc      *Service
	users    *UsersMock
	notifier *NotifierMock
	tokens   *TokenStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, _ := setupTokenStore(t)
	f := &fixture{users: new(UsersMock), notifier: new(NotifierMock), tokens: tokens}
	f.svc = New(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Users:     f.users,
		Tokens:    tokens,
		Maker:     jwt.NewJWTMaker("secret", time.Hour),
		Notifier:  f.notifier,
		CodeTTL:   time.Hour,
		PublicURL: "https://signals.example.com/",
	})
	return f
}

func verifiedUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := password.Hash("secret-pass")
	require.NoError(t, err)
	return &models.User{
		ID:            "u-1",
		Email:         "trader@example.com",
		Username:      "trader",
		PasswordHash:  hash,
		Role:          models.RoleTrader,
		Status:        models.StatusActive,
		EmailVerified: true,
	}
}

func TestService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.users.On("GetUserByEmail", ctx, "new@example.com").Return(nil, repository.ErrNotFound)
	f.users.On("CreateUser", ctx, mock.MatchedBy(func(u models.User) bool {
		return u.Status == models.StatusPending && u.RedirectHint == "verify_email" &&
			u.Provider == models.ProviderEmail && u.PasswordHash != "pw"
	})).Return("u-9", nil)

	var link string
	f.notifier.On("Publish", rabbitmq.RoutingAuth, mock.MatchedBy(func(n models.Notification) bool {
		link = n.Link
		return n.Kind == models.NotifyConfirmEmail && n.Email == "new@example.com"
	})).Return(nil)

	user, err := f.svc.Register(ctx, "new@example.com", "newbie", "newbie-pass")
	require.NoError(t, err)
	assert.Equal(t, "u-9", user.ID)
	f.notifier.AssertExpectations(t)

	require.True(t, strings.HasPrefix(link, "https://signals.example.com/auth/callback?"))
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "signup", parsed.Query().Get("type"))

	code, err := f.tokens.TakeCode(ctx, parsed.Query().Get("code"))
	require.NoError(t, err)
	assert.Equal(t, Code{UserID: "u-9", Provider: models.ProviderEmail, Purpose: PurposeSignup}, code)
}

func TestService_RegisterExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.users.On("GetUserByEmail", ctx, "trader@example.com").Return(verifiedUser(t), nil)

	_, err := f.svc.Register(ctx, "trader@example.com", "trader", "pw")
	assert.ErrorIs(t, err, ErrUserExists)
	f.users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestService_Login(t *testing.T) {
	confirmedAt := time.Now()
	tests := []struct {
		name       string
		identifier string
		password   string
		setup      func(t *testing.T, m *UsersMock)
		wantErr    error
	}{
		{
			name:       "by email",
			identifier: "trader@example.com",
			password:   "secret-pass",
			setup: func(t *testing.T, m *UsersMock) {
				m.On("GetUserByEmail", mock.Anything, "trader@example.com").Return(verifiedUser(t), nil)
			},
		},
		{
			name:       "by username",
			identifier: "trader",
			password:   "secret-pass",
			setup: func(t *testing.T, m *UsersMock) {
				m.On("GetUserByUsername", mock.Anything, "trader").Return(verifiedUser(t), nil)
			},
		},
		{
			name:       "unknown email",
			identifier: "ghost@example.com",
			setup: func(t *testing.T, m *UsersMock) {
				m.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, repository.ErrNotFound)
			},
			wantErr: ErrEmailNotFound,
		},
		{
			name:       "unknown username",
			identifier: "ghost",
			setup: func(t *testing.T, m *UsersMock) {
				m.On("GetUserByUsername", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)
			},
			wantErr: ErrUsernameNotFound,
		},
		{
			name:       "wrong password",
			identifier: "trader",
			password:   "nope",
			setup: func(t *testing.T, m *UsersMock) {
				m.On("GetUserByUsername", mock.Anything, "trader").Return(verifiedUser(t), nil)
			},
			wantErr: ErrInvalidPassword,
		},
		{
			name:       "social account has no password",
			identifier: "trader",
			password:   "",
			setup: func(t *testing.T, m *UsersMock) {
				u := verifiedUser(t)
				u.PasswordHash = ""
				m.On("GetUserByUsername", mock.Anything, "trader").Return(u, nil)
			},
			wantErr: ErrInvalidPassword,
		},
		{
			name:       "email not verified",
			identifier: "trader",
			password:   "secret-pass",
			setup: func(t *testing.T, m *UsersMock) {
				u := verifiedUser(t)
				u.EmailVerified = false
				m.On("GetUserByUsername", mock.Anything, "trader").Return(u, nil)
			},
			wantErr: ErrEmailNotVerified,
		},
		{
			name:       "confirmed but not yet marked verified",
			identifier: "trader",
			password:   "secret-pass",
			setup: func(t *testing.T, m *UsersMock) {
				u := verifiedUser(t)
				u.EmailVerified = false
				u.EmailConfirmedAt = &confirmedAt
				m.On("GetUserByUsername", mock.Anything, "trader").Return(u, nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f.users)

			sess, err := f.svc.Login(context.Background(), tt.identifier, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sess)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u-1", sess.User.ID)
			assert.Equal(t, models.ProviderEmail, sess.Provider)
			assert.NotEmpty(t, sess.Token)
		})
	}
}

func TestService_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := verifiedUser(t)
	f.users.On("GetUserByEmail", ctx, user.Email).Return(user, nil)
	f.users.On("GetUser", ctx, user.ID).Return(user, nil)

	sess, err := f.svc.Login(ctx, user.Email, "secret-pass")
	require.NoError(t, err)

	got, err := f.svc.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, user.ID, got.User.ID)

	require.NoError(t, f.svc.Logout(ctx, sess.Token))
	_, err = f.svc.GetSession(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	_, err = f.svc.GetSession(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, f.svc.Logout(ctx, "garbage"))
}

func TestService_ExchangeCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := verifiedUser(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	f.users.On("ConfirmEmail", ctx, user.ID, now).Return(user, nil)
	f.users.On("GetUser", ctx, user.ID).Return(user, nil)

	signup, err := f.tokens.IssueCode(ctx, Code{UserID: user.ID, Provider: models.ProviderEmail, Purpose: PurposeSignup}, time.Hour)
	require.NoError(t, err)
	sess, err := f.svc.ExchangeCode(ctx, signup)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderEmail, sess.Provider)
	f.users.AssertCalled(t, "ConfirmEmail", ctx, user.ID, now)

	_, err = f.svc.ExchangeCode(ctx, signup)
	assert.ErrorIs(t, err, ErrCodeConsumed)

	social, err := f.tokens.IssueCode(ctx, Code{UserID: user.ID, Provider: models.ProviderGitHub, Purpose: PurposeOAuth}, time.Hour)
	require.NoError(t, err)
	sess, err = f.svc.ExchangeCode(ctx, social)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGitHub, sess.Provider)
	f.users.AssertCalled(t, "GetUser", ctx, user.ID)
}

func TestService_Social(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := newProviderServer(t, map[string]any{"email": "git@example.com", "login": "Octo Cat"}, nil)
	f.svc.providers[models.ProviderGitHub] = testProvider(srv)

	_, err := f.svc.SocialStart(ctx, models.ProviderGoogle)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	start, err := f.svc.SocialStart(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	parsed, err := url.Parse(start)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	f.users.On("UpsertSocialUser", ctx, mock.MatchedBy(func(u models.User) bool {
		return u.Email == "git@example.com" && strings.HasPrefix(u.Username, "octo_cat_github_") &&
			u.Provider == models.ProviderGitHub
	})).Return(&models.User{ID: "u-7", Email: "git@example.com"}, nil)

	redirect, err := f.svc.SocialCallback(ctx, models.ProviderGitHub, state, "code")
	require.NoError(t, err)
	parsed, err = url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", parsed.Path)

	code, err := f.tokens.TakeCode(ctx, parsed.Query().Get("code"))
	require.NoError(t, err)
	assert.Equal(t, PurposeOAuth, code.Purpose)
	assert.Equal(t, "u-7", code.UserID)

	_, err = f.svc.SocialCallback(ctx, models.ProviderGitHub, state, "code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_Providers(t *testing.T) {
	f := newFixture(t)
	assert.Empty(t, f.svc.Providers())
	f.svc.providers[models.ProviderGitHub] = &SocialProvider{}
	f.svc.providers[models.ProviderGoogle] = &SocialProvider{}
	assert.Equal(t, []models.Provider{models.ProviderGoogle, models.ProviderGitHub}, f.svc.Providers())
}
