// Package auth сервис авторизации: регистрация с подтверждением почты, вход по почте
// или имени пользователя, сессии на JWT с отзывом через Redis, одноразовые коды
// для /auth/callback и вход через Google и GitHub.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/signaldesk/internal/lib/jwt"
	"github.com/magabrotheeeer/signaldesk/internal/lib/password"
	"github.com/magabrotheeeer/signaldesk/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/models"
	"github.com/magabrotheeeer/signaldesk/internal/storage/repository"
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (string, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpsertSocialUser(ctx context.Context, user models.User) (*models.User, error)
	ConfirmEmail(ctx context.Context, id string, at time.Time) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id string) (*models.User, error)
}

// Notifier публикует уведомления для sender.
type Notifier interface {
	Publish(routingKey string, message any) error
}

// stateTTL сколько живёт OAuth state между редиректами.
const stateTTL = 10 * time.Minute

// Service отвечает за регистрацию, вход, сессии и социальный вход.
type Service struct {
	log       *slog.Logger
	users     UserRepository
	tokens    *TokenStore
	maker     jwt.Maker
	notifier  Notifier
	providers map[models.Provider]*SocialProvider
	codeTTL   time.Duration
	publicURL string
	now       func() time.Time
}

// Options зависимости сервиса.
type Options struct {
	Users     UserRepository
	Tokens    *TokenStore
	Maker     jwt.Maker
	Notifier  Notifier
	Providers map[models.Provider]*SocialProvider
	CodeTTL   time.Duration
	PublicURL string
}

// New создаёт сервис авторизации.
func New(log *slog.Logger, opts Options) *Service {
	if opts.Providers == nil {
		opts.Providers = map[models.Provider]*SocialProvider{}
	}
	return &Service{
		log:       log,
		users:     opts.Users,
		tokens:    opts.Tokens,
		maker:     opts.Maker,
		notifier:  opts.Notifier,
		providers: opts.Providers,
		codeTTL:   opts.CodeTTL,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		now:       time.Now,
	}
}

// Register создаёт пользователя с неподтверждённой почтой и отправляет письмо со ссылкой.
// Сессия появится только после перехода по ссылке.
func (s *Service) Register(ctx context.Context, email, username, rawPassword string) (*models.User, error) {
	const op = "auth.Register"

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashed, err := password.Hash(rawPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user := models.User{
		Email:              email,
		Username:           username,
		PasswordHash:       hashed,
		Role:               models.RoleTrader,
		Status:             models.StatusPending,
		SubscriptionStatus: models.SubscriptionNone,
		RedirectHint:       "verify_email",
		Provider:           models.ProviderEmail,
	}
	id, err := s.users.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrUserExists) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.ID = id

	code, err := s.tokens.IssueCode(ctx, Code{UserID: id, Provider: models.ProviderEmail, Purpose: PurposeSignup}, s.codeTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	link := s.callbackURL(url.Values{"code": {code}, "type": {"signup"}})
	notice := models.Notification{Kind: models.NotifyConfirmEmail, Email: email, Username: username, Link: link}
	if err := s.notifier.Publish(rabbitmq.RoutingAuth, notice); err != nil {
		// пользователь уже создан, письмо можно отправить повторно
		s.log.Error("failed to publish confirmation email", slog.String("user_id", id), sl.Err(err))
	}
	return &user, nil
}

// Login проверяет пароль. identifier почта или имя пользователя.
func (s *Service) Login(ctx context.Context, identifier, rawPassword string) (*models.Session, error) {
	const op = "auth.Login"

	var (
		user *models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetUserByEmail(ctx, identifier)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailNotFound)
		}
	} else {
		user, err = s.users.GetUserByUsername(ctx, identifier)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUsernameNotFound)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.PasswordHash == "" || password.Compare(user.PasswordHash, rawPassword) != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}
	if !user.EmailVerified && user.EmailConfirmedAt == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}
	return s.issue(user, models.ProviderEmail)
}

// Logout отзывает сессию. Невалидный токен не считается ошибкой.
func (s *Service) Logout(ctx context.Context, token string) error {
	const op = "auth.Logout"
	claims, err := s.maker.ParseToken(token)
	if err != nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.tokens.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession проверяет токен и перечитывает пользователя.
func (s *Service) GetSession(ctx context.Context, token string) (*models.Session, error) {
	const op = "auth.GetSession"
	claims, err := s.maker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionRevoked)
	}
	user, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.Session{
		Token:     token,
		ID:        claims.ID,
		User:      *user,
		Provider:  models.Provider(claims.Provider),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ExchangeCode обменивает одноразовый код на сессию.
// Код из письма отмечает момент подтверждения почты.
func (s *Service) ExchangeCode(ctx context.Context, value string) (*models.Session, error) {
	const op = "auth.ExchangeCode"
	code, err := s.tokens.TakeCode(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var user *models.User
	switch code.Purpose {
	case PurposeSignup:
		user, err = s.users.ConfirmEmail(ctx, code.UserID, s.now())
	default:
		user, err = s.users.GetUser(ctx, code.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.issue(user, code.Provider)
}

// MarkEmailVerified переносит подтверждение почты в запись пользователя.
func (s *Service) MarkEmailVerified(ctx context.Context, userID string) (*models.User, error) {
	const op = "auth.MarkEmailVerified"
	user, err := s.users.MarkEmailVerified(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// SocialStart возвращает адрес страницы согласия провайдера.
func (s *Service) SocialStart(ctx context.Context, provider models.Provider) (string, error) {
	const op = "auth.SocialStart"
	p, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("%s: %w", op, ErrUnknownProvider)
	}
	state := uuid.NewString()
	if err := s.tokens.SaveState(ctx, state, provider, stateTTL); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return p.Config.AuthCodeURL(state), nil
}

// SocialCallback завершает вход через провайдера и возвращает адрес /auth/callback
// с одноразовым кодом для браузера.
func (s *Service) SocialCallback(ctx context.Context, provider models.Provider, state, code string) (string, error) {
	const op = "auth.SocialCallback"
	p, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("%s: %w", op, ErrUnknownProvider)
	}
	if err := s.tokens.TakeState(ctx, state, provider); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	profile, err := p.FetchProfile(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.users.UpsertSocialUser(ctx, models.User{
		Email:              profile.Email,
		Username:           socialUsername(profile, provider),
		Role:               models.RoleTrader,
		SubscriptionStatus: models.SubscriptionNone,
		RedirectHint:       "plans",
		Provider:           provider,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	value, err := s.tokens.IssueCode(ctx, Code{UserID: user.ID, Provider: provider, Purpose: PurposeOAuth}, s.codeTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return s.callbackURL(url.Values{"code": {value}}), nil
}

// Providers список настроенных социальных провайдеров.
func (s *Service) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(s.providers))
	for _, p := range []models.Provider{models.ProviderGoogle, models.ProviderGitHub} {
		if _, ok := s.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) issue(user *models.User, provider models.Provider) (*models.Session, error) {
	const op = "auth.issue"
	token, sessionID, err := s.maker.GenerateToken(jwt.Subject{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     string(user.Role),
		Provider: string(provider),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.Session{
		Token:     token,
		ID:        sessionID,
		User:      *user,
		Provider:  provider,
		ExpiresAt: s.now().Add(s.maker.TTL()),
	}, nil
}

func (s *Service) callbackURL(q url.Values) string {
	return s.publicURL + "/auth/callback?" + q.Encode()
}

// socialUsername имя пользователя для нового социального аккаунта.
// Суффикс нужен, чтобы не столкнуться с существующим username.
func socialUsername(p Profile, provider models.Provider) string {
	base := p.Login
	if base == "" {
		base, _, _ = strings.Cut(p.Email, "@")
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "_"))
	return fmt.Sprintf("%s_%s_%s", base, provider, uuid.NewString()[:6])
}
