package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// Profile данные пользователя у социального провайдера.
type Profile struct {
	Email string
	Login string
}

// SocialProvider настройки OAuth2 одного провайдера.
type SocialProvider struct {
	Name       models.Provider
	Config     *oauth2.Config
	ProfileURL string
	// EmailsURL используется, если профиль не содержит почту (GitHub со скрытой почтой).
	EmailsURL string
}

// NewSocialProviders собирает провайдеров, для которых задан client id.
func NewSocialProviders(cfg config.OAuth) map[models.Provider]*SocialProvider {
	providers := make(map[models.Provider]*SocialProvider)
	base := strings.TrimRight(cfg.RedirectBaseURL, "/")

	if cfg.GoogleClientID != "" {
		providers[models.ProviderGoogle] = &SocialProvider{
			Name: models.ProviderGoogle,
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  base + "/api/v1/auth/google/callback",
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     google.Endpoint,
			},
			ProfileURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		}
	}
	if cfg.GitHubClientID != "" {
		providers[models.ProviderGitHub] = &SocialProvider{
			Name: models.ProviderGitHub,
			Config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  base + "/api/v1/auth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			ProfileURL: "https://api.github.com/user",
			EmailsURL:  "https://api.github.com/user/emails",
		}
	}
	return providers
}

// FetchProfile обменивает code на токен провайдера и читает профиль пользователя.
func (p *SocialProvider) FetchProfile(ctx context.Context, code string) (Profile, error) {
	const op = "auth.SocialProvider.FetchProfile"

	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: exchange: %w", op, err)
	}
	client := p.Config.Client(ctx, token)

	var raw struct {
		Email string `json:"email"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := getJSON(ctx, client, p.ProfileURL, &raw); err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	profile := Profile{Email: raw.Email, Login: raw.Login}
	if profile.Login == "" {
		profile.Login = raw.Name
	}
	if profile.Email == "" && p.EmailsURL != "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, p.EmailsURL, &emails); err != nil {
			return Profile{}, fmt.Errorf("%s: %w", op, err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				profile.Email = e.Email
				break
			}
		}
	}
	if profile.Email == "" {
		return Profile{}, fmt.Errorf("%s: provider returned no verified email", op)
	}
	return profile, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
