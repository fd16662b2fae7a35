package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var (
	// ErrExchange is returned when the provider rejects the authorization code.
	ErrExchange = errors.New("oauth code exchange failed")
	// ErrProfile is returned when the userinfo response is unusable.
	ErrProfile = errors.New("oauth profile unavailable")
)

// Profile is the identity asserted by the provider.
type Profile struct {
	ProviderID string
	Email      string
	Name       string
}

// GoogleConfig configures the Google provider.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CallbackURL  string `koanf:"callback_url"`
}

// Configured reports whether all three settings are present.
func (c GoogleConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.CallbackURL != ""
}

// Provider runs the authorization-code flow against one OAuth 2.0 server.
type Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	authParams  []oauth2.AuthCodeOption
}

// Option customises a Provider.
type Option func(*Provider)

// WithEndpoint overrides the authorization and token endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) { p.config.Endpoint = endpoint }
}

// WithUserInfoURL overrides the userinfo endpoint.
func WithUserInfoURL(url string) Option {
	return func(p *Provider) { p.userInfoURL = url }
}

// NewGoogle builds a Google provider requesting the profile and email scopes.
func NewGoogle(cfg GoogleConfig, opts ...Option) (*Provider, error) {
	if !cfg.Configured() {
		return nil, errors.New("google oauth requires client id, client secret and callback url")
	}

	p := &Provider{
		name: "google",
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"profile", "email"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: GoogleUserInfoURL,
		authParams: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("prompt", "select_account"),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, p.authParams...)
}

type userInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Exchange trades code for a token and fetches the user's profile.
func (p *Provider) Exchange(ctx context.Context, code string) (Profile, error) {
	if code == "" {
		return Profile{}, fmt.Errorf("%w: missing code", ErrExchange)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: userinfo status %d", ErrProfile, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	if info.Sub == "" {
		return Profile{}, fmt.Errorf("%w: missing subject", ErrProfile)
	}

	return Profile{
		ProviderID: info.Sub,
		Email:      strings.ToLower(strings.TrimSpace(info.Email)),
		Name:       strings.TrimSpace(info.Name),
	}, nil
}
