package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	hivegate "go.pilab.hu/hivegate"
)

const defaultTimeout = 10 * time.Second

// KeycloakConfig holds the realm coordinates and client credentials for a
// Keycloak identity provider.
type KeycloakConfig struct {
	// BaseURL is the Keycloak server root, e.g. "http://localhost:8080".
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Timeout bounds every outbound call. Zero means 10s.
	Timeout time.Duration
}

// Keycloak implements Provider against a Keycloak realm's OpenID Connect
// endpoints.
type Keycloak struct {
	cfg    KeycloakConfig
	client *http.Client
}

// NewKeycloak creates a Keycloak provider. The HTTP client carries an
// explicit timeout so a hung provider surfaces as ErrUpstreamAuth instead of
// hanging the caller.
func NewKeycloak(cfg KeycloakConfig) (*Keycloak, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" || cfg.ClientID == "" {
		return nil, ErrProviderMisconfigured
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email"}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Keycloak{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (k *Keycloak) realmURL(suffix string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/%s", k.cfg.BaseURL, k.cfg.Realm, suffix)
}

func (k *Keycloak) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     k.cfg.ClientID,
		ClientSecret: k.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       k.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  k.realmURL("auth"),
			TokenURL: k.realmURL("token"),
		},
	}
}

// AuthCodeURL implements Provider.AuthCodeURL.
func (k *Keycloak) AuthCodeURL(state, redirectURL string) string {
	return k.oauthConfig(redirectURL).AuthCodeURL(state)
}

// ExchangeCode implements Provider.ExchangeCode.
func (k *Keycloak) ExchangeCode(ctx context.Context, code, redirectURL string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, k.client)

	token, err := k.oauthConfig(redirectURL).Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("authorization code exchange failed")
		return "", fmt.Errorf("%w: %v", hivegate.ErrUpstreamAuth, err)
	}
	return token.AccessToken, nil
}

// ValidateAccessToken implements Provider.ValidateAccessToken by calling the
// realm's userinfo endpoint.
func (k *Keycloak) ValidateAccessToken(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.realmURL("userinfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := k.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("userinfo request failed")
		return nil, fmt.Errorf("%w: %v", hivegate.ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("identity provider rejected access token")
		return nil, fmt.Errorf("%w: userinfo returned %d", hivegate.ErrUpstreamAuth, resp.StatusCode)
	}

	var body struct {
		Sub               string   `json:"sub"`
		Name              string   `json:"name"`
		Email             string   `json:"email"`
		PreferredUsername string   `json:"preferred_username"`
		Groups            []string `json:"groups"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed userinfo response: %v", hivegate.ErrUpstreamAuth, err)
	}
	if body.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo response missing subject", hivegate.ErrUpstreamAuth)
	}

	return &UserInfo{
		Sub:      body.Sub,
		Name:     body.Name,
		Email:    body.Email,
		Username: body.PreferredUsername,
		Groups:   body.Groups,
	}, nil
}

var _ Provider = (*Keycloak)(nil)
