package idp

import (
	"context"
	"errors"
)

// ErrProviderMisconfigured is returned when a provider is missing the
// endpoints or credentials it needs.
var ErrProviderMisconfigured = errors.New("identity provider misconfigured")

// UserInfo holds standardized user attributes retrieved from the external
// identity provider.
type UserInfo struct {
	Sub      string
	Name     string
	Email    string
	Username string
	Groups   []string
}

// Provider is the interface boundary to the external identity provider. The
// provider is consumed through exactly two operations: redirecting a browser
// through an authorization-code exchange (AuthCodeURL + ExchangeCode) and
// validating an access token into user attributes (ValidateAccessToken).
type Provider interface {
	// AuthCodeURL returns the provider's login URL for the given CSRF state
	// and callback.
	AuthCodeURL(state, redirectURL string) string

	// ExchangeCode exchanges an authorization code for an access token.
	ExchangeCode(ctx context.Context, code, redirectURL string) (string, error)

	// ValidateAccessToken verifies an access token with the provider and
	// returns the user's attributes. Both a rejection and an unreachable
	// provider surface as an upstream auth failure.
	ValidateAccessToken(ctx context.Context, accessToken string) (*UserInfo, error)
}
