// Package gateway is the single public entry point for browsers. It owns the
// login dance with the identity provider, keeps credentials server-side
// behind an opaque cookie, and proxies authenticated requests to the backend
// applications with the credential injected as a bearer header.
package gateway

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/client"
	"go.pilab.hu/hivegate/idp"
)

// CookieName is the browser session cookie. Its value is an opaque random
// ID; the credential never reaches the browser.
const CookieName = "hivegate_session"

// App is one backend application reachable through the gateway.
type App struct {
	// Name is the first path segment routed to this app.
	Name string
	// URL is the backend base URL requests are proxied to.
	URL string
}

// Options configure a Gateway.
type Options struct {
	// PublicURL is the externally visible base URL, used to build the
	// OAuth redirect URL.
	PublicURL string
	// Apps are the proxied backends.
	Apps []App
	// SecureCookies marks session cookies Secure. Enable whenever the
	// public URL is https.
	SecureCookies bool
	// IdPBaseURL, when set, enables the same-origin /idp/* proxy for the
	// provider's own login pages.
	IdPBaseURL string
}

// Gateway wires the session store, the identity provider, and the issuer
// client into the browser-facing handlers.
type Gateway struct {
	store    *SessionStore
	provider idp.Provider
	issuer   *client.IssuerClient
	opts     Options
}

// New creates a Gateway.
func New(store *SessionStore, provider idp.Provider, issuerClient *client.IssuerClient, opts Options) *Gateway {
	return &Gateway{store: store, provider: provider, issuer: issuerClient, opts: opts}
}

// RegisterRoutes registers the gateway routes on e.
func (g *Gateway) RegisterRoutes(e *echo.Echo) {
	e.GET("/login", g.LoginHandler)
	e.GET("/auth/callback", g.CallbackHandler)
	e.GET("/logout", g.LogoutHandler)
	e.GET("/health", g.HealthHandler)
	if g.opts.IdPBaseURL != "" {
		e.Any("/idp/*", g.idpProxyHandler())
	}
	proxies := e.Group("", g.RequireSession)
	for _, app := range g.opts.Apps {
		proxies.Any("/"+app.Name, g.appProxyHandler(app))
		proxies.Any("/"+app.Name+"/*", g.appProxyHandler(app))
	}
}

func (g *Gateway) redirectURL() string {
	return g.opts.PublicURL + "/auth/callback"
}

// LoginHandler records where the browser wanted to go and sends it to the
// identity provider.
func (g *Gateway) LoginHandler(c echo.Context) error {
	returnTo := c.QueryParam("next")
	if !safeReturnPath(returnTo) {
		returnTo = "/"
	}
	state := g.store.CreateFlow(returnTo)
	return c.Redirect(http.StatusFound, g.provider.AuthCodeURL(state, g.redirectURL()))
}

// CallbackHandler finishes the login: code for access token at the provider,
// access token for a signed credential at the issuer, credential into the
// store behind a fresh cookie.
func (g *Gateway) CallbackHandler(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return c.String(http.StatusBadRequest, "missing state or code")
	}

	returnTo, err := g.store.ConsumeFlow(state)
	if err != nil {
		log.Warn().Str("state", state).Msg("callback with unknown login state")
		return c.Redirect(http.StatusFound, "/login")
	}

	ctx := c.Request().Context()
	accessToken, err := g.provider.ExchangeCode(ctx, code, g.redirectURL())
	if err != nil {
		log.Error().Err(err).Msg("authorization code exchange failed")
		return c.String(http.StatusBadGateway, "identity provider unavailable")
	}

	token, err := g.issuer.Exchange(ctx, accessToken)
	if err != nil {
		log.Error().Err(err).Msg("credential exchange failed")
		return c.String(http.StatusUnauthorized, "login rejected")
	}

	id := g.store.CreateSession(token)
	c.SetCookie(g.sessionCookie(id, 0))
	return c.Redirect(http.StatusFound, returnTo)
}

// LogoutHandler revokes the session at the issuer and clears the browser
// state. The local state goes away even when the revoke call fails: the
// browser must always end up logged out.
func (g *Gateway) LogoutHandler(c echo.Context) error {
	if cookie, err := c.Cookie(CookieName); err == nil {
		if token, err := g.store.Session(cookie.Value); err == nil {
			if err := g.issuer.Revoke(c.Request().Context(), token); err != nil {
				log.Warn().Err(err).Msg("session revoke failed during logout")
			}
		}
		g.store.DeleteSession(cookie.Value)
	}
	c.SetCookie(g.sessionCookie("", -1))
	return c.Redirect(http.StatusFound, "/login")
}

// HealthHandler is the monitoring probe.
func (g *Gateway) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "hivegate-gateway"})
}

// RequireSession guards proxied routes. The credential is re-validated at
// the issuer on every request, so a revoked session stops at the gateway
// immediately. Any failure clears the browser state and restarts login.
func (g *Gateway) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(CookieName)
		if err != nil {
			return g.toLogin(c)
		}

		token, err := g.store.Session(cookie.Value)
		if err != nil {
			return g.toLogin(c)
		}

		result, err := g.issuer.Validate(c.Request().Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("issuer unreachable during validate")
			return c.String(http.StatusBadGateway, "authentication service unavailable")
		}
		if !result.Valid {
			log.Info().Str("reason", result.Reason).Msg("session no longer valid")
			g.store.DeleteSession(cookie.Value)
			c.SetCookie(g.sessionCookie("", -1))
			return g.toLogin(c)
		}

		c.Set(contextTokenKey, token)
		return next(c)
	}
}

const contextTokenKey = "hivegate.token"

func (g *Gateway) toLogin(c echo.Context) error {
	next := url.QueryEscape(c.Request().URL.RequestURI())
	return c.Redirect(http.StatusFound, "/login?next="+next)
}

func (g *Gateway) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// safeReturnPath accepts only same-origin absolute paths, rejecting
// redirect targets like "//evil.example" or full URLs.
func safeReturnPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	return len(p) < 2 || p[1] != '/'
}
