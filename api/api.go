// Package api binds the token issuer's operations onto its public HTTP
// surface.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	hivegate "go.pilab.hu/hivegate"
	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/issuer"
)

// API holds the issuer HTTP handlers.
type API struct {
	issuer      *issuer.Issuer
	serviceName string
}

// New creates the issuer API.
func New(iss *issuer.Issuer, serviceName string) *API {
	return &API{issuer: iss, serviceName: serviceName}
}

// RegisterRoutes registers the issuer routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.POST("/token/exchange", a.ExchangeHandler)
	e.POST("/token/validate", a.ValidateHandler)
	e.POST("/token/revoke", a.RevokeHandler)
	e.POST("/service-token", a.ServiceTokenHandler)
	e.GET("/.well-known/jwks.json", a.JWKSHandler)
	e.GET("/health", a.HealthHandler)
}

type exchangeRequest struct {
	AccessToken string `json:"access_token"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ExchangeHandler converts an external access token into a signed user
// credential backed by a fresh session.
func (a *API) ExchangeHandler(c echo.Context) error {
	var req exchangeRequest
	if err := c.Bind(&req); err != nil || req.AccessToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "access_token is required"})
	}

	token, _, err := a.issuer.Exchange(c.Request().Context(), req.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("token exchange failed")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "identity provider rejected the exchange"})
	}

	return c.JSON(http.StatusOK, tokenResponse{Token: token})
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid bool                   `json:"valid"`
	User  *domain.UserAttributes `json:"user,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// ValidateHandler verifies a user credential and reports the structured
// invalid-reason on failure. The response is 200 either way; transport-level
// errors are the only non-200s.
func (a *API) ValidateHandler(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "token is required"})
	}

	user, err := a.issuer.Validate(c.Request().Context(), req.Token)
	if err != nil {
		// A registry outage is not a verdict on the credential. Callers
		// must see a transport failure, not a terminal reason that would
		// make them discard a session that may still be good.
		if !hivegate.Terminal(err) {
			log.Error().Err(err).Msg("validate failed against the session registry")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "session registry unavailable"})
		}
		return c.JSON(http.StatusOK, validateResponse{Valid: false, Error: hivegate.Reason(err)})
	}

	return c.JSON(http.StatusOK, validateResponse{Valid: true, User: user})
}

type revokeResponse struct {
	Message string `json:"message"`
}

// RevokeHandler marks the credential's session revoked. Idempotent: any
// well-formed, properly signed credential gets a success response, whether
// or not its session still exists.
func (a *API) RevokeHandler(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "token is required"})
	}

	if err := a.issuer.Revoke(c.Request().Context(), req.Token); err != nil {
		if !hivegate.Terminal(err) {
			log.Error().Err(err).Msg("revoke failed against the session registry")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "session registry unavailable"})
		}
		log.Warn().Err(err).Msg("revoke rejected")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "credential could not be decoded"})
	}

	return c.JSON(http.StatusOK, revokeResponse{Message: "session revoked"})
}

type serviceTokenRequest struct {
	CallingService string `json:"calling_service"`
	TargetService  string `json:"target_service"`
}

// ServiceTokenHandler mints a short-lived service-to-service credential.
func (a *API) ServiceTokenHandler(c echo.Context) error {
	var req serviceTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request"})
	}

	token, err := a.issuer.MintServiceToken(c.Request().Context(), req.CallingService, req.TargetService)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "calling_service and target_service are required"})
	}

	return c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// JWKSHandler publishes the verification key set. Cacheable: verifiers poll
// it rather than hitting the issuer per request.
func (a *API) JWKSHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=300")
	return c.JSON(http.StatusOK, a.issuer.JWKS())
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// HealthHandler is the monitoring probe every service exposes.
func (a *API) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   a.serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
