package verifier

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/domain"
)

// principalContextKey is the echo context key the middleware stores the
// verified principal under.
const principalContextKey = "hivegate.principal"

// PrincipalFromContext returns the principal set by RequireAuth, or nil.
func PrincipalFromContext(c echo.Context) domain.Principal {
	p, _ := c.Get(principalContextKey).(domain.Principal)
	return p
}

// RequireAuth rejects requests without a valid bearer credential and stores
// the verified principal on the context.
func RequireAuth(v *Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
			}

			principal, err := v.Verify(token)
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("credential rejected")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}

			c.Set(principalContextKey, principal)
			return next(c)
		}
	}
}

// RequireLevel rejects user principals below the given permission level.
// Service principals pass: inter-service calls carry service-level trust,
// not a user permission.
func RequireLevel(level domain.PermissionLevel) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch p := PrincipalFromContext(c).(type) {
			case domain.UserPrincipal:
				if !p.User.PermissionLevel.AtLeast(level) {
					return echo.NewHTTPError(http.StatusForbidden, "insufficient permission level")
				}
				return next(c)
			case domain.ServicePrincipal:
				return next(c)
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer credential")
			}
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
