package issuer

import (
	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/hivegate/domain"
)

// Token kinds carried in the "type" claim. Verifiers classify on this.
const (
	TokenKindUser    = "user"
	TokenKindService = "service"
)

// UserClaims is the payload of a user credential. The jti is the backing
// session's ID; the embedded expiry never exceeds the session's.
type UserClaims struct {
	Name            string                 `json:"name,omitempty"`
	Email           string                 `json:"email,omitempty"`
	Username        string                 `json:"preferred_username,omitempty"`
	PermissionLevel domain.PermissionLevel `json:"permission_level"`
	Groups          []string               `json:"groups,omitempty"`
	TokenKind       string                 `json:"type"`
	jwt.RegisteredClaims
}

// Attributes rebuilds the user attribute set embedded in the claims.
func (c *UserClaims) Attributes() domain.UserAttributes {
	return domain.UserAttributes{
		Sub:             c.Subject,
		Name:            c.Name,
		Email:           c.Email,
		Username:        c.Username,
		PermissionLevel: c.PermissionLevel,
		Groups:          c.Groups,
	}
}

// ServiceClaims is the payload of a service credential. There is no backing
// session: validity rests on signature and expiry alone, so these cannot be
// revoked early. The short lifetime is the only mitigation.
type ServiceClaims struct {
	CallingService string `json:"calling_service"`
	TargetService  string `json:"target_service"`
	TokenKind      string `json:"type"`
	jwt.RegisteredClaims
}
