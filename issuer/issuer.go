package issuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	hivegate "go.pilab.hu/hivegate"
	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/idp"
	"go.pilab.hu/hivegate/internal/metrics"
	"go.pilab.hu/hivegate/registry"
)

var signingMethods = []string{jwt.SigningMethodRS256.Alg()}

// Issuer mints, validates, and revokes credentials. It holds the private
// signing keys and is the only component with revocation authority.
type Issuer struct {
	provider        idp.Provider
	registry        registry.SessionRegistry
	keys            *KeySet
	name            string
	userTokenTTL    time.Duration
	serviceTokenTTL time.Duration
	now             func() time.Time
}

// Options configures an Issuer.
type Options struct {
	// Name is the iss claim on every minted credential.
	Name string
	// UserTokenTTL bounds a user credential's embedded expiry. The effective
	// expiry is capped by the backing session's.
	UserTokenTTL time.Duration
	// ServiceTokenTTL is the fixed, much shorter lifetime of service
	// credentials.
	ServiceTokenTTL time.Duration
}

// New creates an Issuer over the given identity provider, session registry,
// and key set.
func New(provider idp.Provider, reg registry.SessionRegistry, keys *KeySet, opts Options) *Issuer {
	if opts.UserTokenTTL == 0 {
		opts.UserTokenTTL = time.Hour
	}
	if opts.ServiceTokenTTL == 0 {
		opts.ServiceTokenTTL = 5 * time.Minute
	}
	return &Issuer{
		provider:        provider,
		registry:        reg,
		keys:            keys,
		name:            opts.Name,
		userTokenTTL:    opts.UserTokenTTL,
		serviceTokenTTL: opts.ServiceTokenTTL,
		now:             time.Now,
	}
}

// Exchange validates an external access token with the identity provider,
// creates a session, and mints a signed user credential whose jti is the
// session ID.
func (i *Issuer) Exchange(ctx context.Context, externalAccessToken string) (string, *domain.Session, error) {
	info, err := i.provider.ValidateAccessToken(ctx, externalAccessToken)
	if err != nil {
		if metrics.ExchangeFailuresTotal != nil {
			metrics.ExchangeFailuresTotal.Inc()
		}
		if errors.Is(err, hivegate.ErrUpstreamAuth) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: %v", hivegate.ErrUpstreamAuth, err)
	}

	user := domain.UserAttributes{
		Sub:             info.Sub,
		Name:            info.Name,
		Email:           info.Email,
		Username:        info.Username,
		PermissionLevel: domain.PermissionFromGroups(info.Groups),
		Groups:          info.Groups,
	}

	session, err := i.registry.Create(ctx, user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := i.mintUserToken(session)
	if err != nil {
		return "", nil, err
	}

	if metrics.SessionsCreatedTotal != nil {
		metrics.SessionsCreatedTotal.Inc()
	}
	log.Info().
		Str("sub", user.Sub).
		Str("session_id", session.ID).
		Str("permission_level", string(user.PermissionLevel)).
		Msg("session created")

	return token, session, nil
}

func (i *Issuer) mintUserToken(session *domain.Session) (string, error) {
	now := i.now()

	// The credential must never outlive its session.
	expiresAt := now.Add(i.userTokenTTL)
	if expiresAt.After(session.ExpiresAt) {
		expiresAt = session.ExpiresAt
	}

	claims := UserClaims{
		Name:            session.User.Name,
		Email:           session.User.Email,
		Username:        session.User.Username,
		PermissionLevel: session.User.PermissionLevel,
		Groups:          session.User.Groups,
		TokenKind:       TokenKindUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   session.User.Sub,
			ID:        session.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	return i.sign(claims)
}

// MintServiceToken issues a short-lived, stateless credential for a
// service-to-service call. Which services may call which targets is policy
// for the target, not enforced here.
func (i *Issuer) MintServiceToken(_ context.Context, callingService, targetService string) (string, error) {
	if callingService == "" || targetService == "" {
		return "", errors.New("calling and target service are required")
	}

	now := i.now()
	claims := ServiceClaims{
		CallingService: callingService,
		TargetService:  targetService,
		TokenKind:      TokenKindService,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   "service:" + callingService,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.serviceTokenTTL)),
		},
	}

	token, err := i.sign(claims)
	if err != nil {
		return "", err
	}

	if metrics.ServiceTokensMintedTotal != nil {
		metrics.ServiceTokensMintedTotal.Inc()
	}
	log.Debug().
		Str("calling_service", callingService).
		Str("target_service", targetService).
		Msg("service token minted")

	return token, nil
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	kid, key := i.keys.SigningKey()
	if key == nil {
		return "", errors.New("no signing key available")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) keyfunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, hivegate.ErrKeyNotFound
	}
	key, ok := i.keys.PublicKey(kid)
	if !ok {
		return nil, hivegate.ErrKeyNotFound
	}
	return key, nil
}

// Validate verifies a user credential's signature and standard claims, then
// asks the registry whether the embedded session is still active. The error
// identifies the precise failure so callers can tell "needs re-login" from
// anything transient.
func (i *Issuer) Validate(ctx context.Context, tokenString string) (*domain.UserAttributes, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, i.keyfunc,
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(i.name),
	)
	if err != nil {
		err = i.classifyParseError(err)
		metrics.ObserveValidation(hivegate.Reason(err))
		return nil, err
	}

	if claims.TokenKind != TokenKindUser || claims.ID == "" {
		metrics.ObserveValidation(hivegate.ReasonNotFound)
		return nil, hivegate.ErrUnknownSession
	}

	session, err := i.registry.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.ObserveValidation(hivegate.ReasonNotFound)
			return nil, hivegate.ErrUnknownSession
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	now := i.now()
	switch {
	case session.Revoked:
		metrics.ObserveValidation(hivegate.ReasonRevoked)
		return nil, hivegate.ErrRevokedSession
	case session.Expired(now):
		metrics.ObserveValidation(hivegate.ReasonExpired)
		return nil, hivegate.ErrExpiredCredential
	}

	metrics.ObserveValidation("success")
	user := session.User
	return &user, nil
}

func (i *Issuer) classifyParseError(err error) error {
	switch {
	case errors.Is(err, hivegate.ErrKeyNotFound):
		// Rotation mismatch: callers see a signature failure, operators see
		// this log line.
		log.Warn().Err(err).Msg("credential references an unpublished key id")
		return hivegate.ErrKeyNotFound
	case errors.Is(err, jwt.ErrTokenExpired):
		return hivegate.ErrExpiredCredential
	default:
		return hivegate.ErrInvalidSignature
	}
}

// Revoke extracts the jti from a credential, checking nothing beyond the
// signature, and marks the session revoked. Idempotent: revoking an
// already-revoked or unknown session succeeds.
func (i *Issuer) Revoke(ctx context.Context, tokenString string) error {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, i.keyfunc,
		jwt.WithValidMethods(signingMethods),
		// An expired credential can still be revoked.
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return i.classifyParseError(err)
	}
	if claims.ID == "" {
		return nil
	}

	existed, err := i.registry.Revoke(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if existed {
		if metrics.SessionsRevokedTotal != nil {
			metrics.SessionsRevokedTotal.Inc()
		}
		log.Info().Str("session_id", claims.ID).Msg("session revoked")
	}
	return nil
}

// JWKS returns the currently published public key set.
func (i *Issuer) JWKS() JSONWebKeySet {
	return i.keys.JWKS()
}
