// Package verifier lets backend services check credentials locally, using
// only the issuer's published public keys. It never talks to the session
// registry: a verified credential is trusted for its whole lifetime, and
// revocation takes effect at the gateway.
package verifier

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	hivegate "go.pilab.hu/hivegate"
	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/issuer"
)

// ErrUnknownTokenKind is returned for credentials whose kind claim is
// neither user nor service.
var ErrUnknownTokenKind = errors.New("unknown token kind")

// Keychain holds verification keys by kid.
type Keychain struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// ParseKeySet decodes a JWKS document into a Keychain. Keys that are not
// RSA signing keys are skipped.
func ParseKeySet(data []byte) (*Keychain, error) {
	var set issuer.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}
	return NewKeychain(set)
}

// NewKeychain builds a Keychain from an already-decoded key set.
func NewKeychain(set issuer.JSONWebKeySet) (*Keychain, error) {
	kc := &Keychain{keys: make(map[string]*rsa.PublicKey, len(set.Keys))}
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := decodeRSAKey(k)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.Kid, err)
		}
		kc.keys[k.Kid] = pub
	}
	return kc, nil
}

func decodeRSAKey(k issuer.JSONWebKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

// Replace swaps the full key set, e.g. after a JWKS refresh.
func (kc *Keychain) Replace(set issuer.JSONWebKeySet) error {
	next, err := NewKeychain(set)
	if err != nil {
		return err
	}
	kc.mu.Lock()
	kc.keys = next.keys
	kc.mu.Unlock()
	return nil
}

// Key returns the public key for a kid.
func (kc *Keychain) Key(kid string) (*rsa.PublicKey, bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	key, ok := kc.keys[kid]
	return key, ok
}

// Len reports the number of held keys.
func (kc *Keychain) Len() int {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return len(kc.keys)
}

// Verifier checks credentials offline against a Keychain.
type Verifier struct {
	keys   *Keychain
	issuer string
}

// New creates a Verifier that accepts credentials from the named issuer.
func New(keys *Keychain, issuerName string) *Verifier {
	return &Verifier{keys: keys, issuer: issuerName}
}

type rawClaims struct {
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	Username        string                 `json:"preferred_username"`
	PermissionLevel domain.PermissionLevel `json:"permission_level"`
	Groups          []string               `json:"groups"`
	TokenKind       string                 `json:"type"`
	CallingService  string                 `json:"calling_service"`
	TargetService   string                 `json:"target_service"`
	jwt.RegisteredClaims
}

// Verify checks the credential's signature and standard claims and returns
// the caller's principal. Any failure means the request must be rejected.
func (v *Verifier) Verify(token string) (domain.Principal, error) {
	claims := &rawClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, hivegate.ErrKeyNotFound):
			return nil, hivegate.ErrKeyNotFound
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, hivegate.ErrExpiredCredential
		default:
			return nil, fmt.Errorf("%w: %v", hivegate.ErrInvalidSignature, err)
		}
	}

	switch claims.TokenKind {
	case issuer.TokenKindUser:
		return domain.UserPrincipal{
			User: domain.UserAttributes{
				Sub:             claims.Subject,
				Name:            claims.Name,
				Email:           claims.Email,
				Username:        claims.Username,
				PermissionLevel: claims.PermissionLevel,
				Groups:          claims.Groups,
			},
			SessionID: claims.ID,
		}, nil
	case issuer.TokenKindService:
		return domain.ServicePrincipal{
			CallingService: claims.CallingService,
			TargetService:  claims.TargetService,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTokenKind, claims.TokenKind)
	}
}

func (v *Verifier) keyFunc(tok *jwt.Token) (any, error) {
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: credential has no kid header", hivegate.ErrKeyNotFound)
	}
	key, ok := v.keys.Key(kid)
	if !ok {
		return nil, fmt.Errorf("%w: kid %s", hivegate.ErrKeyNotFound, kid)
	}
	return key, nil
}
