package issuer

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"go.pilab.hu/hivegate/internal/crypto"
)

// JSONWebKey is a published RSA public key in RFC 7517 form.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the published key set consumed by every verifier.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// KeySet owns the issuer's signing keypairs. The private halves never leave
// this process; the public halves are published keyed by kid. Rotation keeps
// the previous key in the published set so credentials signed with it keep
// verifying until it is retired.
type KeySet struct {
	mu      sync.RWMutex
	keys    map[string]*rsa.PrivateKey
	current string
}

// NewKeySet generates the initial signing key.
func NewKeySet() (*KeySet, error) {
	ks := &KeySet{keys: make(map[string]*rsa.PrivateKey)}
	if _, err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh keypair and makes it the signing key. Previously
// published keys stay in the set; retire them once no live credential can
// still reference them.
func (ks *KeySet) Rotate() (string, error) {
	key, err := crypto.GenerateRSAKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}

	kid := uuid.NewString()

	ks.mu.Lock()
	ks.keys[kid] = key
	ks.current = kid
	ks.mu.Unlock()

	return kid, nil
}

// Retire removes a key from the published set. The current signing key
// cannot be retired.
func (ks *KeySet) Retire(kid string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if kid == ks.current {
		return false
	}
	if _, ok := ks.keys[kid]; !ok {
		return false
	}
	delete(ks.keys, kid)
	return true
}

// SigningKey returns the current kid and private key.
func (ks *KeySet) SigningKey() (string, *rsa.PrivateKey) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current, ks.keys[ks.current]
}

// PublicKey returns the published public key for kid, if any.
func (ks *KeySet) PublicKey(kid string) (*rsa.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	key, ok := ks.keys[kid]
	if !ok {
		return nil, false
	}
	return key.Public().(*rsa.PublicKey), true
}

// JWKS returns every published public key.
func (ks *KeySet) JWKS() JSONWebKeySet {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	keys := make([]JSONWebKey, 0, len(ks.keys))
	for kid, key := range ks.keys {
		pub := key.Public().(*rsa.PublicKey)
		keys = append(keys, JSONWebKey{
			Kid: kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return JSONWebKeySet{Keys: keys}
}
