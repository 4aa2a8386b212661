package issuer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hivegate "go.pilab.hu/hivegate"
	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/idp"
	"go.pilab.hu/hivegate/registry"
)

// fakeProvider accepts a single access token and returns canned attributes.
type fakeProvider struct {
	accessToken string
	info        idp.UserInfo
	err         error
}

func (f *fakeProvider) AuthCodeURL(state, redirectURL string) string {
	return "http://idp.example/auth?state=" + state
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, _ string) (string, error) {
	return f.accessToken, nil
}

func (f *fakeProvider) ValidateAccessToken(_ context.Context, token string) (*idp.UserInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != f.accessToken {
		return nil, hivegate.ErrUpstreamAuth
	}
	info := f.info
	return &info, nil
}

func newTestIssuer(t *testing.T, opts Options) (*Issuer, *registry.MemoryRegistry, *fakeProvider) {
	t.Helper()

	keys, err := NewKeySet()
	require.NoError(t, err)

	reg := newTestRegistry(t)
	provider := &fakeProvider{
		accessToken: "kc-access-token",
		info: idp.UserInfo{
			Sub:      "u-1",
			Name:     "Ada Admin",
			Email:    "ada@example.com",
			Username: "ada",
			Groups:   []string{"admins", "vpn-users"},
		},
	}

	if opts.Name == "" {
		opts.Name = "hivegate"
	}
	return New(provider, reg, keys, opts), reg, provider
}

// newTestRegistry returns a memory registry with an hour of session life and
// no background sweeper.
func newTestRegistry(t *testing.T) *registry.MemoryRegistry {
	t.Helper()
	r := registry.NewMemoryRegistry(time.Hour, 0)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestExchangeMintsValidatableCredential(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, session, err := iss.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, domain.PermissionAdmin, session.User.PermissionLevel)

	user, err := iss.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.Sub)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, domain.PermissionAdmin, user.PermissionLevel)
	assert.Equal(t, []string{"admins", "vpn-users"}, user.Groups)
}

func TestExchangeRejectedUpstream(t *testing.T) {
	iss, reg, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	_, _, err := iss.Exchange(ctx, "wrong-token")
	assert.ErrorIs(t, err, hivegate.ErrUpstreamAuth)

	// No session is created for a failed exchange.
	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestValidateAfterRevoke(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, _, err := iss.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)

	_, err = iss.Validate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(ctx, token))

	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrRevokedSession)
	assert.Equal(t, hivegate.ReasonRevoked, hivegate.Reason(err))

	// Revocation is permanent.
	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrRevokedSession)
}

func TestRevokeIdempotent(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, _, err := iss.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(ctx, token))
	require.NoError(t, iss.Revoke(ctx, token))

	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrRevokedSession)

	// Revoking a credential whose session does not exist also succeeds.
	otherReg := registry.NewMemoryRegistry(time.Hour, 0)
	defer otherReg.Close(ctx)
	other := New(&fakeProvider{}, otherReg, iss.keys, Options{Name: "hivegate"})
	assert.NoError(t, other.Revoke(ctx, token))
}

func TestValidateUnknownSession(t *testing.T) {
	keys, err := NewKeySet()
	require.NoError(t, err)

	// Two registries sharing one key set: a credential minted against one
	// has no session in the other.
	regA := registry.NewMemoryRegistry(time.Hour, 0)
	defer regA.Close(context.Background())
	regB := registry.NewMemoryRegistry(time.Hour, 0)
	defer regB.Close(context.Background())

	provider := &fakeProvider{accessToken: "tok", info: idp.UserInfo{Sub: "u-1"}}
	issA := New(provider, regA, keys, Options{Name: "hivegate"})
	issB := New(provider, regB, keys, Options{Name: "hivegate"})

	ctx := context.Background()
	token, _, err := issA.Exchange(ctx, "tok")
	require.NoError(t, err)

	_, err = issB.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrUnknownSession)
	assert.Equal(t, hivegate.ReasonNotFound, hivegate.Reason(err))
}

func TestValidateExpiredSession(t *testing.T) {
	keys, err := NewKeySet()
	require.NoError(t, err)

	reg := registry.NewMemoryRegistry(30*time.Millisecond, 0)
	defer reg.Close(context.Background())

	provider := &fakeProvider{accessToken: "tok", info: idp.UserInfo{Sub: "u-1"}}
	iss := New(provider, reg, keys, Options{Name: "hivegate"})

	ctx := context.Background()
	token, _, err := iss.Exchange(ctx, "tok")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrExpiredCredential)
}

func TestValidateTamperedToken(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, _, err := iss.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	_, err = iss.Validate(ctx, tampered)
	assert.ErrorIs(t, err, hivegate.ErrInvalidSignature)
	assert.Equal(t, hivegate.ReasonSignature, hivegate.Reason(err))
}

func TestValidateAcrossRotation(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, _, err := iss.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)

	oldKid, _ := iss.keys.SigningKey()
	_, err = iss.keys.Rotate()
	require.NoError(t, err)

	// Signed with a retired-but-still-published key: still verifies.
	_, err = iss.Validate(ctx, token)
	assert.NoError(t, err)

	// Once the key leaves the published set, verification fails and the
	// caller sees a signature failure.
	require.True(t, iss.keys.Retire(oldKid))
	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrKeyNotFound)
	assert.Equal(t, hivegate.ReasonSignature, hivegate.Reason(err))
}

func TestUserCredentialExpiryCappedBySession(t *testing.T) {
	keys, err := NewKeySet()
	require.NoError(t, err)

	reg := registry.NewMemoryRegistry(10*time.Minute, 0)
	defer reg.Close(context.Background())

	provider := &fakeProvider{accessToken: "tok", info: idp.UserInfo{Sub: "u-1"}}
	iss := New(provider, reg, keys, Options{Name: "hivegate", UserTokenTTL: time.Hour})

	ctx := context.Background()
	token, session, err := iss.Exchange(ctx, "tok")
	require.NoError(t, err)

	claims := &UserClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		key, _ := keys.PublicKey(kid)
		return key, nil
	})
	require.NoError(t, err)

	assert.Equal(t, session.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestServiceTokenStateless(t *testing.T) {
	iss, reg, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, err := iss.MintServiceToken(ctx, "billing", "ledger")
	require.NoError(t, err)

	// No registry record is created for service credentials.
	count, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	claims := &ServiceClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		kid, _ := tok.Header["kid"].(string)
		key, _ := iss.keys.PublicKey(kid)
		return key, nil
	}, jwt.WithValidMethods(signingMethods))
	require.NoError(t, err)

	assert.Equal(t, TokenKindService, claims.TokenKind)
	assert.Equal(t, "billing", claims.CallingService)
	assert.Equal(t, "ledger", claims.TargetService)
	assert.Equal(t, "service:billing", claims.Subject)

	// A service credential presented to Validate is not a user credential.
	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrUnknownSession)
}

func TestMintServiceTokenRequiresNames(t *testing.T) {
	iss, _, _ := newTestIssuer(t, Options{})

	_, err := iss.MintServiceToken(context.Background(), "", "ledger")
	assert.Error(t, err)
	_, err = iss.MintServiceToken(context.Background(), "billing", "")
	assert.Error(t, err)
}

func TestRevokeRejectsForeignSignature(t *testing.T) {
	issA, _, _ := newTestIssuer(t, Options{})
	issB, _, _ := newTestIssuer(t, Options{})
	ctx := context.Background()

	token, _, err := issA.Exchange(ctx, "kc-access-token")
	require.NoError(t, err)

	// issB has different keys; the kid is unknown to it.
	err = issB.Revoke(ctx, token)
	assert.ErrorIs(t, err, hivegate.ErrKeyNotFound)
}
