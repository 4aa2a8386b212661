package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/issuer"
)

func newProtectedEcho(t *testing.T, v *Verifier, level domain.PermissionLevel) *echo.Echo {
	t.Helper()
	e := echo.New()
	g := e.Group("", RequireAuth(v), RequireLevel(level))
	g.GET("/resource", func(c echo.Context) error {
		return c.String(http.StatusOK, PrincipalFromContext(c).Subject())
	})
	return e
}

func doGet(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthMissingCredential(t *testing.T) {
	keys := newTestKeys(t)
	e := newProtectedEcho(t, New(keychainFor(t, keys), testIssuer), domain.PermissionClient)

	rec := doGet(e, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doGet(e, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthPassesPrincipal(t *testing.T) {
	keys := newTestKeys(t)
	e := newProtectedEcho(t, New(keychainFor(t, keys), testIssuer), domain.PermissionClient)

	rec := doGet(e, signUserToken(t, keys, time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestRequireLevelForbidsLowerLevels(t *testing.T) {
	keys := newTestKeys(t)
	v := New(keychainFor(t, keys), testIssuer)
	e := newProtectedEcho(t, v, domain.PermissionAdmin)

	now := time.Now()
	claims := issuer.UserClaims{
		Username:        "bill",
		PermissionLevel: domain.PermissionBilling,
		Groups:          []string{"billing"},
		TokenKind:       issuer.TokenKindUser,
	}
	claims.Issuer = testIssuer
	claims.Subject = "u-2"
	claims.ID = "session-2"
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))

	rec := doGet(e, sign(t, keys, claims))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An admin clears the same gate.
	rec = doGet(e, signUserToken(t, keys, time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireLevelExemptsServiceCalls(t *testing.T) {
	keys := newTestKeys(t)
	e := newProtectedEcho(t, New(keychainFor(t, keys), testIssuer), domain.PermissionAdmin)

	now := time.Now()
	claims := issuer.ServiceClaims{
		CallingService: "billing",
		TargetService:  "ledger",
		TokenKind:      issuer.TokenKindService,
	}
	claims.Issuer = testIssuer
	claims.Subject = "service:billing"
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(5 * time.Minute))

	rec := doGet(e, sign(t, keys, claims))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "service:billing", rec.Body.String())
}

func TestRemoteKeySetServesFetchedKeys(t *testing.T) {
	keys := newTestKeys(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keys.JWKS()); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	rks, err := NewRemoteKeySet(context.Background(), srv.URL, RemoteOptions{})
	require.NoError(t, err)
	defer rks.Close()

	v := New(rks.Keychain(), testIssuer)
	_, err = v.Verify(signUserToken(t, keys, time.Hour))
	assert.NoError(t, err)
}

func TestRemoteKeySetInitialFetchMustSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRemoteKeySet(context.Background(), srv.URL, RemoteOptions{})
	assert.Error(t, err)
}

func TestRemoteKeySetRefreshesWithTimeoutlessClient(t *testing.T) {
	keys := newTestKeys(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keys.JWKS()); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	// A caller-supplied client without a timeout must not break the
	// background refresh.
	rks, err := NewRemoteKeySet(context.Background(), srv.URL, RemoteOptions{
		RefreshInterval: 20 * time.Millisecond,
		HTTPClient:      &http.Client{},
	})
	require.NoError(t, err)
	defer rks.Close()

	_, err = keys.Rotate()
	require.NoError(t, err)
	rotated := signUserToken(t, keys, time.Hour)

	v := New(rks.Keychain(), testIssuer)
	assert.Eventually(t, func() bool {
		_, err := v.Verify(rotated)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
