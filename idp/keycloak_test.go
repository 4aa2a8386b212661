package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hivegate "go.pilab.hu/hivegate"
)

func newKeycloakServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/realms/hive/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "kc-access",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	})

	mux.HandleFunc("/realms/hive/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer kc-access" {
			http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"sub":                "u-1",
			"name":               "Ada Admin",
			"email":              "ada@example.com",
			"preferred_username": "ada",
			"groups":             []string{"admins"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestKeycloak(t *testing.T, baseURL string) *Keycloak {
	t.Helper()
	kc, err := NewKeycloak(KeycloakConfig{
		BaseURL:      baseURL,
		Realm:        "hive",
		ClientID:     "hivegate",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	return kc
}

func TestNewKeycloakRequiresCoordinates(t *testing.T) {
	_, err := NewKeycloak(KeycloakConfig{Realm: "hive", ClientID: "x"})
	assert.ErrorIs(t, err, ErrProviderMisconfigured)
	_, err = NewKeycloak(KeycloakConfig{BaseURL: "http://kc", ClientID: "x"})
	assert.ErrorIs(t, err, ErrProviderMisconfigured)
}

func TestAuthCodeURLShape(t *testing.T) {
	kc := newTestKeycloak(t, "http://kc.example")

	u := kc.AuthCodeURL("state-1", "http://gw.example/auth/callback")
	assert.True(t, strings.HasPrefix(u, "http://kc.example/realms/hive/protocol/openid-connect/auth?"))
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "client_id=hivegate")
	assert.Contains(t, u, "scope=openid+profile+email")
}

func TestExchangeCode(t *testing.T) {
	srv := newKeycloakServer(t)
	kc := newTestKeycloak(t, srv.URL)

	token, err := kc.ExchangeCode(context.Background(), "good-code", "http://gw.example/auth/callback")
	require.NoError(t, err)
	assert.Equal(t, "kc-access", token)

	_, err = kc.ExchangeCode(context.Background(), "bad-code", "http://gw.example/auth/callback")
	assert.ErrorIs(t, err, hivegate.ErrUpstreamAuth)
}

func TestValidateAccessToken(t *testing.T) {
	srv := newKeycloakServer(t)
	kc := newTestKeycloak(t, srv.URL)

	info, err := kc.ValidateAccessToken(context.Background(), "kc-access")
	require.NoError(t, err)
	assert.Equal(t, "u-1", info.Sub)
	assert.Equal(t, "ada", info.Username)
	assert.Equal(t, []string{"admins"}, info.Groups)

	_, err = kc.ValidateAccessToken(context.Background(), "stolen")
	assert.ErrorIs(t, err, hivegate.ErrUpstreamAuth)
}

func TestValidateAccessTokenTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	kc, err := NewKeycloak(KeycloakConfig{
		BaseURL:  slow.URL,
		Realm:    "hive",
		ClientID: "hivegate",
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = kc.ValidateAccessToken(context.Background(), "kc-access")
	assert.ErrorIs(t, err, hivegate.ErrUpstreamAuth)
}

func TestValidateAccessTokenMissingSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"nobody"}`))
	}))
	t.Cleanup(srv.Close)

	kc := newTestKeycloak(t, srv.URL)
	_, err := kc.ValidateAccessToken(context.Background(), "kc-access")
	assert.ErrorIs(t, err, hivegate.ErrUpstreamAuth)
}
