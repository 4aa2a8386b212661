// Package client is the HTTP client for the token issuer, used by the
// gateway, the operator CLI, and any service that needs to mint or check
// credentials centrally.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	hivegate "go.pilab.hu/hivegate"
	"go.pilab.hu/hivegate/domain"
	"go.pilab.hu/hivegate/issuer"
)

// IssuerClient talks to the issuer's JSON API.
type IssuerClient struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the issuer at baseURL.
func New(baseURL string, httpClient *http.Client) *IssuerClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IssuerClient{baseURL: baseURL, http: httpClient}
}

// ValidationResult is the issuer's answer to a validate call.
type ValidationResult struct {
	Valid bool                   `json:"valid"`
	User  *domain.UserAttributes `json:"user,omitempty"`
	// Reason is one of the invalid-reason codes when Valid is false.
	Reason string `json:"error,omitempty"`
}

// Exchange trades an external access token for a signed user credential.
func (c *IssuerClient) Exchange(ctx context.Context, accessToken string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/token/exchange", map[string]string{"access_token": accessToken}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Validate asks the issuer whether a credential is good. A definite "no" is
// not an error: callers inspect the result.
func (c *IssuerClient) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	var resp ValidationResult
	if err := c.post(ctx, "/token/validate", map[string]string{"token": token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Revoke kills the credential's session.
func (c *IssuerClient) Revoke(ctx context.Context, token string) error {
	return c.post(ctx, "/token/revoke", map[string]string{"token": token}, nil)
}

// ServiceToken mints a service-to-service credential.
func (c *IssuerClient) ServiceToken(ctx context.Context, calling, target string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/service-token", map[string]string{
		"calling_service": calling,
		"target_service":  target,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// JWKS fetches the issuer's published verification keys.
func (c *IssuerClient) JWKS(ctx context.Context) (*issuer.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.well-known/jwks.json", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hivegate.ErrUpstreamAuth, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issuer returned %s for key set", res.Status)
	}
	var set issuer.JSONWebKeySet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}
	return &set, nil
}

func (c *IssuerClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", hivegate.ErrUpstreamAuth, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s (%s)", hivegate.ErrUpstreamAuth, apiErr.Error, res.Status)
		}
		return fmt.Errorf("%w: issuer returned %s", hivegate.ErrUpstreamAuth, res.Status)
	}

	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
