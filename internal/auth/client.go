package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoCredential indicates the principal has no provider account connected.
var ErrNoCredential = errors.New("no credential for principal")

// Token is a provider bearer credential for one principal. The sync core
// treats it as immutable input for a run; refresh happens upstream in the
// credential supplier.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// Expired reports whether the access token is already past its expiry.
// A zero expiry means the supplier did not report one and the token is
// assumed usable.
func (t *Token) Expired() bool {
	return !t.Expiry.IsZero() && time.Now().After(t.Expiry)
}

// CredentialClient fetches provider tokens from the credential supplier.
// The supplier owns storage and refresh; this client only reads.
type CredentialClient struct {
	baseURL      string
	serviceToken string
	client       *http.Client
}

// NewCredentialClient creates a client for the credential supplier at baseURL.
func NewCredentialClient(baseURL, serviceToken string) *CredentialClient {
	return &CredentialClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// Credential fetches the current bearer token for a principal.
func (c *CredentialClient) Credential(ctx context.Context, principalID string) (*Token, error) {
	url := fmt.Sprintf("%s/credentials/%s", c.baseURL, principalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoCredential, principalID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresAt    int64    `json:"expires_at"` // unix seconds
		Scopes       []string `json:"scopes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	tok := &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Scopes:       result.Scopes,
	}
	if result.ExpiresAt != 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}
