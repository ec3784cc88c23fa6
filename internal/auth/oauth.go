package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OAuthClient talks to the provider's token endpoint. The endpoint accepts
// JSON request bodies rather than form encoding.
type OAuthClient struct {
	HTTPClient *http.Client
	TokenURL   string
}

// NewOAuthClient returns a client against the production token endpoint.
func NewOAuthClient() *OAuthClient {
	return &OAuthClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		TokenURL:   TokenURL,
	}
}

// TokenResponse is the provider's token grant response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange trades an authorization code for tokens.
func (c *OAuthClient) Exchange(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	return c.post(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"state":         verifier,
		"client_id":     ClientID,
		"redirect_uri":  RedirectURL,
		"code_verifier": verifier,
	})
}

// Refresh trades a refresh token for a new access token.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.post(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     ClientID,
	})
}

func (c *OAuthClient) post(ctx context.Context, body map[string]string) (*TokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", ErrAuthTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var tr TokenResponse
		if err := json.Unmarshal(data, &tr); err != nil {
			return nil, fmt.Errorf("decode token response: %w", err)
		}
		if tr.AccessToken == "" {
			return nil, fmt.Errorf("token response missing access_token")
		}
		return &tr, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb tokenErrorBody
		_ = json.Unmarshal(data, &eb)
		if eb.Error == "invalid_grant" || strings.Contains(strings.ToLower(string(data)), "invalid_grant") {
			return nil, fmt.Errorf("%w: %s", ErrAuthExpired, eb.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: token endpoint returned %d: %s", ErrAuthExpired, resp.StatusCode, eb.Error)
	default:
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrAuthTransient, resp.StatusCode)
	}
}
