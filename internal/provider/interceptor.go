package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vibecore-ai/vibecore/internal/auth"
)

const (
	apiVersion  = "2023-06-01"
	betaHeader  = "oauth-2025-04-20,claude-code-20250219,interleaved-thinking-2025-05-14"
	userAgent   = "vibecore/1.0"
	appIdentity = "cli"

	// identityPrefix is prepended to the system prompt on OAuth requests.
	// The provider requires this exact sentence for inference-scoped tokens.
	identityPrefix = "You are Claude Code, Anthropic's official CLI for Claude."
)

// Interceptor rewrites outbound provider requests with auth and identity
// headers. Requests to other hosts pass through unchanged.
type Interceptor struct {
	tokens       *auth.Manager
	providerName string
	providerHost string
}

// NewInterceptor builds an interceptor bound to a token manager.
func NewInterceptor(tokens *auth.Manager, providerName, providerHost string) *Interceptor {
	return &Interceptor{
		tokens:       tokens,
		providerName: providerName,
		providerHost: providerHost,
	}
}

// Middleware returns the SDK middleware that applies this interceptor.
func (ic *Interceptor) Middleware() option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if req.URL.Host != ic.providerHost {
			return next(req)
		}
		if err := ic.apply(req); err != nil {
			return nil, err
		}
		return next(req)
	}
}

func (ic *Interceptor) apply(req *http.Request) error {
	ctx := req.Context()

	token, err := ic.tokens.GetValidToken(ctx, ic.providerName)
	if err != nil {
		return err
	}
	credType, err := ic.tokens.CredentialType(ic.providerName)
	if err != nil {
		return err
	}

	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-App", appIdentity)

	switch credType {
	case auth.CredentialAPIKey:
		req.Header.Del("Authorization")
		req.Header.Set("X-Api-Key", token)
		return nil
	case auth.CredentialOAuth:
		// The SDK adds X-Api-Key when configured with one; OAuth requests
		// must carry only the bearer token.
		req.Header.Del("X-Api-Key")
		req.Header.Set("Authorization", "Bearer "+token)
		return ic.injectIdentity(req)
	default:
		return fmt.Errorf("unknown credential type %q", credType)
	}
}

// injectIdentity prepends the required identity sentence to the request's
// system prompt, adding a leading system block when none exists.
func (ic *Interceptor) injectIdentity(req *http.Request) error {
	if req.Body == nil || req.Method != http.MethodPost {
		return nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		// Not a JSON object; send as-is.
		req.Body = io.NopCloser(bytes.NewReader(data))
		return nil
	}

	rewritten, err := prependIdentity(body["system"])
	if err != nil {
		return err
	}
	body["system"] = rewritten

	updated, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(updated))
	req.ContentLength = int64(len(updated))
	req.Header.Set("Content-Length", fmt.Sprint(len(updated)))
	return nil
}

type systemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

func prependIdentity(system json.RawMessage) (json.RawMessage, error) {
	if len(system) == 0 || string(system) == "null" {
		return json.Marshal(identityPrefix)
	}

	var str string
	if err := json.Unmarshal(system, &str); err == nil {
		if strings.HasPrefix(str, identityPrefix) {
			return system, nil
		}
		return json.Marshal(identityPrefix + "\n\n" + str)
	}

	var blocks []systemBlock
	if err := json.Unmarshal(system, &blocks); err != nil {
		return nil, fmt.Errorf("unrecognized system prompt shape: %w", err)
	}
	if len(blocks) > 0 && strings.HasPrefix(blocks[0].Text, identityPrefix) {
		return system, nil
	}
	blocks = append([]systemBlock{{Type: "text", Text: identityPrefix}}, blocks...)
	return json.Marshal(blocks)
}
