package provider

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vibecore-ai/vibecore/internal/auth"
)

func newTestInterceptor(t *testing.T, creds auth.Credentials) *Interceptor {
	t.Helper()
	store := auth.NewStore(filepath.Join(t.TempDir(), "auth.json"))
	if err := store.Save(auth.ProviderName, creds); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tokens := auth.NewManager(store, auth.NewOAuthClient())
	return NewInterceptor(tokens, auth.ProviderName, "api.anthropic.com")
}

func providerRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestInterceptorAPIKeyHeaders(t *testing.T) {
	ic := newTestInterceptor(t, auth.Credentials{Type: auth.CredentialAPIKey, APIKey: "sk-test"})
	req := providerRequest(t, `{"model":"m"}`)

	if err := ic.apply(req); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := req.Header.Get("X-Api-Key"); got != "sk-test" {
		t.Errorf("X-Api-Key = %q", got)
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("api-key request must not carry Authorization")
	}
	if got := req.Header.Get("anthropic-version"); got != apiVersion {
		t.Errorf("anthropic-version = %q", got)
	}
	if beta := req.Header.Get("anthropic-beta"); !strings.Contains(beta, "oauth-2025-04-20") || !strings.Contains(beta, "claude-code-20250219") {
		t.Errorf("anthropic-beta = %q", beta)
	}
}

func TestInterceptorOAuthHeaders(t *testing.T) {
	ic := newTestInterceptor(t, auth.Credentials{
		Type:      auth.CredentialOAuth,
		Access:    "at-123",
		Refresh:   "rt",
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	req := providerRequest(t, `{"model":"m","system":"Be terse."}`)
	req.Header.Set("X-Api-Key", "should-be-removed")

	if err := ic.apply(req); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := req.Header.Get("Authorization"); got != "Bearer at-123" {
		t.Errorf("Authorization = %q", got)
	}
	if req.Header.Get("X-Api-Key") != "" {
		t.Error("oauth request must not carry X-Api-Key")
	}

	data, _ := io.ReadAll(req.Body)
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("rewritten body is not JSON: %v", err)
	}
	system, _ := body["system"].(string)
	if !strings.HasPrefix(system, identityPrefix+"\n\n") || !strings.HasSuffix(system, "Be terse.") {
		t.Errorf("system = %q", system)
	}
	if req.ContentLength != int64(len(data)) {
		t.Errorf("ContentLength = %d, body is %d bytes", req.ContentLength, len(data))
	}
}

func TestInterceptorNonProviderHostPassesThrough(t *testing.T) {
	ic := newTestInterceptor(t, auth.Credentials{Type: auth.CredentialOAuth, Access: "at"})

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/health", nil)
	called := false
	next := func(r *http.Request) (*http.Response, error) {
		called = true
		if r.Header.Get("Authorization") != "" {
			t.Error("non-provider request was modified")
		}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}

	if _, err := ic.Middleware()(req, next); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if !called {
		t.Error("next was not invoked")
	}
}

func TestPrependIdentity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"missing", "", `"` + identityPrefix + `"`},
		{"null", "null", `"` + identityPrefix + `"`},
		{
			"string",
			`"Existing."`,
			`"` + identityPrefix + `\n\nExisting."`,
		},
		{
			"already prefixed string",
			`"` + identityPrefix + ` More."`,
			`"` + identityPrefix + ` More."`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in json.RawMessage
			if tt.in != "" {
				in = json.RawMessage(tt.in)
			}
			got, err := prependIdentity(in)
			if err != nil {
				t.Fatalf("prependIdentity: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrependIdentityBlockList(t *testing.T) {
	in := json.RawMessage(`[{"type":"text","text":"Existing.","cache_control":{"type":"ephemeral"}}]`)
	got, err := prependIdentity(in)
	if err != nil {
		t.Fatalf("prependIdentity: %v", err)
	}

	var blocks []systemBlock
	if err := json.Unmarshal(got, &blocks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Text != identityPrefix {
		t.Errorf("first block = %q", blocks[0].Text)
	}
	if blocks[1].Text != "Existing." || len(blocks[1].CacheControl) == 0 {
		t.Errorf("existing block altered: %+v", blocks[1])
	}
}
