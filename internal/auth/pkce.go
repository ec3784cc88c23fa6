package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// OAuth endpoints and client identity for the provider's authorization-code
// flow.
const (
	ProviderName = "anthropic"

	ClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	AuthorizeURL = "https://claude.ai/oauth/authorize"
	TokenURL     = "https://console.anthropic.com/v1/oauth/token"
	RedirectURL  = "https://console.anthropic.com/oauth/code/callback"
	Scopes       = "org:create_api_key user:profile user:inference"
)

// Flow holds the PKCE state for one login attempt. The verifier doubles as
// the OAuth state parameter; the callback page echoes it back appended to
// the code, which lets us verify the response belongs to this attempt
// without a local listener.
type Flow struct {
	Verifier string
}

// NewFlow generates a fresh PKCE verifier.
func NewFlow() *Flow {
	return &Flow{Verifier: oauth2.GenerateVerifier()}
}

// AuthorizeURL returns the browser URL for the authorization step.
func (f *Flow) AuthorizeURL() string {
	cfg := oauth2.Config{
		ClientID:    ClientID,
		RedirectURL: RedirectURL,
		Scopes:      strings.Fields(Scopes),
		Endpoint:    oauth2.Endpoint{AuthURL: AuthorizeURL},
	}
	return cfg.AuthCodeURL(f.Verifier, oauth2.S256ChallengeOption(f.Verifier))
}

// ParsePastedCode splits the "code#state" token the callback page shows the
// user and checks the state against this flow's verifier.
func (f *Flow) ParsePastedCode(pasted string) (string, error) {
	pasted = strings.TrimSpace(pasted)
	code, state, ok := strings.Cut(pasted, "#")
	if !ok || code == "" {
		return "", fmt.Errorf("expected a code#state token from the callback page")
	}
	if state != f.Verifier {
		return "", fmt.Errorf("authorization state mismatch")
	}
	return code, nil
}
