package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibecore-ai/vibecore/internal/backoff"
	"github.com/vibecore-ai/vibecore/internal/infra"
	"github.com/vibecore-ai/vibecore/internal/observability"
)

// RefreshBuffer is how long before expiry a token is considered stale.
const RefreshBuffer = 5 * time.Minute

const refreshMaxAttempts = 3

// Manager hands out valid access tokens, refreshing OAuth credentials
// through a single-flight gate so concurrent callers trigger at most one
// refresh per provider.
type Manager struct {
	store   *Store
	client  *OAuthClient
	logger  *observability.Logger
	metrics *observability.Metrics
	policy  backoff.Policy
	gate    infra.Group[string, string]
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *observability.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the manager's metrics.
func WithMetrics(mt *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the manager's clock for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a token manager over a credential store and OAuth
// client.
func NewManager(store *Store, client *OAuthClient, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		logger: observability.Discard(),
		policy: backoff.TokenRefreshPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns a usable access token for the given provider,
// refreshing if the stored one is missing or expires within RefreshBuffer.
// API-key credentials are returned as-is.
func (m *Manager) GetValidToken(ctx context.Context, provider string) (string, error) {
	creds, err := m.store.Load(provider)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", ErrNotAuthenticated
	}

	switch creds.Type {
	case CredentialAPIKey:
		return creds.APIKey, nil
	case CredentialOAuth:
		if m.valid(creds) {
			return creds.Access, nil
		}
		return m.refreshGated(ctx, provider)
	default:
		return "", fmt.Errorf("unknown credential type %q", creds.Type)
	}
}

// CredentialType returns the stored credential type for a provider.
func (m *Manager) CredentialType(provider string) (CredentialType, error) {
	creds, err := m.store.Load(provider)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", ErrNotAuthenticated
	}
	return creds.Type, nil
}

func (m *Manager) valid(creds *Credentials) bool {
	if creds.Access == "" {
		return false
	}
	if creds.ExpiresAt == 0 {
		return true
	}
	expires := time.UnixMilli(creds.ExpiresAt)
	return !expires.Before(m.now().Add(RefreshBuffer))
}

func (m *Manager) refreshGated(ctx context.Context, provider string) (string, error) {
	token, err, shared := m.gate.Do(provider, func() (string, error) {
		// Another caller may have refreshed while we waited for the gate.
		creds, err := m.store.Load(provider)
		if err != nil {
			return "", err
		}
		if creds == nil {
			return "", ErrNotAuthenticated
		}
		if m.valid(creds) {
			return creds.Access, nil
		}
		if creds.Refresh == "" {
			return "", ErrAuthExpired
		}
		return m.refresh(ctx, provider, creds)
	})
	if shared {
		m.logger.Debug(ctx, "token refresh shared with in-flight caller", "provider", provider)
	}
	return token, err
}

func (m *Manager) refresh(ctx context.Context, provider string, creds *Credentials) (string, error) {
	resp, err := backoff.Retry(ctx, m.policy, refreshMaxAttempts,
		func(err error) bool { return errors.Is(err, ErrAuthExpired) },
		func(attempt int) (*TokenResponse, error) {
			if attempt > 1 {
				m.logger.Warn(ctx, "retrying token refresh", "provider", provider, "attempt", attempt)
			}
			return m.client.Refresh(ctx, creds.Refresh)
		})
	if err != nil {
		m.countRefresh("error")
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotAuthenticated) {
			return "", err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrAuthTransient, err)
	}

	updated := Credentials{
		Type:    CredentialOAuth,
		Access:  resp.AccessToken,
		Refresh: creds.Refresh,
	}
	// The provider may rotate the refresh token; keep the old one otherwise.
	if resp.RefreshToken != "" {
		updated.Refresh = resp.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		updated.ExpiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli()
	}

	if err := m.store.Save(provider, updated); err != nil {
		return "", fmt.Errorf("persist refreshed credentials: %w", err)
	}

	m.countRefresh("ok")
	m.logger.Info(ctx, "refreshed access token", "provider", provider)
	return updated.Access, nil
}

func (m *Manager) countRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}
