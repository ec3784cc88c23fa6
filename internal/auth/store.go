package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CredentialType distinguishes API-key from OAuth credentials.
type CredentialType string

const (
	CredentialAPIKey CredentialType = "api_key"
	CredentialOAuth  CredentialType = "oauth"
)

// Credentials holds one provider's stored secrets. ExpiresAt is unix
// milliseconds; zero means no expiry.
type Credentials struct {
	Type      CredentialType `json:"type"`
	APIKey    string         `json:"api_key,omitempty"`
	Access    string         `json:"access,omitempty"`
	Refresh   string         `json:"refresh,omitempty"`
	ExpiresAt int64          `json:"expires,omitempty"`
}

// Store persists a provider-name to Credentials mapping as a JSON file with
// owner-only permissions. Malformed files decode as empty; unknown fields
// are tolerated but not preserved across writes.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the per-user auth file location, honoring
// XDG_DATA_HOME when set.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vibecore", "auth.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "vibecore", "auth.json"), nil
}

// Path returns the auth file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the credentials for a provider, preserving other providers'
// entries.
func (s *Store) Save(provider string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()
	all[provider] = creds
	return s.writeAll(all)
}

// Load returns the stored credentials for a provider, or nil if none.
func (s *Store) Load(provider string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()
	creds, ok := all[provider]
	if !ok {
		return nil, nil
	}
	return &creds, nil
}

// Remove deletes a provider's credentials. Removing a missing provider is a
// no-op.
func (s *Store) Remove(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readAll()
	if _, ok := all[provider]; !ok {
		return nil
	}
	delete(all, provider)
	return s.writeAll(all)
}

func (s *Store) readAll() map[string]Credentials {
	all := make(map[string]Credentials)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return all
	}
	if err := json.Unmarshal(data, &all); err != nil {
		// Malformed vault is treated as empty rather than blocking login.
		return make(map[string]Credentials)
	}
	return all
}

func (s *Store) writeAll(all map[string]Credentials) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create auth directory: %w", err)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".auth-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp auth file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod auth file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write auth file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close auth file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace auth file: %w", err)
	}
	return nil
}
