// Package config defines the runtime configuration: model settings, session
// storage, tool confinement, agents, and MCP servers. Values load from a
// YAML file with environment overrides; the resulting Config is immutable
// and passed to the components that need it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vibecore-ai/vibecore/internal/mcp"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultModel       = "claude-sonnet-4-5"
	DefaultMaxTokens   = 8192
	DefaultMaxTurns    = 200
	DefaultLockTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Config is the full runtime configuration.
type Config struct {
	// Model is the Anthropic model id used by the default agent.
	Model string `yaml:"model,omitempty"`

	// MaxTokens caps each model response.
	MaxTokens int64 `yaml:"max_tokens,omitempty"`

	// MaxTurns caps model requests per user turn.
	MaxTurns int `yaml:"max_turns,omitempty"`

	// Temperature overrides the model default when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Reasoning enables extended thinking.
	Reasoning bool `yaml:"reasoning,omitempty"`

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string `yaml:"base_url,omitempty"`

	// BaseDir is the state root: sessions under <base_dir>/projects/.
	// Defaults to ~/.vibecore.
	BaseDir string `yaml:"base_dir,omitempty"`

	// LockTimeout bounds session file lock acquisition.
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`

	Log    LogConfig     `yaml:"log,omitempty"`
	Tools  ToolsConfig   `yaml:"tools,omitempty"`
	Agents []AgentConfig `yaml:"agents,omitempty"`

	// MCPServers are external stdio tool servers to launch at startup.
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers,omitempty"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// AllowedDirectories confine filesystem and shell tools. Defaults to
	// the working directory.
	AllowedDirectories []string `yaml:"allowed_directories,omitempty"`

	// Disabled lists built-in tool names to leave unregistered.
	Disabled []string `yaml:"disabled,omitempty"`
}

// AgentConfig declares one agent beyond the implicit main agent.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	Handoffs     []string `yaml:"handoffs,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.BaseDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.BaseDir = filepath.Join(home, ".vibecore")
		} else {
			c.BaseDir = ".vibecore"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if len(c.Tools.AllowedDirectories) == 0 {
		if wd, err := os.Getwd(); err == nil {
			c.Tools.AllowedDirectories = []string{wd}
		}
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be at least 1")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1")
	}

	names := map[string]bool{}
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent name is required")
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate agent %q", a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range c.Agents {
		for _, target := range a.Handoffs {
			if !names[target] && target != "main" {
				return fmt.Errorf("agent %q hands off to unknown agent %q", a.Name, target)
			}
		}
	}

	servers := map[string]bool{}
	for _, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("mcp server needs a name and a command")
		}
		if servers[s.Name] {
			return fmt.Errorf("duplicate mcp server %q", s.Name)
		}
		servers[s.Name] = true
	}
	return nil
}
